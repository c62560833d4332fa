package exchange

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"go.uber.org/zap"
)

const exchangeInfoBody = `{"symbols":[{"symbol":"BTCUSDT","filters":[
	{"filterType":"PRICE_FILTER","tickSize":"0.10"},
	{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`

const orderBody = `{"orderId":42,"symbol":"BTCUSDT","side":"BUY",
	"price":"99.10","origQty":"0.123","executedQty":"0","status":"NEW","updateTime":1700000000000}`

// venueStub поднимает стаб биржи и собирает параметры входящих запросов
type venueStub struct {
	server *httptest.Server

	mu        sync.Mutex
	infoCalls int
	orders    []url.Values
}

func newVenueStub(t *testing.T, infoStatus int) *venueStub {
	t.Helper()
	stub := &venueStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			stub.mu.Lock()
			stub.infoCalls++
			stub.mu.Unlock()
			if infoStatus != http.StatusOK {
				w.WriteHeader(infoStatus)
				return
			}
			w.Write([]byte(exchangeInfoBody))
		case "/fapi/v1/order":
			_ = r.ParseForm()
			stub.mu.Lock()
			stub.orders = append(stub.orders, r.PostForm)
			stub.mu.Unlock()
			w.Write([]byte(orderBody))
		default:
			t.Errorf("unexpected request path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *venueStub) orderParams() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *venueStub) infoCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoCalls
}

func paramFloat(t *testing.T, params url.Values, key string) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(params.Get(key), 64)
	if err != nil {
		t.Fatalf("param %s = %q, not a number: %v", key, params.Get(key), err)
	}
	return v
}

func closeTo(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestPlaceOrderRoundsToSymbolFilters(t *testing.T) {
	stub := newVenueStub(t, http.StatusOK)
	exec := NewRESTExecutor(stub.server.URL, "key", "secret", 1000, 1000, zap.NewNop())

	_, err := exec.PlaceOrder(context.Background(), PlaceRequest{
		Symbol: "BTCUSDT", Side: "BUY",
		Qty: 0.12345, Price: 99.17,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	orders := stub.orderParams()
	if len(orders) != 1 {
		t.Fatalf("order requests = %d, want 1", len(orders))
	}
	if got := paramFloat(t, orders[0], "quantity"); !closeTo(got, 0.123) {
		t.Errorf("quantity = %v, want 0.123 (lot size 0.001, rounded down)", got)
	}
	if got := paramFloat(t, orders[0], "price"); !closeTo(got, 99.2) {
		t.Errorf("price = %v, want 99.2 (tick size 0.10)", got)
	}
}

func TestModifyOrderRoundsToSymbolFilters(t *testing.T) {
	stub := newVenueStub(t, http.StatusOK)
	exec := NewRESTExecutor(stub.server.URL, "key", "secret", 1000, 1000, zap.NewNop())

	_, err := exec.ModifyOrder(context.Background(), "BTCUSDT", "BUY", "42", 0.9999, 100.04)
	if err != nil {
		t.Fatalf("ModifyOrder failed: %v", err)
	}

	orders := stub.orderParams()
	if len(orders) != 1 {
		t.Fatalf("order requests = %d, want 1", len(orders))
	}
	if got := paramFloat(t, orders[0], "quantity"); !closeTo(got, 0.999) {
		t.Errorf("quantity = %v, want 0.999", got)
	}
	if got := paramFloat(t, orders[0], "price"); !closeTo(got, 100) {
		t.Errorf("price = %v, want 100", got)
	}
}

func TestSymbolFiltersAreCached(t *testing.T) {
	stub := newVenueStub(t, http.StatusOK)
	exec := NewRESTExecutor(stub.server.URL, "key", "secret", 1000, 1000, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := exec.PlaceOrder(context.Background(), PlaceRequest{
			Symbol: "BTCUSDT", Side: "BUY", Qty: 1, Price: 100,
		}); err != nil {
			t.Fatalf("PlaceOrder failed: %v", err)
		}
	}

	if got := stub.infoCallCount(); got != 1 {
		t.Errorf("exchangeInfo calls = %d, want 1: filters must be cached", got)
	}
}

func TestPlaceOrderSurvivesMissingExchangeInfo(t *testing.T) {
	stub := newVenueStub(t, http.StatusServiceUnavailable)
	exec := NewRESTExecutor(stub.server.URL, "key", "secret", 1000, 1000, zap.NewNop())

	_, err := exec.PlaceOrder(context.Background(), PlaceRequest{
		Symbol: "BTCUSDT", Side: "BUY",
		Qty: 0.12345, Price: 99.17,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	// Фильтры недоступны: значения уходят без округления
	orders := stub.orderParams()
	if got := paramFloat(t, orders[0], "quantity"); !closeTo(got, 0.12345) {
		t.Errorf("quantity = %v, want raw 0.12345", got)
	}
	if got := paramFloat(t, orders[0], "price"); !closeTo(got, 99.17) {
		t.Errorf("price = %v, want raw 99.17", got)
	}
}
