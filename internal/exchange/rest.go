package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"gridbot/pkg/ratelimit"
	"gridbot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultBaseURL = "https://fapi.binance.com"
	recvWindow     = "5000"

	// Коды отклонения venue, которые ядро обязано различать
	codeWouldMatch = -5022 // post-only ордер исполнился бы немедленно
	codeGTXReject  = -2021 // Order would immediately match and take
)

// RESTExecutor - клиент REST API фьючерсной биржи
//
// Покрывает только операции, которые вызывает торговое ядро: цены,
// позиции, лимитные ордера. Подпись запросов HMAC-SHA256, все вызовы
// проходят через общий rate limiter и пул соединений.
type RESTExecutor struct {
	baseURL   string
	apiKey    string
	secretKey string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	logger     *zap.Logger

	filtersMu sync.Mutex
	filters   map[string]symbolFilter
}

// symbolFilter - шаги объема и цены символа из exchangeInfo
type symbolFilter struct {
	lotSize  float64
	tickSize float64
}

// NewRESTExecutor создает клиент биржи
func NewRESTExecutor(baseURL, apiKey, secretKey string, rate float64, burst int, logger *zap.Logger) *RESTExecutor {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &RESTExecutor{
		baseURL:    baseURL,
		apiKey:     apiKey,
		secretKey:  secretKey,
		httpClient: GetGlobalHTTPClient(),
		limiter:    ratelimit.NewRateLimiter(rate, float64(burst)),
		logger:     logger,
		filters:    make(map[string]symbolFilter),
	}
}

// sign подписывает строку параметров HMAC-SHA256
func (e *RESTExecutor) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// apiError - тело ошибки venue
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// doRequest выполняет запрос, классифицируя сбои по таксономии ядра
func (e *RESTExecutor) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", recvWindow)
		params.Set("signature", e.sign(params.Encode()))
	}

	reqURL := e.baseURL + endpoint
	var body io.Reader
	if method == http.MethodGet {
		if encoded := params.Encode(); encoded != "" {
			reqURL += "?" + encoded
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if e.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		// Сетевой сбой: повтор уместен
		return nil, &RejectionError{Code: CodeTransient, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RejectionError{Code: CodeTransient, Message: err.Error(), Err: err}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RejectionError{
			Code:    CodeTransient,
			Message: fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(data)),
		}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if jerr := json.Unmarshal(data, &apiErr); jerr == nil && apiErr.Code != 0 {
			return nil, mapAPIError(apiErr)
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(data))
	}

	return data, nil
}

// mapAPIError переводит коды venue в таксономию ядра
func mapAPIError(e apiError) error {
	switch e.Code {
	case codeWouldMatch, codeGTXReject:
		return &RejectionError{Code: CodePostOnlyWouldMatch, Message: e.Message}
	default:
		return &RejectionError{Code: strconv.Itoa(e.Code), Message: e.Message}
	}
}

func truncate(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// exchangeInfoResponse - фильтры символов из /fapi/v1/exchangeInfo
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// filterFor возвращает шаги объема и цены символа
//
// Фильтры запрашиваются у биржи один раз и кэшируются на все время
// жизни клиента. Если exchangeInfo недоступен, возвращается нулевой
// фильтр: округление превращается в no-op, ордер уходит как есть.
func (e *RESTExecutor) filterFor(ctx context.Context, symbol string) symbolFilter {
	e.filtersMu.Lock()
	if f, ok := e.filters[symbol]; ok {
		e.filtersMu.Unlock()
		return f
	}
	e.filtersMu.Unlock()

	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", params, false)
	if err != nil {
		e.logger.Warn("exchange info unavailable, order values sent unrounded",
			zap.String("symbol", symbol), zap.Error(err))
		return symbolFilter{}
	}

	var resp exchangeInfoResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		e.logger.Warn("exchange info parse failed",
			zap.String("symbol", symbol), zap.Error(err))
		return symbolFilter{}
	}

	var f symbolFilter
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "LOT_SIZE":
				f.lotSize, _ = strconv.ParseFloat(flt.StepSize, 64)
			case "PRICE_FILTER":
				f.tickSize, _ = strconv.ParseFloat(flt.TickSize, 64)
			}
		}
	}

	e.filtersMu.Lock()
	e.filters[symbol] = f
	e.filtersMu.Unlock()
	return f
}

// priceResponse - ответ тикера последней цены
type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice возвращает цену последней сделки
func (e *RESTExecutor) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	data, err := e.doRequest(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var resp priceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("parse price: %w", err)
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("get price %s: %w", symbol, ErrNoPrice)
	}
	return price, nil
}

// positionResponse - одна запись positionRisk
type positionResponse struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
}

// GetPosition возвращает нетто-позицию по символу
func (e *RESTExecutor) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	data, err := e.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, err
	}

	var positions []positionResponse
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}
		qty, _ := strconv.ParseFloat(p.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		return &Position{Symbol: symbol, Quantity: qty, EntryPrice: entry}, nil
	}

	// Позиции нет - флэт
	return &Position{Symbol: symbol}, nil
}

// orderResponse - ответ операций с ордерами
type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Status      string `json:"status"`
	UpdateTime  int64  `json:"updateTime"`
}

func (r *orderResponse) toOrder() *Order {
	price, _ := strconv.ParseFloat(r.Price, 64)
	origQty, _ := strconv.ParseFloat(r.OrigQty, 64)
	filled, _ := strconv.ParseFloat(r.ExecutedQty, 64)

	status := r.Status
	if status == "PARTIALLY_FILLED" {
		// Частичное исполнение для ядра - все еще открытый ордер
		status = "NEW"
	}

	return &Order{
		OrderID:    strconv.FormatInt(r.OrderID, 10),
		Symbol:     r.Symbol,
		Side:       r.Side,
		Price:      price,
		OrigQty:    origQty,
		FilledQty:  filled,
		Status:     status,
		UpdateTime: time.UnixMilli(r.UpdateTime),
	}
}

// PlaceOrder размещает лимитный ордер
// postOnly транслируется в timeInForce GTX (maker-only)
func (e *RESTExecutor) PlaceOrder(ctx context.Context, req PlaceRequest) (*Order, error) {
	f := e.filterFor(ctx, req.Symbol)

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", "LIMIT")
	params.Set("quantity", formatFloat(utils.RoundToLotSize(req.Qty, f.lotSize)))
	params.Set("price", formatFloat(utils.RoundToTickSize(req.Price, f.tickSize)))
	if req.PostOnly {
		params.Set("timeInForce", "GTX")
	} else {
		params.Set("timeInForce", "GTC")
	}

	data, err := e.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}

	e.logger.Debug("order placed",
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side),
		zap.String("order_id", strconv.FormatInt(resp.OrderID, 10)))
	return resp.toOrder(), nil
}

// ModifyOrder передвигает цену открытого ордера
func (e *RESTExecutor) ModifyOrder(ctx context.Context, symbol, side, orderID string, qty, price float64) (*Order, error) {
	f := e.filterFor(ctx, symbol)

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("orderId", orderID)
	params.Set("quantity", formatFloat(utils.RoundToLotSize(qty, f.lotSize)))
	params.Set("price", formatFloat(utils.RoundToTickSize(price, f.tickSize)))

	data, err := e.doRequest(ctx, http.MethodPut, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return resp.toOrder(), nil
}

// GetOrder возвращает актуальное состояние ордера
func (e *RESTExecutor) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	data, err := e.doRequest(ctx, http.MethodGet, "/fapi/v1/order", params, true)
	if err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) && rej.Code == "-2013" {
			return nil, fmt.Errorf("get order %s: %w", orderID, ErrOrderNotFound)
		}
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return resp.toOrder(), nil
}

// formatFloat печатает число без экспоненты и лишних нулей
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
