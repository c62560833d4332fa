package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridbot/pkg/ratelimit"
)

// PaperExchange - симулятор биржи для dry-run режима и тестов
//
// Хранит цены, позиции и ордера в памяти. Post-only ордера отклоняются,
// если на текущей цене они исполнились бы немедленно. Исполнение
// моделируется вызовом MatchAt: все лимитные ордера, цена которых
// пересечена, переводятся в FILLED и двигают позицию.
type PaperExchange struct {
	mu        sync.Mutex
	prices    map[string]float64
	positions map[string]*Position
	orders    map[string]*Order
	limiter   *ratelimit.RateLimiter
	feeRate   float64
	now       func() time.Time
}

// NewPaperExchange создает симулятор с лимитом запросов как у реальной биржи
func NewPaperExchange(rate float64, burst int) *PaperExchange {
	return &PaperExchange{
		prices:    make(map[string]float64),
		positions: make(map[string]*Position),
		orders:    make(map[string]*Order),
		limiter:   ratelimit.NewRateLimiter(rate, float64(burst)),
		feeRate:   0.0002, // maker комиссия 0.02%
		now:       time.Now,
	}
}

// SetPrice устанавливает текущую цену символа
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetPosition устанавливает позицию символа (для инициализации сценариев)
func (p *PaperExchange) SetPosition(symbol string, qty, entryPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[symbol] = &Position{Symbol: symbol, Quantity: qty, EntryPrice: entryPrice}
}

// GetPrice возвращает последнюю установленную цену
func (p *PaperExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("get price %s: %w", symbol, ErrNoPrice)
	}
	return price, nil
}

// GetPosition возвращает нетто-позицию по символу (флэт, если позиции нет)
func (p *PaperExchange) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return &Position{Symbol: symbol}, nil
	}
	cp := *pos
	return &cp, nil
}

// PlaceOrder размещает лимитный ордер в симуляторе
func (p *PaperExchange) PlaceOrder(ctx context.Context, req PlaceRequest) (*Order, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if req.Qty <= 0 {
		return nil, NewRejection(CodeInsufficientBalance, "quantity must be positive")
	}
	if req.Price <= 0 {
		return nil, fmt.Errorf("place order %s: price must be positive", req.Symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.PostOnly {
		if last, ok := p.prices[req.Symbol]; ok && wouldMatch(req.Side, req.Price, last) {
			return nil, NewRejection(CodePostOnlyWouldMatch,
				fmt.Sprintf("%s %s @ %.8f crosses last price %.8f", req.Side, req.Symbol, req.Price, last))
		}
	}

	order := &Order{
		OrderID:    uuid.NewString(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Price:      req.Price,
		OrigQty:    req.Qty,
		Status:     "NEW",
		UpdateTime: p.now(),
	}
	p.orders[order.OrderID] = order

	cp := *order
	return &cp, nil
}

// ModifyOrder передвигает цену открытого ордера
func (p *PaperExchange) ModifyOrder(ctx context.Context, symbol, side, orderID string, qty, price float64) (*Order, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok || order.Symbol != symbol {
		return nil, fmt.Errorf("modify order %s: %w", orderID, ErrOrderNotFound)
	}
	if order.Status != "NEW" {
		// Биржи отклоняют amend терминального ордера; гонка с исполнением
		// выглядит для вызывающего как потеря post-only
		return nil, NewRejection(CodePostOnlyWouldMatch,
			fmt.Sprintf("order %s already %s", orderID, order.Status))
	}

	order.Price = price
	if qty > 0 {
		order.OrigQty = qty
	}
	order.UpdateTime = p.now()

	cp := *order
	return &cp, nil
}

// GetOrder возвращает состояние ордера
func (p *PaperExchange) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok || order.Symbol != symbol {
		return nil, fmt.Errorf("get order %s: %w", orderID, ErrOrderNotFound)
	}
	cp := *order
	return &cp, nil
}

// MatchAt двигает цену символа и исполняет все пересеченные ордера
// Возвращает количество исполненных ордеров
func (p *PaperExchange) MatchAt(symbol string, price float64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[symbol] = price

	filled := 0
	for _, order := range p.orders {
		if order.Symbol != symbol || order.Status != "NEW" {
			continue
		}
		if !wouldMatch(order.Side, order.Price, price) {
			continue
		}
		order.Status = "FILLED"
		order.FilledQty = order.OrigQty
		order.Fee = order.OrigQty * order.Price * p.feeRate
		order.FeeAsset = "USDT"
		order.UpdateTime = p.now()
		p.applyFill(order)
		filled++
	}
	return filled
}

// applyFill обновляет позицию после исполнения; вызывается под мьютексом
func (p *PaperExchange) applyFill(order *Order) {
	pos, ok := p.positions[order.Symbol]
	if !ok {
		pos = &Position{Symbol: order.Symbol}
		p.positions[order.Symbol] = pos
	}

	delta := order.FilledQty
	if order.Side == "SELL" {
		delta = -delta
	}

	newQty := pos.Quantity + delta
	switch {
	case pos.Quantity == 0 || sameSign(pos.Quantity, newQty) && absQty(newQty) > absQty(pos.Quantity):
		// наращивание позиции: усредняем цену входа
		total := absQty(pos.Quantity)*pos.EntryPrice + order.FilledQty*order.Price
		pos.EntryPrice = total / (absQty(pos.Quantity) + order.FilledQty)
	case newQty == 0:
		pos.EntryPrice = 0
	case !sameSign(pos.Quantity, newQty):
		// разворот: остаток открыт по цене сделки
		pos.EntryPrice = order.Price
	}
	pos.Quantity = newQty
}

func wouldMatch(side string, orderPrice, marketPrice float64) bool {
	if side == "BUY" {
		return marketPrice <= orderPrice
	}
	return marketPrice >= orderPrice
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func absQty(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
