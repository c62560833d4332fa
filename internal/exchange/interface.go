// Package exchange определяет границу исполнителя ордеров:
// операции с ценами, позициями и лимитными ордерами одной биржи.
package exchange

import (
	"context"
	"time"
)

// Executor определяет операции биржи, которые вызывает торговое ядро
//
// Транспортные детали (подпись HTTP запросов, фрейминг WebSocket)
// остаются за конкретной реализацией; ядро зависит только от этого
// интерфейса. Все вызовы обязаны уважать deadline контекста.
type Executor interface {
	// GetPrice возвращает текущую цену последней сделки по символу
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// GetPosition возвращает нетто-позицию по символу
	// Quantity < 0 означает шорт, 0 - флэт
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// PlaceOrder размещает лимитный ордер
	// postOnly=true означает maker-only: биржа отклоняет ордер, который
	// исполнился бы немедленно (код RejectPostOnly)
	PlaceOrder(ctx context.Context, req PlaceRequest) (*Order, error)

	// ModifyOrder передвигает цену существующего ордера
	ModifyOrder(ctx context.Context, symbol, side, orderID string, qty, price float64) (*Order, error)

	// GetOrder возвращает актуальное состояние ордера
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)
}

// PlaceRequest - параметры размещения ордера
type PlaceRequest struct {
	Symbol   string
	Side     string // BUY, SELL
	Qty      float64
	Price    float64
	PostOnly bool // maker-only ограничение цены
}

// Order представляет ордер на бирже
type Order struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Price      float64   `json:"price"`
	OrigQty    float64   `json:"orig_qty"`
	FilledQty  float64   `json:"filled_qty"`
	Status     string    `json:"status"` // NEW, FILLED, CANCELED, EXPIRED, REJECTED
	Fee        float64   `json:"fee"`
	FeeAsset   string    `json:"fee_asset"`
	UpdateTime time.Time `json:"update_time"`
}

// RemainingQty возвращает неисполненный остаток ордера
func (o *Order) RemainingQty() float64 {
	rem := o.OrigQty - o.FilledQty
	if rem < 0 {
		return 0
	}
	return rem
}

// Position представляет открытую позицию
type Position struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`    // отрицательное значение = шорт
	EntryPrice float64 `json:"entry_price"` // средняя цена входа
}
