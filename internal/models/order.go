package models

import "time"

// Order представляет запись об ордере, привязанном к задаче
//
// Ордера - постоянный журнал: создаются движком решений, после этого
// меняются только статус и комиссии (реконсилятором), никогда не удаляются.
type Order struct {
	ID         int     `json:"id" db:"id"`
	TaskID     string  `json:"task_id" db:"task_id"`
	TaskBindID string  `json:"task_bind_id" db:"task_bind_id"` // общий для ног одного пересечения
	Symbol     string  `json:"symbol" db:"symbol"`
	Side       string  `json:"side" db:"side"` // BUY, SELL
	Price      float64 `json:"price" db:"price"`
	OrigQty    float64 `json:"orig_qty" db:"orig_qty"`
	OrderID    string  `json:"order_id" db:"order_id"`       // идентификатор на бирже
	Status     string  `json:"status" db:"status"`           // NEW, FILLED, CANCELED, EXPIRED, REJECTED
	SynthPrice float64 `json:"synth_price" db:"synth_price"` // кросс-курс, вызвавший ордер

	Fee      float64 `json:"fee" db:"fee"` // комиссия, известна после исполнения
	FeeAsset string  `json:"fee_asset" db:"fee_asset"`

	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdateTime time.Time `json:"update_time" db:"update_time"`
}

// Стороны ордера
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Статусы ордера
const (
	OrderStatusNew      = "NEW"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
	OrderStatusExpired  = "EXPIRED"
	OrderStatusRejected = "REJECTED"
)

// IsTerminalOrderStatus возвращает true для статусов, после которых
// ордер больше не отслеживается реконсилятором
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OppositeSide возвращает противоположную сторону ордера
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}
