package models

import "time"

// GridTask представляет одну настроенную сеточную стратегию
//
// Задача торгует либо один актив против стабильной валюты (Doubled=false),
// либо синтетический курс двух активов base/quote (Doubled=true).
type GridTask struct {
	ID         string   `json:"id" db:"id"`
	BaseAsset  string   `json:"base_asset" db:"base_asset"`             // BTC
	QuoteAsset string   `json:"quote_asset" db:"quote_asset"`           // ETH или USDT
	Doubled    bool     `json:"doubled" db:"doubled"`                   // true = две ноги через кросс-курс
	Reversed   bool     `json:"reversed" db:"reversed"`                 // true = разрешён переворот позиции через ноль
	StartPrice *float64 `json:"start_price,omitempty" db:"start_price"` // порог активации (ждём просадку ниже)
	GridRate   float64  `json:"grid_rate" db:"grid_rate"`               // полуширина коридора, 0.005 = 0.5%
	GridValue  float64  `json:"grid_value" db:"grid_value"`             // объём одной ноги в валюте котировки

	Status  string       `json:"status" db:"status"`           // PENDING, RUNNING, EXPIRED
	Reason  string       `json:"reason,omitempty" db:"reason"` // причина при EXPIRED
	Runtime *GridRuntime `json:"runtime,omitempty"`            // отсутствует пока PENDING

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// GridRuntime - runtime состояние запущенной задачи
//
// Инвариант: после любого успешного сдвига коридора выполняется
// BuyPrice < LastTradePrice < SellPrice.
type GridRuntime struct {
	BaseQty        float64 `json:"base_qty"`         // объём базовой ноги в монетах
	QuoteQty       float64 `json:"quote_qty"`        // объём котируемой ноги (для doubled)
	BuyPrice       float64 `json:"buy_price"`        // нижняя граница коридора
	SellPrice      float64 `json:"sell_price"`       // верхняя граница коридора
	LastTradePrice float64 `json:"last_trade_price"` // цена последнего пересечения (якорь)
}

// Статусы задачи
const (
	TaskStatusPending = "PENDING" // ожидание условий активации
	TaskStatusRunning = "RUNNING" // коридор установлен, задача торгуется
	TaskStatusExpired = "EXPIRED" // терминальный статус, требуется оператор
)

// stableQuote - стабильная валюта, против которой котируются обе ноги
const stableQuote = "USDT"

// BaseSymbol возвращает торговый символ базовой ноги
func (t *GridTask) BaseSymbol() string {
	return t.BaseAsset + stableQuote
}

// QuoteSymbol возвращает торговый символ котируемой ноги (для doubled задач)
func (t *GridTask) QuoteSymbol() string {
	return t.QuoteAsset + stableQuote
}

// Clone возвращает глубокую копию задачи, включая runtime.
// Копия позволяет мутировать задачу в одной горутине, пока другие
// читают исходный экземпляр.
func (t *GridTask) Clone() *GridTask {
	cp := *t
	if t.StartPrice != nil {
		sp := *t.StartPrice
		cp.StartPrice = &sp
	}
	if t.Runtime != nil {
		rt := *t.Runtime
		cp.Runtime = &rt
	}
	return &cp
}

// Symbols возвращает все символы, на которые задача подписывается в фиде
func (t *GridTask) Symbols() []string {
	if t.Doubled {
		return []string{t.BaseSymbol(), t.QuoteSymbol()}
	}
	return []string{t.BaseSymbol()}
}
