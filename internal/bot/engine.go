// Package bot содержит торговое ядро: решающий движок коридорной
// стратегии, планировщик тиков и реконсилятор незакрытых ордеров.
package bot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridbot/internal/exchange"
	"gridbot/internal/feed"
	"gridbot/internal/models"
	"gridbot/pkg/retry"
	"gridbot/pkg/utils"
)

// OrderStore - журнал ордеров (append-only, обновляется только статус)
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
}

// NotificationStore - хранилище уведомлений для оператора
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// QuoteReader - снимок последних лучших bid/ask по символу
// Реализуется менеджером подписок фида
type QuoteReader interface {
	BestQuote(symbol string) (feed.Quote, bool)
}

// ============================================================================
// Решающий движок
// ============================================================================

// Engine принимает решения по одной задаче за тик: активация PENDING
// задач и обработка пересечений коридора для RUNNING задач
//
// Движок не владеет списком задач и не управляет подписками - это
// делает планировщик. Движок только читает котировки, ходит на биржу
// и мутирует runtime задачи.
type Engine struct {
	executor      exchange.Executor
	quotes        QuoteReader
	orders        OrderStore
	notifications NotificationStore
	logger        *zap.Logger

	orderTimeout   time.Duration
	placementRetry int
	idleMultiplier float64
}

// NewEngine создает решающий движок
func NewEngine(
	executor exchange.Executor,
	quotes QuoteReader,
	orders OrderStore,
	notifications NotificationStore,
	orderTimeout time.Duration,
	placementRetry int,
	idleMultiplier float64,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		executor:       executor,
		quotes:         quotes,
		orders:         orders,
		notifications:  notifications,
		logger:         logger,
		orderTimeout:   orderTimeout,
		placementRetry: placementRetry,
		idleMultiplier: idleMultiplier,
	}
}

// TryActivate пытается перевести PENDING задачу в RUNNING
//
// Синтетическая цена = base/quote для doubled задач, иначе цена базового
// актива. Если startPrice задан, активация требует цену строго ниже
// порога. Недоступность цены - отложенный исход, не сбой.
func (e *Engine) TryActivate(ctx context.Context, task *models.GridTask) error {
	basePrice, err := e.fetchPrice(ctx, task.BaseSymbol())
	if err != nil {
		return Deferredf("not activated: no price for %s yet", task.BaseSymbol())
	}

	price := basePrice
	quotePrice := 0.0
	if task.Doubled {
		quotePrice, err = e.fetchPrice(ctx, task.QuoteSymbol())
		if err != nil {
			return Deferredf("not activated: no price for %s yet", task.QuoteSymbol())
		}
		price = utils.SyntheticPrice(basePrice, quotePrice)
		if price <= 0 {
			return Deferredf("not activated: synthetic price unavailable")
		}
	}

	if task.StartPrice != nil && price >= *task.StartPrice {
		return Deferredf("waiting for dip below %.8f, current %.8f", *task.StartPrice, price)
	}

	// Объем каждой ноги считается по цене ее собственного символа,
	// чтобы получить количество в монетах этой ноги
	rt := &models.GridRuntime{
		BaseQty:        utils.LegQuantity(task.GridValue, basePrice),
		LastTradePrice: price,
	}
	if task.Doubled {
		rt.QuoteQty = utils.LegQuantity(task.GridValue, quotePrice)
	}
	rt.BuyPrice, rt.SellPrice = utils.GridBand(price, task.GridRate)

	if err := Activate(task, rt); err != nil {
		return FatalWrap("activation failed", err)
	}

	e.logger.Info("task activated",
		zap.String("task_id", task.ID),
		zap.Float64("price", price),
		zap.Float64("buy_price", rt.BuyPrice),
		zap.Float64("sell_price", rt.SellPrice))
	return nil
}

// Evaluate обрабатывает один тик RUNNING задачи
//
// Возвращает размещенные ордера и множитель задержки следующего тика:
// idleMultiplier когда цена внутри коридора, 1 после пересечения.
// Консервативный синтетический bid/ask берет противоположную сторону
// котировки второй ноги, чтобы спред не давал ложных срабатываний.
func (e *Engine) Evaluate(ctx context.Context, task *models.GridTask) ([]*models.Order, float64, error) {
	rt := task.Runtime
	if rt == nil {
		return nil, 1, Fatalf("running task %s has no runtime state", task.ID)
	}

	baseQ, ok := e.quotes.BestQuote(task.BaseSymbol())
	if !ok {
		return nil, 1, Deferredf("no quote for %s yet", task.BaseSymbol())
	}
	RecordQuoteAge(baseQ.Symbol, time.Since(baseQ.UpdatedAt))

	curBid, curAsk := baseQ.Bid, baseQ.Ask
	if task.Doubled {
		quoteQ, ok := e.quotes.BestQuote(task.QuoteSymbol())
		if !ok {
			return nil, 1, Deferredf("no quote for %s yet", task.QuoteSymbol())
		}
		RecordQuoteAge(quoteQ.Symbol, time.Since(quoteQ.UpdatedAt))
		curBid = utils.SyntheticPrice(baseQ.Bid, quoteQ.Ask)
		curAsk = utils.SyntheticPrice(baseQ.Ask, quoteQ.Bid)
		if curBid <= 0 || curAsk <= 0 {
			return nil, 1, Deferredf("synthetic quote unavailable for task %s", task.ID)
		}

		return e.evaluateAt(ctx, task, curBid, curAsk, baseQ, quoteQ)
	}

	return e.evaluateAt(ctx, task, curBid, curAsk, baseQ, feed.Quote{})
}

// evaluateAt решает, есть ли пересечение при данных ценах
func (e *Engine) evaluateAt(ctx context.Context, task *models.GridTask, curBid, curAsk float64, baseQ, quoteQ feed.Quote) ([]*models.Order, float64, error) {
	rt := task.Runtime

	// Цена внутри коридора: действий нет, тик можно замедлить
	if curBid > rt.BuyPrice && curAsk < rt.SellPrice {
		return nil, e.idleMultiplier, nil
	}

	if curBid < rt.BuyPrice {
		orders, err := e.buyEvent(ctx, task, curBid, baseQ, quoteQ)
		return orders, 1, err
	}

	// Остается только верхнее пересечение: curAsk > sellPrice
	orders, err := e.sellEvent(ctx, task, curAsk, baseQ, quoteQ)
	return orders, 1, err
}

// buyEvent обрабатывает нижнее пересечение коридора
//
// Для не-reversed задач покупка не должна переводить короткую позицию
// в длинную: покрытие шорта разрешено, открытие лонга сверх нуля - нет.
func (e *Engine) buyEvent(ctx context.Context, task *models.GridTask, trigger float64, baseQ, quoteQ feed.Quote) ([]*models.Order, error) {
	rt := task.Runtime

	if !task.Reversed {
		pos, err := e.fetchPosition(ctx, task.BaseSymbol())
		if err != nil {
			return nil, Deferredf("position check failed for %s: %v", task.BaseSymbol(), err)
		}
		if utils.WouldFlipLong(pos.Quantity, rt.BaseQty) {
			return nil, Fatalf("insufficient position: short %.8f cannot absorb buy %.8f",
				utils.Abs(pos.Quantity), rt.BaseQty)
		}
	}

	RecordCrossingEvent(models.SideBuy)

	bindID := uuid.NewString()
	legs := []legSpec{{
		symbol: task.BaseSymbol(),
		side:   models.SideBuy,
		qty:    rt.BaseQty,
		price:  baseQ.Bid,
	}}
	if task.Doubled {
		// Вторая нога зеркальна: покупка кросс-курса = продажа знаменателя
		legs = append(legs, legSpec{
			symbol: task.QuoteSymbol(),
			side:   models.SideSell,
			qty:    rt.QuoteQty,
			price:  quoteQ.Ask,
		})
	}

	orders, err := e.placeLegs(ctx, task, bindID, trigger, legs)
	if err != nil {
		return nil, err
	}

	e.reanchor(task, trigger)
	return orders, nil
}

// sellEvent обрабатывает верхнее пересечение коридора
func (e *Engine) sellEvent(ctx context.Context, task *models.GridTask, trigger float64, baseQ, quoteQ feed.Quote) ([]*models.Order, error) {
	rt := task.Runtime

	if !task.Reversed {
		pos, err := e.fetchPosition(ctx, task.BaseSymbol())
		if err != nil {
			return nil, Deferredf("position check failed for %s: %v", task.BaseSymbol(), err)
		}
		if utils.WouldFlipShort(pos.Quantity, rt.BaseQty) {
			return nil, Fatalf("insufficient position: long %.8f cannot absorb sell %.8f",
				pos.Quantity, rt.BaseQty)
		}
	}

	RecordCrossingEvent(models.SideSell)

	bindID := uuid.NewString()
	legs := []legSpec{{
		symbol: task.BaseSymbol(),
		side:   models.SideSell,
		qty:    rt.BaseQty,
		price:  baseQ.Ask,
	}}
	if task.Doubled {
		legs = append(legs, legSpec{
			symbol: task.QuoteSymbol(),
			side:   models.SideBuy,
			qty:    rt.QuoteQty,
			price:  quoteQ.Bid,
		})
	}

	orders, err := e.placeLegs(ctx, task, bindID, trigger, legs)
	if err != nil {
		return nil, err
	}

	e.reanchor(task, trigger)
	return orders, nil
}

// legSpec - параметры одной ноги пересечения
type legSpec struct {
	symbol string
	side   string
	qty    float64
	price  float64
}

// placeLegs размещает ноги пересечения по порядку
//
// Если вторая нога не открылась, первая закрывается компенсирующим
// ордером, оператору отправляется SECOND_LEG_FAIL, задача уходит
// в EXPIRED. Частично открытое пересечение не оставляется молча.
func (e *Engine) placeLegs(ctx context.Context, task *models.GridTask, bindID string, trigger float64, legs []legSpec) ([]*models.Order, error) {
	placed := make([]*models.Order, 0, len(legs))

	for i, leg := range legs {
		ord, err := e.placeLeg(ctx, exchange.PlaceRequest{
			Symbol: leg.symbol,
			Side:   leg.side,
			Qty:    leg.qty,
			Price:  leg.price,
		})
		if err != nil {
			if i > 0 {
				e.compensate(ctx, task, placed[0])
			}
			return nil, FatalWrap("order placement failed", err)
		}

		record := &models.Order{
			TaskID:     task.ID,
			TaskBindID: bindID,
			Symbol:     ord.Symbol,
			Side:       ord.Side,
			Price:      ord.Price,
			OrigQty:    ord.OrigQty,
			OrderID:    ord.OrderID,
			Status:     ord.Status,
			SynthPrice: trigger,
			CreatedAt:  time.Now(),
			UpdateTime: ord.UpdateTime,
		}
		if err := e.orders.Create(ctx, record); err != nil {
			// Журнал отстает от биржи; ордер уже живет и будет
			// отслеживаться реконсилятором по памяти
			e.logger.Error("order persist failed",
				zap.String("task_id", task.ID),
				zap.String("order_id", ord.OrderID),
				zap.Error(err))
		}

		RecordOrderPlaced(ord.Side)
		placed = append(placed, record)

		e.logger.Info("order placed",
			zap.String("task_id", task.ID),
			zap.String("bind_id", bindID),
			zap.String("symbol", ord.Symbol),
			zap.String("side", ord.Side),
			zap.Float64("price", ord.Price),
			zap.Float64("qty", ord.OrigQty),
			zap.Float64("synth_price", trigger))
	}

	return placed, nil
}

// placeLeg размещает один ордер с ретраями согласно таксономии:
// отказ post-only повторяется без ценового ограничения, временный
// сетевой сбой повторяется один раз
func (e *Engine) placeLeg(ctx context.Context, req exchange.PlaceRequest) (*exchange.Order, error) {
	req.PostOnly = true

	cfg := retry.PlacementConfig()
	if e.placementRetry > 0 {
		cfg.MaxAttempts = e.placementRetry
	}
	cfg.RetryIf = exchange.IsTransient
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.logger.Warn("placement retry",
			zap.String("symbol", req.Symbol),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	ord, err := retry.DoWithResult(callCtx, func() (*exchange.Order, error) {
		return e.executor.PlaceOrder(callCtx, req)
	}, cfg)

	if err != nil && exchange.IsPostOnlyReject(err) {
		e.logger.Info("post-only rejected, replacing without price constraint",
			zap.String("symbol", req.Symbol),
			zap.Float64("price", req.Price))
		req.PostOnly = false
		ord, err = e.executor.PlaceOrder(callCtx, req)
	}
	return ord, err
}

// compensate закрывает одиночную ногу после сбоя второй
// Лучшая попытка: ошибка компенсации только логируется, задача
// в любом случае уходит в EXPIRED
func (e *Engine) compensate(ctx context.Context, task *models.GridTask, first *models.Order) {
	closeReq := exchange.PlaceRequest{
		Symbol: first.Symbol,
		Side:   models.OppositeSide(first.Side),
		Qty:    first.OrigQty,
		Price:  first.Price,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	ord, err := e.executor.PlaceOrder(callCtx, closeReq)
	if err != nil {
		e.logger.Error("compensating order failed, one-leg exposure remains",
			zap.String("task_id", task.ID),
			zap.String("symbol", first.Symbol),
			zap.Error(err))
		e.notify(ctx, models.NotificationTypeSecondLegFail, models.SeverityError, task.ID,
			"second leg failed and compensation failed, manual intervention required")
		return
	}

	// Компенсирующий ордер живет под собственным bindId:
	// он закрывает событие, а не образует его вторую ногу
	record := &models.Order{
		TaskID:     task.ID,
		TaskBindID: uuid.NewString(),
		Symbol:     ord.Symbol,
		Side:       ord.Side,
		Price:      ord.Price,
		OrigQty:    ord.OrigQty,
		OrderID:    ord.OrderID,
		Status:     ord.Status,
		SynthPrice: task.Runtime.LastTradePrice,
		CreatedAt:  time.Now(),
		UpdateTime: ord.UpdateTime,
	}
	if err := e.orders.Create(ctx, record); err != nil {
		e.logger.Error("compensating order persist failed",
			zap.String("order_id", ord.OrderID), zap.Error(err))
	}

	e.logger.Warn("second leg failed, first leg closed",
		zap.String("task_id", task.ID),
		zap.String("closed_symbol", first.Symbol),
		zap.String("close_order_id", ord.OrderID))
	e.notify(ctx, models.NotificationTypeSecondLegFail, models.SeverityWarn, task.ID,
		"second leg failed, first leg closed with a compensating order")
}

// reanchor переустанавливает коридор вокруг цены пересечения
func (e *Engine) reanchor(task *models.GridTask, trigger float64) {
	rt := task.Runtime
	rt.BuyPrice, rt.SellPrice = utils.GridBand(trigger, task.GridRate)
	rt.LastTradePrice = trigger
	task.UpdatedAt = time.Now()
}

func (e *Engine) fetchPrice(ctx context.Context, symbol string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()
	return e.executor.GetPrice(callCtx, symbol)
}

func (e *Engine) fetchPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()
	return e.executor.GetPosition(callCtx, symbol)
}

func (e *Engine) notify(ctx context.Context, typ, severity, taskID, message string) {
	n := &models.Notification{
		Timestamp: time.Now(),
		Type:      typ,
		Severity:  severity,
		TaskID:    &taskID,
		Message:   message,
	}
	if err := e.notifications.Create(ctx, n); err != nil {
		e.logger.Error("notification persist failed", zap.Error(err))
	}
}
