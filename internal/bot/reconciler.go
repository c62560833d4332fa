package bot

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridbot/internal/exchange"
	"gridbot/internal/models"
)

// OrderLedger - журнал ордеров с обновлением статуса и комиссии
type OrderLedger interface {
	Create(ctx context.Context, order *models.Order) error
	UpdateStatus(ctx context.Context, orderID, status string, fee float64, feeAsset string, updateTime time.Time) error
}

// ============================================================================
// Реконсилятор ордеров
// ============================================================================

// Reconciler доводит незакрытые ордера до терминального состояния
//
// Работает медленнее тика планировщика и независимо от него. Каждый
// проход забирает весь набор, опрашивает статусы, подтягивает цену
// пассивного ордера к лучшему bid/ask и возвращает недоведенные
// ордера обратно новым списком. Ордер никогда не отменяется по
// возрасту: погоня ограничена только жизнью самого ордера.
type Reconciler struct {
	executor      exchange.Executor
	quotes        QuoteReader
	pending       *PendingOrders
	ledger        OrderLedger
	notifications NotificationStore
	broadcaster   Broadcaster
	logger        *zap.Logger

	interval     time.Duration
	orderTimeout time.Duration

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewReconciler создает реконсилятор
func NewReconciler(
	executor exchange.Executor,
	quotes QuoteReader,
	pending *PendingOrders,
	ledger OrderLedger,
	notifications NotificationStore,
	broadcaster Broadcaster,
	interval, orderTimeout time.Duration,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		executor:      executor,
		quotes:        quotes,
		pending:       pending,
		ledger:        ledger,
		notifications: notifications,
		broadcaster:   broadcaster,
		logger:        logger,
		interval:      interval,
		orderTimeout:  orderTimeout,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start запускает периодические проходы
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop останавливает реконсилятор и ждет завершения текущего прохода
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped", zap.String("cause", "context"))
			return
		case <-r.stopCh:
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

// Pass выполняет один проход; отдельный метод для тестов
func (r *Reconciler) Pass(ctx context.Context) {
	r.pass(ctx)
}

func (r *Reconciler) pass(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reconcile panic recovered",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	start := time.Now()

	drained := r.pending.Drain()
	if len(drained) == 0 {
		RecordReconcilePass(time.Since(start), 0)
		return
	}

	// Новый список удержанных строится заново каждый проход;
	// исходный список во время обхода не мутируется
	retained := make([]*models.Order, 0, len(drained))

	for _, rec := range drained {
		keep := r.reconcileOne(ctx, rec, &retained)
		if keep {
			retained = append(retained, rec)
		}
	}

	r.pending.Append(retained...)
	RecordReconcilePass(time.Since(start), r.pending.Len())
}

// reconcileOne обрабатывает один ордер; возвращает true, если ордер
// остается под наблюдением. Замены добавляются в retained напрямую.
func (r *Reconciler) reconcileOne(ctx context.Context, rec *models.Order, retained *[]*models.Order) bool {
	live, err := r.getOrder(ctx, rec.Symbol, rec.OrderID)
	if err != nil {
		r.logger.Warn("order status query failed",
			zap.String("order_id", rec.OrderID),
			zap.Error(err))
		return true
	}

	if models.IsTerminalOrderStatus(live.Status) {
		r.finalize(ctx, rec, live)
		return false
	}

	quote, ok := r.quotes.BestQuote(rec.Symbol)
	if !ok {
		return true
	}

	target := quote.Ask
	if rec.Side == models.SideBuy {
		target = quote.Bid
	}
	if target <= 0 || target == rec.Price {
		return true
	}

	modified, err := r.modifyOrder(ctx, rec, live.RemainingQty(), target)
	if err == nil {
		rec.Price = modified.Price
		rec.UpdateTime = modified.UpdateTime
		return true
	}

	if exchange.IsPostOnlyReject(err) {
		// Перестановка отклонена: по новой цене ордер перестал быть
		// пассивным. Судьбу самого ордера решает повторный опрос
		return r.replace(ctx, rec, target, retained)
	}

	r.logger.Warn("order modify failed",
		zap.String("order_id", rec.OrderID),
		zap.Float64("target", target),
		zap.Error(err))
	return true
}

// finalize записывает терминальный статус и комиссию в журнал
func (r *Reconciler) finalize(ctx context.Context, rec *models.Order, live *exchange.Order) {
	rec.Status = live.Status
	rec.Fee = live.Fee
	rec.FeeAsset = live.FeeAsset
	rec.UpdateTime = live.UpdateTime

	if err := r.ledger.UpdateStatus(ctx, rec.OrderID, live.Status, live.Fee, live.FeeAsset, live.UpdateTime); err != nil {
		r.logger.Error("order status persist failed",
			zap.String("order_id", rec.OrderID),
			zap.Error(err))
	}

	r.logger.Info("order finalized",
		zap.String("order_id", rec.OrderID),
		zap.String("status", live.Status),
		zap.Float64("fee", live.Fee))
	r.broadcastOrder(rec)
}

// replace ставит новый ордер на остаток вместо потерявшего пассивность.
// Возвращает true, если исходный ордер остается под наблюдением.
//
// Замена допустима только когда исходный ордер подтвержденно терминален:
// биржа может отклонить перестановку, не снимая сам ордер, и слепая
// замена удвоила бы позицию. Живой или неопрошенный ордер удерживается
// до следующего прохода.
func (r *Reconciler) replace(ctx context.Context, rec *models.Order, target float64, retained *[]*models.Order) bool {
	final, err := r.getOrder(ctx, rec.Symbol, rec.OrderID)
	if err != nil {
		r.logger.Warn("order requery failed after amend reject, keeping order tracked",
			zap.String("order_id", rec.OrderID),
			zap.Error(err))
		return true
	}
	if !models.IsTerminalOrderStatus(final.Status) {
		// Биржа отклонила перестановку, но ордер жив: продолжаем
		// погоню на следующем проходе
		rec.UpdateTime = final.UpdateTime
		return true
	}

	r.finalize(ctx, rec, final)

	remaining := final.RemainingQty()
	if remaining <= 0 {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, r.orderTimeout)
	fresh, err := r.executor.PlaceOrder(callCtx, exchange.PlaceRequest{
		Symbol: rec.Symbol,
		Side:   rec.Side,
		Qty:    remaining,
		Price:  target,
	})
	cancel()
	if err != nil {
		r.logger.Error("replacement order failed",
			zap.String("order_id", rec.OrderID),
			zap.String("symbol", rec.Symbol),
			zap.Error(err))
		return false
	}

	replacement := &models.Order{
		TaskID:     rec.TaskID,
		TaskBindID: uuid.NewString(),
		Symbol:     fresh.Symbol,
		Side:       fresh.Side,
		Price:      fresh.Price,
		OrigQty:    fresh.OrigQty,
		OrderID:    fresh.OrderID,
		Status:     fresh.Status,
		SynthPrice: rec.SynthPrice,
		CreatedAt:  time.Now(),
		UpdateTime: fresh.UpdateTime,
	}
	if err := r.ledger.Create(ctx, replacement); err != nil {
		r.logger.Error("replacement persist failed",
			zap.String("order_id", fresh.OrderID),
			zap.Error(err))
	}

	*retained = append(*retained, replacement)
	RecordOrderReplacement()
	r.broadcastOrder(replacement)

	r.logger.Warn("order replaced",
		zap.String("task_id", rec.TaskID),
		zap.String("old_order_id", rec.OrderID),
		zap.String("new_order_id", fresh.OrderID),
		zap.Float64("price", fresh.Price),
		zap.Float64("qty", remaining))

	taskID := rec.TaskID
	n := &models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeOrderReplaced,
		Severity:  models.SeverityWarn,
		TaskID:    &taskID,
		Message:   "passive order lost maker status and was replaced at the market best price",
	}
	if err := r.notifications.Create(ctx, n); err != nil {
		r.logger.Error("notification persist failed", zap.Error(err))
	}
	r.broadcastNotification(n)
	return false
}

func (r *Reconciler) broadcastOrder(order *models.Order) {
	if r.broadcaster == nil {
		return
	}
	r.broadcaster.BroadcastOrder(order)
}

func (r *Reconciler) broadcastNotification(n *models.Notification) {
	if r.broadcaster == nil {
		return
	}
	r.broadcaster.BroadcastNotification(n)
}

func (r *Reconciler) getOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.orderTimeout)
	defer cancel()
	return r.executor.GetOrder(callCtx, symbol, orderID)
}

func (r *Reconciler) modifyOrder(ctx context.Context, rec *models.Order, qty, price float64) (*exchange.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.orderTimeout)
	defer cancel()
	return r.executor.ModifyOrder(callCtx, rec.Symbol, rec.Side, rec.OrderID, qty, price)
}
