package bot

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridbot/internal/models"
)

// TaskStore - долговременное хранилище списка задач
type TaskStore interface {
	LoadAll(ctx context.Context) ([]*models.GridTask, error)
	ReplaceAll(ctx context.Context, tasks []*models.GridTask) error
}

// FeedControl - управление подписками на символы
type FeedControl interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
}

// Broadcaster доставляет live-обновления подключенным клиентам
type Broadcaster interface {
	BroadcastTask(task *models.GridTask)
	BroadcastOrder(order *models.Order)
	BroadcastNotification(n *models.Notification)
}

// ============================================================================
// Планировщик тиков
// ============================================================================

// Scheduler прогоняет каждую задачу ровно один раз за тик
//
// Тики сериализованы: следующий таймер взводится только после
// завершения текущего прохода, даже если проход затянулся. Задержка
// следующего тика = tickInterval x минимальный из множителей,
// запрошенных задачами (минимум сохраняет отзывчивость каждой задачи).
// Сбой внутри тика логируется и никогда не останавливает цикл.
type Scheduler struct {
	engine        *Engine
	store         TaskStore
	feeds         FeedControl
	pending       *PendingOrders
	notifications NotificationStore
	broadcaster   Broadcaster
	logger        *zap.Logger

	tickInterval      time.Duration
	maxIdleMultiplier float64

	tasksMu sync.Mutex
	tasks   []*models.GridTask

	// Задачи, чьи символы сейчас подписаны; нужно, чтобы повторная
	// отписка терминальной задачи не съедала счетчик ссылок символа,
	// удерживаемый другими задачами
	subscribed map[string]bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler создает планировщик
func NewScheduler(
	engine *Engine,
	store TaskStore,
	feeds FeedControl,
	pending *PendingOrders,
	notifications NotificationStore,
	broadcaster Broadcaster,
	tickInterval time.Duration,
	maxIdleMultiplier float64,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		engine:            engine,
		store:             store,
		feeds:             feeds,
		pending:           pending,
		notifications:     notifications,
		broadcaster:       broadcaster,
		logger:            logger,
		tickInterval:      tickInterval,
		maxIdleMultiplier: maxIdleMultiplier,
		subscribed:        make(map[string]bool),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

// Start загружает задачи, подписывает RUNNING символы и запускает цикл
func (s *Scheduler) Start(ctx context.Context) error {
	tasks, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	s.tasksMu.Lock()
	s.tasks = tasks
	s.tasksMu.Unlock()

	for _, task := range tasks {
		if task.Status != models.TaskStatusRunning {
			continue
		}
		s.subscribeTask(task)
	}

	s.logger.Info("scheduler started",
		zap.Int("tasks", len(tasks)),
		zap.Duration("tick_interval", s.tickInterval))

	go s.run(ctx)
	return nil
}

// Stop останавливает цикл и ждет завершения текущего тика
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// AddTask добавляет задачу в работу; подхватывается следующим тиком
func (s *Scheduler) AddTask(task *models.GridTask) {
	s.tasksMu.Lock()
	s.tasks = append(s.tasks, task)
	s.tasksMu.Unlock()

	s.logger.Info("task added", zap.String("task_id", task.ID))
}

// Snapshot возвращает копию списка задач для чтения из API
func (s *Scheduler) Snapshot() []*models.GridTask {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	out := make([]*models.GridTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	return out
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	timer := time.NewTimer(s.tickInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", zap.String("cause", "context"))
			return
		case <-s.stopCh:
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
			mult := s.tick(ctx)
			timer.Reset(time.Duration(float64(s.tickInterval) * mult))
		}
	}
}

// tick прогоняет все задачи и возвращает множитель задержки
func (s *Scheduler) tick(ctx context.Context) (multiplier float64) {
	multiplier = 1

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tick panic recovered",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	start := time.Now()
	defer func() { RecordTickDuration(time.Since(start)) }()

	// Тик работает с копиями: движок мутирует runtime без блокировки,
	// пока Snapshot читает прежние экземпляры под tasksMu. Обновленные
	// копии подменяют оригиналы одним присваиванием в конце прохода.
	s.tasksMu.Lock()
	tasks := make([]*models.GridTask, len(s.tasks))
	for i, t := range s.tasks {
		tasks[i] = t.Clone()
	}
	s.tasksMu.Unlock()

	minHint := 0.0
	var pending, running, expired int

	for _, task := range tasks {
		switch task.Status {
		case models.TaskStatusPending:
			s.handlePending(ctx, task)
		case models.TaskStatusRunning:
			if hint := s.handleRunning(ctx, task); hint > 0 {
				if minHint == 0 || hint < minHint {
					minHint = hint
				}
			}
		default:
			// Терминальные задачи держим отписанными; повторная
			// отписка безопасна
			s.unsubscribeTask(task)
		}

		switch task.Status {
		case models.TaskStatusPending:
			pending++
		case models.TaskStatusRunning:
			running++
		case models.TaskStatusExpired:
			expired++
		}
	}

	RecordTaskCounts(pending, running, expired)

	// Задачи, добавленные во время прохода, стоят за пределами len(tasks)
	// и не затираются
	s.tasksMu.Lock()
	copy(s.tasks, tasks)
	s.tasksMu.Unlock()

	if err := s.store.ReplaceAll(ctx, tasks); err != nil {
		s.logger.Error("task persist failed", zap.Error(err))
	}

	if minHint > 1 {
		multiplier = minHint
		if multiplier > s.maxIdleMultiplier {
			multiplier = s.maxIdleMultiplier
		}
	}
	return multiplier
}

// handlePending пытается активировать задачу
func (s *Scheduler) handlePending(ctx context.Context, task *models.GridTask) {
	err := s.engine.TryActivate(ctx, task)
	switch {
	case err == nil:
		s.subscribeTask(task)
		s.notifyTask(ctx, models.NotificationTypeActivated, models.SeverityInfo,
			task.ID, "task activated, band established")
		s.broadcast(task)

	case IsDeferred(err):
		// Условия не наступили, попробуем на следующем тике

	default:
		s.expireTask(ctx, task, err)
	}
}

// handleRunning прогоняет один тик торговли, возвращает множитель задержки
func (s *Scheduler) handleRunning(ctx context.Context, task *models.GridTask) float64 {
	orders, hint, err := s.engine.Evaluate(ctx, task)
	switch {
	case err == nil:
		if len(orders) > 0 {
			s.pending.Append(orders...)
			s.broadcast(task)
			if s.broadcaster != nil {
				for _, ord := range orders {
					s.broadcaster.BroadcastOrder(ord)
				}
			}
		}
		return hint

	case IsDeferred(err):
		return 1

	default:
		s.expireTask(ctx, task, err)
		return 0
	}
}

// expireTask переводит задачу в EXPIRED и отписывает ее символы
func (s *Scheduler) expireTask(ctx context.Context, task *models.GridTask, cause error) {
	reason := cause.Error()
	if terr, ok := AsTaskError(cause); ok {
		reason = terr.Reason
	}

	if err := Expire(task, reason); err != nil {
		s.logger.Error("expire failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	s.unsubscribeTask(task)
	RecordTaskExpired()

	s.logger.Warn("task expired",
		zap.String("task_id", task.ID),
		zap.String("reason", reason))
	s.notifyTask(ctx, models.NotificationTypeExpired, models.SeverityError, task.ID, reason)
	s.broadcast(task)
}

func (s *Scheduler) subscribeTask(task *models.GridTask) {
	if s.subscribed[task.ID] {
		return
	}
	for _, sym := range task.Symbols() {
		if err := s.feeds.Subscribe(sym); err != nil {
			s.logger.Warn("subscribe failed",
				zap.String("task_id", task.ID),
				zap.String("symbol", sym),
				zap.Error(err))
		}
	}
	s.subscribed[task.ID] = true
}

func (s *Scheduler) unsubscribeTask(task *models.GridTask) {
	if !s.subscribed[task.ID] {
		return
	}
	for _, sym := range task.Symbols() {
		if err := s.feeds.Unsubscribe(sym); err != nil {
			s.logger.Warn("unsubscribe failed",
				zap.String("symbol", sym), zap.Error(err))
		}
	}
	delete(s.subscribed, task.ID)
}

func (s *Scheduler) notifyTask(ctx context.Context, typ, severity, taskID, message string) {
	n := &models.Notification{
		Timestamp: time.Now(),
		Type:      typ,
		Severity:  severity,
		TaskID:    &taskID,
		Message:   message,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		s.logger.Error("notification persist failed", zap.Error(err))
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastNotification(n)
	}
}

func (s *Scheduler) broadcast(task *models.GridTask) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastTask(task)
}
