package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"gridbot/internal/exchange"
	"gridbot/internal/models"
)

type fakeTaskStore struct {
	mu       sync.Mutex
	tasks    []*models.GridTask
	replaced [][]*models.GridTask
	loadErr  error
}

func (s *fakeTaskStore) LoadAll(ctx context.Context) ([]*models.GridTask, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.tasks, nil
}

func (s *fakeTaskStore) ReplaceAll(ctx context.Context, tasks []*models.GridTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]*models.GridTask, len(tasks))
	copy(snapshot, tasks)
	s.replaced = append(s.replaced, snapshot)
	return nil
}

func (s *fakeTaskStore) replaceCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replaced)
}

type fakeFeeds struct {
	mu   sync.Mutex
	refs map[string]int
}

func newFakeFeeds() *fakeFeeds {
	return &fakeFeeds{refs: make(map[string]int)}
}

func (f *fakeFeeds) Subscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[symbol]++
	return nil
}

func (f *fakeFeeds) Unsubscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[symbol]--
	return nil
}

func (f *fakeFeeds) count(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[symbol]
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	tasks  []*models.GridTask
	orders []*models.Order
	notes  []*models.Notification
}

func (b *fakeBroadcaster) BroadcastTask(task *models.GridTask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, task)
}

func (b *fakeBroadcaster) BroadcastOrder(order *models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, order)
}

func (b *fakeBroadcaster) BroadcastNotification(n *models.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notes = append(b.notes, n)
}

func newTestScheduler(exec exchange.Executor, quotes QuoteReader, store *fakeTaskStore, feeds *fakeFeeds) (*Scheduler, *memNotificationStore, *PendingOrders) {
	notes := &memNotificationStore{}
	pending := NewPendingOrders()
	engine := newTestEngine(exec, quotes, &memOrderStore{}, notes)
	sched := NewScheduler(engine, store, feeds, pending, notes, &fakeBroadcaster{},
		100*time.Millisecond, 10, zap.NewNop())
	return sched, notes, pending
}

func TestTickActivatesPendingTask(t *testing.T) {
	exec := newFakeExecutor()
	exec.prices["BTCUSDT"] = 100

	store := &fakeTaskStore{}
	feeds := newFakeFeeds()
	sched, notes, _ := newTestScheduler(exec, fakeQuotes{}, store, feeds)
	sched.tasks = []*models.GridTask{newPendingTask(false, false)}

	sched.tick(context.Background())

	task := sched.tasks[0]
	if task.Status != models.TaskStatusRunning {
		t.Fatalf("status = %s, want RUNNING", task.Status)
	}
	if feeds.count("BTCUSDT") != 1 {
		t.Errorf("feed refs = %d, want 1", feeds.count("BTCUSDT"))
	}
	if len(notes.byType(models.NotificationTypeActivated)) != 1 {
		t.Error("TASK_ACTIVATED notification not recorded")
	}
	if store.replaceCalls() != 1 {
		t.Errorf("persist calls = %d, want 1", store.replaceCalls())
	}
}

func TestTickKeepsDeferredTaskPending(t *testing.T) {
	exec := newFakeExecutor() // цены нет, активация откладывается

	store := &fakeTaskStore{}
	feeds := newFakeFeeds()
	sched, _, _ := newTestScheduler(exec, fakeQuotes{}, store, feeds)
	sched.tasks = []*models.GridTask{newPendingTask(false, false)}

	sched.tick(context.Background())
	sched.tick(context.Background())

	if got := sched.tasks[0].Status; got != models.TaskStatusPending {
		t.Fatalf("status = %s, want PENDING", got)
	}
	if feeds.count("BTCUSDT") != 0 {
		t.Errorf("feed refs = %d, want 0 while pending", feeds.count("BTCUSDT"))
	}
}

func TestTickExpiresTaskOnFatalError(t *testing.T) {
	exec := newFakeExecutor()
	exec.positions["BTCUSDT"] = &exchange.Position{Symbol: "BTCUSDT", Quantity: -5}
	quotes := fakeQuotes{"BTCUSDT": {Symbol: "BTCUSDT", Bid: 99.4, Ask: 99.5}}

	store := &fakeTaskStore{}
	feeds := newFakeFeeds()
	sched, notes, _ := newTestScheduler(exec, quotes, store, feeds)

	task := newRunningTask(false, false, 6, 0, 100)
	sched.tasks = []*models.GridTask{task}
	sched.subscribeTask(task)

	sched.tick(context.Background())

	expired := sched.Snapshot()[0]
	if expired.Status != models.TaskStatusExpired {
		t.Fatalf("status = %s, want EXPIRED", expired.Status)
	}
	if expired.Reason == "" {
		t.Error("expired task must carry a reason")
	}
	if feeds.count("BTCUSDT") != 0 {
		t.Errorf("feed refs = %d, want 0 after expiry", feeds.count("BTCUSDT"))
	}
	if len(notes.byType(models.NotificationTypeExpired)) != 1 {
		t.Error("TASK_EXPIRED notification not recorded")
	}

	// Повторные тики не должны уводить счетчик подписок в минус
	sched.tick(context.Background())
	sched.tick(context.Background())
	if feeds.count("BTCUSDT") != 0 {
		t.Errorf("feed refs = %d after repeated ticks, want 0", feeds.count("BTCUSDT"))
	}
}

func TestTickCollectsOrdersForReconciler(t *testing.T) {
	exec := newFakeExecutor()
	quotes := fakeQuotes{"BTCUSDT": {Symbol: "BTCUSDT", Bid: 99.4, Ask: 99.5}}

	store := &fakeTaskStore{}
	sched, _, pending := newTestScheduler(exec, quotes, store, newFakeFeeds())
	sched.tasks = []*models.GridTask{newRunningTask(false, true, 1, 0, 100)}

	sched.tick(context.Background())

	if pending.Len() != 1 {
		t.Fatalf("pending orders = %d, want 1", pending.Len())
	}
}

func TestTickIdleMultiplier(t *testing.T) {
	tests := []struct {
		name   string
		quotes fakeQuotes
		tasks  []*models.GridTask
		want   float64
	}{
		{
			name:   "idle task slows the loop",
			quotes: fakeQuotes{"BTCUSDT": {Symbol: "BTCUSDT", Bid: 100, Ask: 100.1}},
			tasks:  []*models.GridTask{newRunningTask(false, true, 1, 0, 100)},
			want:   testIdleMultiplier,
		},
		{
			name:   "crossing keeps full speed",
			quotes: fakeQuotes{"BTCUSDT": {Symbol: "BTCUSDT", Bid: 99.4, Ask: 99.5}},
			tasks:  []*models.GridTask{newRunningTask(false, true, 1, 0, 100)},
			want:   1,
		},
		{
			name:   "minimum across tasks wins",
			quotes: fakeQuotes{"BTCUSDT": {Symbol: "BTCUSDT", Bid: 99.4, Ask: 99.5}},
			tasks: []*models.GridTask{
				newRunningTask(false, true, 1, 0, 100),   // пересечение, множитель 1
				newRunningTask(false, true, 1, 0, 99.45), // внутри коридора
			},
			want: 1,
		},
		{
			name:   "deferred task keeps full speed",
			quotes: fakeQuotes{},
			tasks:  []*models.GridTask{newRunningTask(false, true, 1, 0, 100)},
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newFakeExecutor()
			sched, _, _ := newTestScheduler(exec, tt.quotes, &fakeTaskStore{}, newFakeFeeds())
			sched.tasks = tt.tasks

			if got := sched.tick(context.Background()); got != tt.want {
				t.Errorf("multiplier = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartSubscribesRunningTasks(t *testing.T) {
	exec := newFakeExecutor()
	store := &fakeTaskStore{tasks: []*models.GridTask{
		newPendingTask(false, false),
		newRunningTask(true, false, 1, 2, 2),
	}}
	feeds := newFakeFeeds()
	sched, _, _ := newTestScheduler(exec, fakeQuotes{}, store, feeds)

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		cancel()
		sched.Stop()
	}()

	// RUNNING doubled задача подписывает обе ноги, PENDING ничего не подписывает
	if feeds.count("BTCUSDT") != 1 || feeds.count("ETHUSDT") != 1 {
		t.Errorf("feed refs = %d/%d, want 1/1",
			feeds.count("BTCUSDT"), feeds.count("ETHUSDT"))
	}
}

func TestTickBroadcastsLifecycleEvents(t *testing.T) {
	exec := newFakeExecutor()
	exec.prices["BTCUSDT"] = 100

	notes := &memNotificationStore{}
	engine := newTestEngine(exec, fakeQuotes{}, &memOrderStore{}, notes)
	hub := &fakeBroadcaster{}
	sched := NewScheduler(engine, &fakeTaskStore{}, newFakeFeeds(), NewPendingOrders(),
		notes, hub, 100*time.Millisecond, 10, zap.NewNop())
	sched.tasks = []*models.GridTask{newPendingTask(false, false)}

	sched.tick(context.Background())

	if len(hub.tasks) != 1 {
		t.Errorf("task broadcasts = %d, want 1 on activation", len(hub.tasks))
	}
	if len(hub.notes) != 1 || hub.notes[0].Type != models.NotificationTypeActivated {
		t.Errorf("notification broadcasts = %v, want one TASK_ACTIVATED", hub.notes)
	}

	// Пересечение рассылает размещенные ордера
	quotes := fakeQuotes{"BTCUSDT": {Symbol: "BTCUSDT", Bid: 99.4, Ask: 99.5}}
	engine.quotes = quotes
	sched.tick(context.Background())

	if len(hub.orders) != 1 {
		t.Errorf("order broadcasts = %d, want 1 after crossing", len(hub.orders))
	}
}

func TestTickDoesNotRaceWithSnapshot(t *testing.T) {
	exec := newFakeExecutor()
	exec.positions["BTCUSDT"] = &exchange.Position{Symbol: "BTCUSDT"}
	// bid ниже нижней границы: каждый тик двигает коридор
	quotes := fakeQuotes{"BTCUSDT": {Symbol: "BTCUSDT", Bid: 99.4, Ask: 99.5}}

	sched, _, _ := newTestScheduler(exec, quotes, &fakeTaskStore{}, newFakeFeeds())
	sched.tasks = []*models.GridTask{newRunningTask(false, true, 1, 0, 100)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			for _, task := range sched.Snapshot() {
				if rt := task.Runtime; rt != nil && rt.BuyPrice >= rt.SellPrice {
					t.Error("snapshot observed a half-updated band")
					return
				}
			}
		}
	}()

	for i := 0; i < 50; i++ {
		sched.tick(context.Background())
	}
	<-done
}

func TestSnapshotIsolatesRuntime(t *testing.T) {
	exec := newFakeExecutor()
	sched, _, _ := newTestScheduler(exec, fakeQuotes{}, &fakeTaskStore{}, newFakeFeeds())
	task := newRunningTask(false, false, 1, 0, 100)
	sched.AddTask(task)

	snap := sched.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot size = %d, want 1", len(snap))
	}

	snap[0].Runtime.BuyPrice = -1
	if task.Runtime.BuyPrice == -1 {
		t.Error("snapshot must not share runtime with the live task")
	}
}

var _ QuoteReader = fakeQuotes{}
var _ FeedControl = (*fakeFeeds)(nil)
