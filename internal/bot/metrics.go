package bot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================================
// Prometheus метрики торгового ядра
// ============================================================================

var (
	// Количество задач по статусам
	tasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridbot_tasks",
		Help: "Number of grid tasks by status",
	}, []string{"status"})

	// Пересечения коридора по сторонам
	crossingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_crossing_events_total",
		Help: "Band crossing events by side",
	}, []string{"side"})

	// Размещенные ордера по сторонам
	ordersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_orders_placed_total",
		Help: "Orders placed on the exchange by side",
	}, []string{"side"})

	// Замены пассивных ордеров рыночными при потере post-only
	orderReplacementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridbot_order_replacements_total",
		Help: "Passive orders replaced with fresh orders by the reconciler",
	})

	// Задачи, переведенные в EXPIRED
	tasksExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridbot_tasks_expired_total",
		Help: "Tasks transitioned to EXPIRED",
	})

	// Длительность тика планировщика
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridbot_scheduler_tick_seconds",
		Help:    "Scheduler tick duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// Длительность прохода реконсилятора
	reconcilePassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridbot_reconcile_pass_seconds",
		Help:    "Reconciler pass duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// Текущий размер набора незакрытых ордеров
	pendingOrdersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_pending_orders",
		Help: "Orders currently tracked by the reconciler",
	})

	quoteAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridbot_quote_age_seconds",
		Help: "Age of the latest best bid/ask snapshot per symbol",
	}, []string{"symbol"})
)

// RecordTaskCounts обновляет gauge задач по статусам
func RecordTaskCounts(pending, running, expired int) {
	tasksByStatus.WithLabelValues("pending").Set(float64(pending))
	tasksByStatus.WithLabelValues("running").Set(float64(running))
	tasksByStatus.WithLabelValues("expired").Set(float64(expired))
}

// RecordCrossingEvent фиксирует пересечение коридора
func RecordCrossingEvent(side string) {
	crossingEventsTotal.WithLabelValues(side).Inc()
}

// RecordOrderPlaced фиксирует размещенный ордер
func RecordOrderPlaced(side string) {
	ordersPlacedTotal.WithLabelValues(side).Inc()
}

// RecordOrderReplacement фиксирует замену пассивного ордера
func RecordOrderReplacement() {
	orderReplacementsTotal.Inc()
}

// RecordTaskExpired фиксирует перевод задачи в EXPIRED
func RecordTaskExpired() {
	tasksExpiredTotal.Inc()
}

// RecordQuoteAge фиксирует свежесть котировки по символу
func RecordQuoteAge(symbol string, age time.Duration) {
	quoteAge.WithLabelValues(symbol).Set(age.Seconds())
}

// RecordTickDuration фиксирует длительность тика планировщика
func RecordTickDuration(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

// RecordReconcilePass фиксирует длительность прохода реконсилятора
func RecordReconcilePass(d time.Duration, pending int) {
	reconcilePassDuration.Observe(d.Seconds())
	pendingOrdersGauge.Set(float64(pending))
}
