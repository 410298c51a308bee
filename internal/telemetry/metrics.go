package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики конвейера. Регистрируются в default-реестре,
// /metrics поднимается в main каждого сервиса.
var (
	// RunsTotal — завершённые прогоны по терминальному статусу.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderetl",
		Name:      "runs_total",
		Help:      "Finished ETL runs by terminal status.",
	}, []string{"status"})

	// OrdersProcessedTotal — обработанные указы по исходу.
	OrdersProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderetl",
		Name:      "orders_processed_total",
		Help:      "Per-order outcomes by status.",
	}, []string{"status"})

	// RetryAttemptsTotal — повторные попытки вызовов коллабораторов.
	RetryAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderetl",
		Name:      "retry_attempts_total",
		Help:      "Retried collaborator invocations.",
	})

	// RunDurationSeconds — длительность прогона от старта до терминала.
	RunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orderetl",
		Name:      "run_duration_seconds",
		Help:      "ETL run duration.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)
