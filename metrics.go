package bookstore

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

var (
	// OperationDuration records how long each operation took against the store.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bookstore",
			Subsystem: "runner",
			Name:      "operation_duration_seconds",
			Help:      "Bucketed histogram of operation execution time (s).",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to 16s
		}, []string{"operation", "kind"})

	// OperationTotal counts operations by outcome.
	OperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookstore",
			Subsystem: "runner",
			Name:      "operations_total",
			Help:      "Total count of operations by outcome.",
		}, []string{"operation", "outcome"})

	// ConnectTotal counts connection attempts by outcome.
	ConnectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookstore",
			Subsystem: "runner",
			Name:      "connects_total",
			Help:      "Total count of store connection attempts.",
		}, []string{"outcome"})
)

// InitMetrics registers the runner metrics with registry.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(OperationDuration)
	registry.MustRegister(OperationTotal)
	registry.MustRegister(ConnectTotal)
}
