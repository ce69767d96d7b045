package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AccrualQueueLength tracks the number of claimed investments awaiting processing
	AccrualQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_accrual_queue_length",
		Help: "The number of investments currently in the accrual dispatch queue",
	})

	// WorkersActive tracks the number of active accrual consumers
	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_workers_active",
		Help: "The number of accrual workers currently active",
	})

	// AccrualsProcessed tracks accrual credits by status
	AccrualsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_accruals_processed_total",
			Help: "The total number of investment accruals processed",
		},
		[]string{"status"}, // credited, completed, skipped, failed
	)

	// RetriesProcessed tracks retry-processor outcomes by status
	RetriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_retries_processed_total",
			Help: "The total number of pending transactions advanced by the retry processor",
		},
		[]string{"status"}, // success, rescheduled, failed, timeout
	)

	// LedgerOperations tracks wallet ledger mutations
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_ledger_operations_total",
			Help: "The total number of wallet ledger operations",
		},
		[]string{"operation", "status"}, // deposit/withdraw/transfer, success/failed
	)

	// AccrualRunSeconds tracks time taken by a full accrual pass
	AccrualRunSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_accrual_run_seconds",
		Help:    "Time taken by an accrual scheduler pass in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// RetryRunSeconds tracks time taken by a full retry-processor pass
	RetryRunSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_retry_run_seconds",
		Help:    "Time taken by a retry processor pass in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// InvestmentsCreated tracks lifecycle-manager creations by currency
	InvestmentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_investments_created_total",
			Help: "The total number of investments created",
		},
		[]string{"currency"},
	)
)

// RecordAccrual records a processed accrual with the given status
func RecordAccrual(status string) {
	AccrualsProcessed.WithLabelValues(status).Inc()
}

// RecordRetry records a retry-processor outcome with the given status
func RecordRetry(status string) {
	RetriesProcessed.WithLabelValues(status).Inc()
}

// RecordLedgerOperation records a wallet ledger operation
func RecordLedgerOperation(operation, status string) {
	LedgerOperations.WithLabelValues(operation, status).Inc()
}

// RecordInvestmentCreated records a created investment
func RecordInvestmentCreated(currency string) {
	InvestmentsCreated.WithLabelValues(currency).Inc()
}
