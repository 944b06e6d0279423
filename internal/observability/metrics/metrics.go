package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "rental_"

const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	billsGenerated  *prometheus.CounterVec
	billGenLatency  *prometheus.HistogramVec
	batchItems      *prometheus.CounterVec
	batchLatency    prometheus.Histogram
	txnRetries      prometheus.Counter
	txnResults      *prometheus.CounterVec
	issuesFound     *prometheus.CounterVec
	repairsTotal    *prometheus.CounterVec
	alertsTriggered *prometheus.CounterVec
	fallbackHandled *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
)

// Init registers the engine metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		billsGenerated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bills_generated_total",
				Help: "Bills generated by type and result",
			},
			[]string{"type", "result"},
		)
		billGenLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bill_generation_latency_seconds",
				Help:    "Bill generation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		)
		batchItems = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batch_items_total",
				Help: "Batch generation items by result",
			},
			[]string{"result"},
		)
		batchLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "batch_latency_seconds",
				Help:    "Batch generation latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		)
		txnRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "transaction_retries_total",
				Help: "Transparent transaction retries",
			},
		)
		txnResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transactions_total",
				Help: "Managed transactions by result",
			},
			[]string{"result"},
		)
		issuesFound = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "consistency_issues_total",
				Help: "Consistency issues found by severity",
			},
			[]string{"severity"},
		)
		repairsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "repairs_total",
				Help: "Repair attempts by result",
			},
			[]string{"result"},
		)
		alertsTriggered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_triggered_total",
				Help: "Alerts triggered by severity",
			},
			[]string{"severity"},
		)
		fallbackHandled = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fallback_handled_total",
				Help: "Fallback strategy invocations by category and result",
			},
			[]string{"category", "result"},
		)
		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_lookups_total",
				Help: "Cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		prometheus.MustRegister(
			billsGenerated, billGenLatency, batchItems, batchLatency,
			txnRetries, txnResults, issuesFound, repairsTotal,
			alertsTriggered, fallbackHandled, cacheLookups,
		)
	})
}

// BillGenerated counts one bill generation outcome.
func BillGenerated(billType, result string) {
	if billsGenerated != nil {
		billsGenerated.WithLabelValues(billType, result).Inc()
	}
}

// ObserveBillGeneration records the latency of one generation.
func ObserveBillGeneration(billType string, d time.Duration) {
	if billGenLatency != nil {
		billGenLatency.WithLabelValues(billType).Observe(d.Seconds())
	}
}

// BatchItem counts one batch item outcome.
func BatchItem(result string) {
	if batchItems != nil {
		batchItems.WithLabelValues(result).Inc()
	}
}

// ObserveBatch records the duration of a whole batch run.
func ObserveBatch(d time.Duration) {
	if batchLatency != nil {
		batchLatency.Observe(d.Seconds())
	}
}

// TransactionRetried counts one transparent retry.
func TransactionRetried() {
	if txnRetries != nil {
		txnRetries.Inc()
	}
}

// TransactionFinished counts a managed transaction outcome.
func TransactionFinished(result string) {
	if txnResults != nil {
		txnResults.WithLabelValues(result).Inc()
	}
}

// IssueFound counts one detected consistency issue.
func IssueFound(severity string) {
	if issuesFound != nil {
		issuesFound.WithLabelValues(severity).Inc()
	}
}

// RepairFinished counts one repair outcome.
func RepairFinished(result string) {
	if repairsTotal != nil {
		repairsTotal.WithLabelValues(result).Inc()
	}
}

// AlertTriggered counts one raised alert.
func AlertTriggered(severity string) {
	if alertsTriggered != nil {
		alertsTriggered.WithLabelValues(severity).Inc()
	}
}

// FallbackHandled counts one fallback dispatch.
func FallbackHandled(category, result string) {
	if fallbackHandled != nil {
		fallbackHandled.WithLabelValues(category, result).Inc()
	}
}

// CacheLookup counts a cache hit or miss.
func CacheLookup(outcome string) {
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(outcome).Inc()
	}
}
