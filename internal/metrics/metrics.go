package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ticketsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	sourceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Ticketing API calls by operation and status code.",
		},
		[]string{"op", "code"},
	)

	sourceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Latency of ticketing API calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	importRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_runs_total",
			Help:      "Finished imports by kind and final state.",
		},
		[]string{"kind", "state"},
	)

	importDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Wall time of imports.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"kind"},
	)

	ticketsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_processed_total",
			Help:      "Tickets written to an export target.",
		},
		[]string{"kind"},
	)

	gapTickets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gap_tickets_total",
			Help:      "Gap scan outcomes per candidate id.",
		},
		[]string{"result"},
	)

	datasetSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_tickets",
			Help:      "Rows in the canonical dataset after the last merge.",
		},
	)

	importRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "import_running",
			Help:      "1 while an import holds the run guard.",
		},
	)

	syncTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sheet_sync_tasks_total",
			Help:      "Sheet mirror tasks by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			sourceRequests,
			sourceLatency,
			importRuns,
			importDuration,
			ticketsProcessed,
			gapTickets,
			datasetSize,
			importRunning,
			syncTasks,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveSourceRequest records one ticketing API call. code 0 means no response.
func ObserveSourceRequest(op string, code int, elapsed time.Duration) {
	sourceRequests.WithLabelValues(op, strconv.Itoa(code)).Inc()
	sourceLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ImportStarted flips the running gauge on.
func ImportStarted() {
	importRunning.Set(1)
}

// ImportFinished records the outcome of a run.
func ImportFinished(kind, state string, elapsed time.Duration) {
	importRunning.Set(0)
	importRuns.WithLabelValues(kind, state).Inc()
	importDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// AddTickets counts tickets handed to a target.
func AddTickets(kind string, n int) {
	if n <= 0 {
		return
	}
	ticketsProcessed.WithLabelValues(kind).Add(float64(n))
}

// AddGap counts gap scan outcomes ("recovered", "not_found", "failed", "skipped").
func AddGap(result string, n int) {
	if n <= 0 {
		return
	}
	gapTickets.WithLabelValues(result).Add(float64(n))
}

// SetDatasetSize publishes the current row count of the canonical dataset.
func SetDatasetSize(n int) {
	datasetSize.Set(float64(n))
}

// IncSyncTask counts a processed sheet mirror task.
func IncSyncTask(result string) {
	syncTasks.WithLabelValues(result).Inc()
}
