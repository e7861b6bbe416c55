package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		ObserveSourceRequest("list", 200, 10*time.Millisecond)
		IncSyncTask("ok")
	})
}

func TestImportMetrics(t *testing.T) {
	ImportStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(importRunning))

	before := testutil.ToFloat64(importRuns.WithLabelValues("full", "done"))
	ImportFinished("full", "done", time.Second)
	assert.Equal(t, float64(0), testutil.ToFloat64(importRunning))
	assert.Equal(t, before+1, testutil.ToFloat64(importRuns.WithLabelValues("full", "done")))

	processed := testutil.ToFloat64(ticketsProcessed.WithLabelValues("incremental"))
	AddTickets("incremental", 3)
	AddTickets("incremental", 0)
	assert.Equal(t, processed+3, testutil.ToFloat64(ticketsProcessed.WithLabelValues("incremental")))

	gap := testutil.ToFloat64(gapTickets.WithLabelValues("recovered"))
	AddGap("recovered", 2)
	assert.Equal(t, gap+2, testutil.ToFloat64(gapTickets.WithLabelValues("recovered")))

	SetDatasetSize(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(datasetSize))
}
