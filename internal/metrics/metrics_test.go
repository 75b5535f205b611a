package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notionsync/internal/etl"
	"notionsync/internal/metrics"
)

func TestObserverCounters(t *testing.T) {
	m := metrics.New()

	m.PageFetched("posts", 100)
	m.PageFetched("posts", 20)
	m.RowsWritten("posts", 120)
	m.ColumnsAdded("posts", 3)
	m.TableFinished("posts", 2*time.Second, true)
	m.TableFinished("users", time.Second, false)
	m.JunctionRows("posts_to_users", 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Pages.WithLabelValues("posts")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.Records.WithLabelValues("posts")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.Rows.WithLabelValues("posts")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Columns.WithLabelValues("posts")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Failures.WithLabelValues("posts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("users")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Junctions.WithLabelValues("posts_to_users")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.TableDuration))
}

func TestPassFinished(t *testing.T) {
	m := metrics.New()
	finished := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	m.PassFinished(etl.RunSummary{FinishedAt: finished, Attempted: 2, Succeeded: 2})
	m.PassFinished(etl.RunSummary{FinishedAt: finished, Attempted: 2, Succeeded: 1, Failed: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Passes.WithLabelValues("clean")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Passes.WithLabelValues("partial")))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.LastPass))
}

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.RowsWritten("posts", 5)

	srv := httptest.NewServer(m.NewServer("").Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `notionsync_rows_written_total{table="posts"} 5`)

	resp, err = srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
