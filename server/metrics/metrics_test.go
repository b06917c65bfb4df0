package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/cyclopcam/fallwatch/server/monitor"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	status := monitor.Status{
		Running:         true,
		FramesProcessed: 42,
		AlertsFired:     2,
		AlertsFailed:    1,
		Armed:           true,
		ArmedSeconds:    3.5,
	}
	m := New(func() monitor.Status { return status })
	m.Viewers.Inc()

	scrape := func() string {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, _ := io.ReadAll(rec.Body)
		return string(body)
	}
	body := scrape()
	require.Contains(t, body, "fallwatch_frames_processed_total 42")
	require.Contains(t, body, "fallwatch_alerts_fired_total 2")
	require.Contains(t, body, "fallwatch_alerts_failed_total 1")
	require.Contains(t, body, "fallwatch_armed 1")
	require.Contains(t, body, "fallwatch_armed_seconds 3.5")
	require.Contains(t, body, "fallwatch_viewers 1")

	status.AlertsFired = 3
	status.Running = false
	body = scrape()
	require.Contains(t, body, "fallwatch_alerts_fired_total 3")
	require.Contains(t, body, "fallwatch_running 0")
}
