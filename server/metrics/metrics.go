package metrics

import (
	"net/http"

	"github.com/cyclopcam/fallwatch/server/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the monitor's counters to Prometheus.
// Values are read from the monitor's Status at scrape time.
type Metrics struct {
	Viewers prometheus.Gauge // Connected websocket viewers

	registry *prometheus.Registry
	status   func() monitor.Status
}

func New(status func() monitor.Status) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		status:   status,
		Viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fallwatch_viewers",
			Help: "Connected live frame viewers",
		}),
	}
	m.register()
	return m
}

func (m *Metrics) counter(name, help string, get func(s *monitor.Status) int64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 {
			s := m.status()
			return float64(get(&s))
		},
	))
}

func (m *Metrics) gauge(name, help string, get func(s *monitor.Status) float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 {
			s := m.status()
			return get(&s)
		},
	))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *Metrics) register() {
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m.registry.MustRegister(m.Viewers)

	m.counter("fallwatch_frames_processed_total", "Frames that went through detection",
		func(s *monitor.Status) int64 { return s.FramesProcessed })
	m.counter("fallwatch_frames_skipped_total", "Frames skipped because they could not be decoded or detection failed",
		func(s *monitor.Status) int64 { return s.FramesSkipped })
	m.counter("fallwatch_camera_errors_total", "Transient camera errors",
		func(s *monitor.Status) int64 { return s.TransientErrors })
	m.counter("fallwatch_detections_total", "Objects detected",
		func(s *monitor.Status) int64 { return s.Detections })
	m.counter("fallwatch_target_frames_total", "Frames that contained the target class",
		func(s *monitor.Status) int64 { return s.TargetFrames })
	m.counter("fallwatch_alerts_fired_total", "Alerts fired",
		func(s *monitor.Status) int64 { return s.AlertsFired })
	m.counter("fallwatch_alerts_failed_total", "Alerts that could not be delivered",
		func(s *monitor.Status) int64 { return s.AlertsFailed })

	m.gauge("fallwatch_running", "1 while the frame loop is running",
		func(s *monitor.Status) float64 { return boolToFloat(s.Running) })
	m.gauge("fallwatch_armed", "1 while the target is continuously visible",
		func(s *monitor.Status) float64 { return boolToFloat(s.Armed) })
	m.gauge("fallwatch_armed_seconds", "How long the target has been continuously visible",
		func(s *monitor.Status) float64 { return s.ArmedSeconds })
	m.gauge("fallwatch_fps", "Estimated frames per second",
		func(s *monitor.Status) float64 { return s.FPS })
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
