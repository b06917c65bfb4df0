package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/fallwatch/pkg/debounce"
	"github.com/cyclopcam/fallwatch/pkg/nn"
	"github.com/cyclopcam/fallwatch/pkg/perfstats"
	"github.com/cyclopcam/fallwatch/server/alertdb"
	"github.com/cyclopcam/fallwatch/server/camera"
	"github.com/cyclopcam/fallwatch/server/notifications"
	"github.com/cyclopcam/logs"
)

// Notifier is told about every alert that fires. Notify blocks until the alert has been dealt with.
type Notifier interface {
	Notify(ctx context.Context, alert notifications.Alert) *alertdb.Alert
}

type Options struct {
	TargetLabel     string        // Detection class that drives the debouncer
	Threshold       time.Duration // Target must be seen continuously for longer than this
	RetryDelay      time.Duration // Pause after a transient camera error
	DetectionParams nn.DetectionParams
	StatsInterval   time.Duration // How often to log stage timings. Zero disables it.
	Clock           clock.Clock   // If nil, the wall clock is used
}

func DefaultOptions() Options {
	return Options{
		TargetLabel:     "Fall-Detected",
		Threshold:       5 * time.Second,
		RetryDelay:      time.Second,
		DetectionParams: nn.NewDetectionParams().WithDefaults(),
		StatsInterval:   time.Minute,
	}
}

// Status is a snapshot of the monitor, for the API and metrics
type Status struct {
	Running         bool           `json:"running"`
	Camera          string         `json:"camera"`
	TargetLabel     string         `json:"targetLabel"`
	Threshold       float64        `json:"threshold"` // seconds
	FramesProcessed int64          `json:"framesProcessed"`
	FramesSkipped   int64          `json:"framesSkipped"` // Decode and detection failures
	TransientErrors int64          `json:"transientErrors"`
	Detections      int64          `json:"detections"` // Total objects detected
	TargetFrames    int64          `json:"targetFrames"`
	AlertsFired     int64          `json:"alertsFired"`
	AlertsFailed    int64          `json:"alertsFailed"` // Fired, but the message could not be sent
	Armed           bool           `json:"armed"`
	ArmedSeconds    float64        `json:"armedSeconds"` // How long the target has been continuously visible
	FPS             float64        `json:"fps"`
	LastError       string         `json:"lastError"`
	LastAlert       *alertdb.Alert `json:"lastAlert"`
	Timings         string         `json:"timings"`
}

// Outcome of one iteration of the frame loop
type stepResult int

const (
	stepProcessed stepResult = iota
	stepSkipped
	stepRetry
	stepStop
)

// Monitor polls a camera, runs the detector on every frame, and fires alerts
// when the target has been visible for long enough.
// Frames are processed strictly one at a time, on a single goroutine.
type Monitor struct {
	Log       logs.Log
	source    camera.Source
	detector  nn.ObjectDetector
	notifier  Notifier
	debouncer *debounce.Debouncer
	opts      Options
	clock     clock.Clock
	stages    *perfstats.Stages
	fps       camera.FPSEstimator

	ctx           context.Context
	cancel        context.CancelFunc
	looperStopped chan bool // Closed when the loop has exited
	started       atomic.Bool
	stopOnce      sync.Once

	statusLock sync.Mutex
	status     Status
	stopErr    error
	latest     *Frame

	watchersLock   sync.RWMutex
	watchers       []chan *Frame
	watchersClosed bool

	lastErrAt time.Time
}

// Create a monitor. Call Start() to begin processing frames.
func NewMonitor(logger logs.Log, source camera.Source, detector nn.ObjectDetector, notifier Notifier, opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Threshold <= 0 {
		logger.Warnf("Alert threshold is %v, so an alert fires on the second consecutive frame with %v", opts.Threshold, opts.TargetLabel)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		Log:           logger,
		source:        source,
		detector:      detector,
		notifier:      notifier,
		debouncer:     debounce.New(opts.Threshold),
		opts:          opts,
		clock:         opts.Clock,
		stages:        perfstats.NewStages("acquire", "detect", "notify"),
		ctx:           ctx,
		cancel:        cancel,
		looperStopped: make(chan bool),
	}
	m.status.Camera = source.Describe()
	m.status.TargetLabel = opts.TargetLabel
	m.status.Threshold = opts.Threshold.Seconds()
	return m
}

// Start the frame loop on its own goroutine
func (m *Monitor) Start() {
	if m.started.Swap(true) {
		return
	}
	m.statusLock.Lock()
	m.status.Running = true
	m.statusLock.Unlock()
	m.Log.Infof("Monitoring %v for %v (threshold %v)", m.source.Describe(), m.opts.TargetLabel, m.opts.Threshold)
	go m.loop()
}

// Stop the frame loop, and wait for it to exit.
// Safe to call more than once, and from any goroutine.
func (m *Monitor) Stop() {
	m.stop()
	if m.started.Load() {
		<-m.looperStopped
	}
}

// Ask the frame loop to stop, without waiting
func (m *Monitor) stop() {
	m.stopOnce.Do(func() {
		m.Log.Infof("Monitor stopping")
		m.cancel()
	})
}

// Stop the loop and release the camera and detector
func (m *Monitor) Close() {
	m.Stop()
	if err := m.source.Close(); err != nil {
		m.Log.Warnf("Failed to close camera: %v", err)
	}
	m.detector.Close()
	m.Log.Infof("Monitor is closed")
}

// Done is closed when the frame loop has exited, either because of Stop(), or a fatal camera error
func (m *Monitor) Done() <-chan bool {
	return m.looperStopped
}

// Err returns the fatal error that stopped the loop, or nil
func (m *Monitor) Err() error {
	m.statusLock.Lock()
	defer m.statusLock.Unlock()
	return m.stopErr
}

func (m *Monitor) Status() Status {
	m.statusLock.Lock()
	s := m.status
	m.statusLock.Unlock()
	s.Timings = m.stages.Summary()
	return s
}

// Returns the most recent processed frame, or nil if there hasn't been one yet
func (m *Monitor) LatestFrame() *Frame {
	m.statusLock.Lock()
	defer m.statusLock.Unlock()
	return m.latest
}

func (m *Monitor) loop() {
	defer close(m.looperStopped)
	lastStatsAt := m.clock.Now()

	for m.ctx.Err() == nil {
		switch m.step() {
		case stepRetry:
			m.sleep(m.opts.RetryDelay)
		case stepStop:
			m.finish()
			return
		}
		if m.opts.StatsInterval > 0 && m.clock.Since(lastStatsAt) >= m.opts.StatsInterval {
			m.Log.Infof("Timings: %v", m.stages.Summary())
			m.stages.Reset()
			lastStatsAt = m.clock.Now()
		}
	}
	m.finish()
}

func (m *Monitor) finish() {
	m.statusLock.Lock()
	m.status.Running = false
	m.status.Armed = false
	m.status.ArmedSeconds = 0
	m.statusLock.Unlock()
	m.closeWatchers()
	m.Log.Infof("Monitor loop exited")
}

// Sleep for d, or until the monitor is stopped
func (m *Monitor) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-m.clock.After(d):
	case <-m.ctx.Done():
	}
}

// Process a single frame
func (m *Monitor) step() stepResult {
	start := m.clock.Now()
	frame, err := m.source.NextFrame(m.ctx)
	if err != nil {
		if m.ctx.Err() != nil {
			return stepStop
		}
		return m.handleSourceError(err)
	}
	m.stages.AddSample("acquire", m.clock.Since(start))
	m.fps.AddFrame(m.clock.Now())

	start = m.clock.Now()
	dets, err := m.detector.DetectObjects(frame.Image, &m.opts.DetectionParams)
	m.stages.AddSample("detect", m.clock.Since(start))
	if err != nil {
		// The debouncer is not told about this frame, so an armed timer keeps running
		m.logThrottled("Error detecting objects: %v", err)
		m.statusLock.Lock()
		m.status.FramesSkipped++
		m.status.LastError = err.Error()
		m.statusLock.Unlock()
		return stepSkipped
	}

	hasTarget := nn.HasLabel(dets, m.opts.TargetLabel)
	now := m.clock.Now()
	var alert *alertdb.Alert
	if m.debouncer.Observe(hasTarget, now) == debounce.Fire {
		m.Log.Infof("%v visible for longer than %v, sending alert", m.opts.TargetLabel, m.opts.Threshold)
		start = m.clock.Now()
		alert = m.notifier.Notify(m.ctx, notifications.Alert{
			Time:    now,
			Camera:  m.source.Describe(),
			GeoHint: m.source.GeoHint(),
			Label:   m.opts.TargetLabel,
		})
		m.stages.AddSample("notify", m.clock.Since(start))
	}

	f := newFrame(frame, dets, hasTarget)

	m.statusLock.Lock()
	m.status.FramesProcessed++
	m.status.Detections += int64(len(dets))
	if hasTarget {
		m.status.TargetFrames++
	}
	if alert != nil {
		m.status.AlertsFired++
		if !alert.Delivered() {
			m.status.AlertsFailed++
		}
		m.status.LastAlert = alert
	}
	m.status.Armed = m.debouncer.Armed()
	m.status.ArmedSeconds = m.debouncer.Elapsed(now).Seconds()
	m.status.FPS = m.fps.FPS()
	m.latest = f
	m.statusLock.Unlock()

	m.sendToWatchers(f)
	return stepProcessed
}

func (m *Monitor) handleSourceError(err error) stepResult {
	switch camera.Classify(err) {
	case camera.ErrorKindDecode:
		m.Log.Debugf("Skipping frame: %v", err)
		m.statusLock.Lock()
		m.status.FramesSkipped++
		m.statusLock.Unlock()
		return stepSkipped
	case camera.ErrorKindFatal:
		if errors.Is(err, context.Canceled) {
			return stepStop
		}
		m.Log.Errorf("Camera %v failed: %v", m.source.Describe(), err)
		m.statusLock.Lock()
		m.status.LastError = err.Error()
		m.stopErr = err
		m.statusLock.Unlock()
		return stepStop
	}
	m.logThrottled("Camera error (retrying in %v): %v", m.opts.RetryDelay, err)
	m.statusLock.Lock()
	m.status.TransientErrors++
	m.status.LastError = err.Error()
	m.statusLock.Unlock()
	return stepRetry
}

// A camera that is down produces the same error every second, so don't flood the log
func (m *Monitor) logThrottled(format string, args ...any) {
	now := m.clock.Now()
	if m.lastErrAt.IsZero() || now.Sub(m.lastErrAt) > 15*time.Second {
		m.Log.Errorf(format, args...)
		m.lastErrAt = now
	}
}
