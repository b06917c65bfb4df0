package monitor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/fallwatch/pkg/nn"
	"github.com/cyclopcam/fallwatch/server/alertdb"
	"github.com/cyclopcam/fallwatch/server/camera"
	"github.com/cyclopcam/fallwatch/server/notifications"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

const target = "Fall-Detected"

// One scripted camera frame
type shot struct {
	target    bool  // Detector reports the target in this frame
	err       error // NextFrame fails with this
	detectErr error // DetectObjects fails with this
}

var (
	T         = shot{target: true}
	F         = shot{}
	transient = shot{err: fmt.Errorf("%w: connection refused", camera.ErrTransient)}
	garbage   = shot{err: fmt.Errorf("%w: not a jpeg", camera.ErrDecode)}
	fatal     = shot{err: fmt.Errorf("%w: webcam unplugged", camera.ErrFatal)}
	detectErr = shot{target: true, detectErr: errors.New("onnx session failed")}
)

// fakeCamera plays back a script, advancing the mock clock by one second before every frame.
// When the script runs out it returns io.EOF, or if block is true, waits to be stopped.
type fakeCamera struct {
	clock   *clock.Mock
	script  []shot
	block   bool
	lock    sync.Mutex
	current shot
	closed  bool
}

func (c *fakeCamera) NextFrame(ctx context.Context) (*camera.Frame, error) {
	c.lock.Lock()
	if len(c.script) == 0 {
		c.lock.Unlock()
		if c.block {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, io.EOF
	}
	s := c.script[0]
	c.script = c.script[1:]
	c.current = s
	c.lock.Unlock()

	c.clock.Add(time.Second)
	if s.err != nil {
		return nil, s.err
	}
	return &camera.Frame{
		Image: image.NewRGBA(image.Rect(0, 0, 64, 48)),
		Time:  c.clock.Now(),
	}, nil
}

func (c *fakeCamera) Close() error {
	c.closed = true
	return nil
}

func (c *fakeCamera) Describe() string { return "fake" }
func (c *fakeCamera) GeoHint() string  { return "me" }

type fakeDetector struct {
	cam *fakeCamera
}

func (d *fakeDetector) Close() {}

func (d *fakeDetector) Config() *nn.ModelConfig {
	return &nn.ModelConfig{Architecture: "fake", Width: 64, Height: 48, Classes: []string{"person", target}}
}

func (d *fakeDetector) DetectObjects(img image.Image, params *nn.DetectionParams) ([]nn.Detection, error) {
	d.cam.lock.Lock()
	s := d.cam.current
	d.cam.lock.Unlock()
	if s.detectErr != nil {
		return nil, s.detectErr
	}
	dets := []nn.Detection{{Class: 0, Label: "person", Confidence: 0.9, Box: nn.Rect{X: 1, Y: 1, Width: 10, Height: 10}}}
	if s.target {
		dets = append(dets, nn.Detection{Class: 1, Label: target, Confidence: 0.85, Box: nn.Rect{X: 5, Y: 5, Width: 20, Height: 30}})
	}
	return dets, nil
}

type fakeNotifier struct {
	lock   sync.Mutex
	alerts []notifications.Alert
	fail   bool // Report every alert as undelivered
}

func (n *fakeNotifier) Notify(ctx context.Context, alert notifications.Alert) *alertdb.Alert {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.alerts = append(n.alerts, alert)
	if n.fail {
		return &alertdb.Alert{Label: alert.Label, Body: "sent", Error: "twilio unreachable"}
	}
	return &alertdb.Alert{Label: alert.Label, Body: "sent", SmsSID: fmt.Sprintf("SM%v", len(n.alerts))}
}

func (n *fakeNotifier) count() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return len(n.alerts)
}

type harness struct {
	clock    *clock.Mock
	cam      *fakeCamera
	notifier *fakeNotifier
	monitor  *Monitor
	start    time.Time
}

func newHarness(t *testing.T, threshold time.Duration, script ...shot) *harness {
	mock := clock.NewMock()
	cam := &fakeCamera{clock: mock, script: script}
	notifier := &fakeNotifier{}
	opts := DefaultOptions()
	opts.TargetLabel = target
	opts.Threshold = threshold
	opts.RetryDelay = 0
	opts.StatsInterval = 0
	opts.Clock = mock
	return &harness{
		clock:    mock,
		cam:      cam,
		notifier: notifier,
		monitor:  NewMonitor(logs.NewTestingLog(t), cam, &fakeDetector{cam: cam}, notifier, opts),
		start:    mock.Now(),
	}
}

// Run until the script is exhausted
func (h *harness) run(t *testing.T) Status {
	h.monitor.Start()
	select {
	case <-h.monitor.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("Monitor did not stop")
	}
	return h.monitor.Status()
}

func repeat(s shot, n int) []shot {
	r := []shot{}
	for i := 0; i < n; i++ {
		r = append(r, s)
	}
	return r
}

func TestFiresOnceAfterThreshold(t *testing.T) {
	// Frames at t=1..10. Armed at 1, fires at 7 (6s > 5s), re-armed at 8.
	h := newHarness(t, 5*time.Second, repeat(T, 10)...)
	status := h.run(t)
	require.Equal(t, 1, h.notifier.count())
	require.Equal(t, h.start.Add(7*time.Second), h.notifier.alerts[0].Time)
	require.Equal(t, target, h.notifier.alerts[0].Label)
	require.Equal(t, "me", h.notifier.alerts[0].GeoHint)
	require.Equal(t, int64(10), status.FramesProcessed)
	require.Equal(t, int64(10), status.TargetFrames)
	require.Equal(t, int64(20), status.Detections)
	require.Equal(t, int64(1), status.AlertsFired)
	require.Equal(t, int64(0), status.AlertsFailed)
	require.Equal(t, "sent", status.LastAlert.Body)
	require.False(t, status.Running)
	require.ErrorIs(t, h.monitor.Err(), io.EOF)
}

func TestAbsenceResetsTimer(t *testing.T) {
	script := append(repeat(T, 5), F)
	script = append(script, repeat(T, 6)...)
	h := newHarness(t, 5*time.Second, script...)
	h.run(t)
	require.Equal(t, 0, h.notifier.count())

	h = newHarness(t, 5*time.Second, append(script, T)...)
	h.run(t)
	require.Equal(t, 1, h.notifier.count())
	require.Equal(t, h.start.Add(13*time.Second), h.notifier.alerts[0].Time)
}

func TestTransientErrorsKeepRunning(t *testing.T) {
	// The armed timer survives camera errors: armed at 1, fires at 7
	script := []shot{T, transient, transient, T, T, T, T}
	h := newHarness(t, 5*time.Second, script...)
	status := h.run(t)
	require.Equal(t, 1, h.notifier.count())
	require.Equal(t, h.start.Add(7*time.Second), h.notifier.alerts[0].Time)
	require.Equal(t, int64(2), status.TransientErrors)
	require.Equal(t, int64(5), status.FramesProcessed)
	require.Contains(t, status.LastError, "connection refused")
}

func TestSkippedFramesDoNotUpdateDebouncer(t *testing.T) {
	script := []shot{T, garbage, detectErr, detectErr, T, T, T}
	h := newHarness(t, 5*time.Second, script...)
	status := h.run(t)
	require.Equal(t, 1, h.notifier.count())
	require.Equal(t, int64(3), status.FramesSkipped)
	require.Equal(t, int64(4), status.FramesProcessed)
}

func TestFailedAlertsAreCounted(t *testing.T) {
	h := newHarness(t, time.Second, repeat(T, 6)...)
	h.notifier.fail = true
	status := h.run(t)
	require.Equal(t, 2, h.notifier.count())
	require.Equal(t, int64(2), status.AlertsFired)
	require.Equal(t, int64(2), status.AlertsFailed)
	require.Equal(t, "twilio unreachable", status.LastAlert.Error)
}

// gatedCamera hands out one result per call, but only once the test supplies it.
// Each call first reports the mock time at which it was made.
type gatedCamera struct {
	clock   *clock.Mock
	calls   chan time.Time
	results chan error
}

func (c *gatedCamera) NextFrame(ctx context.Context) (*camera.Frame, error) {
	select {
	case c.calls <- c.clock.Now():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case err := <-c.results:
		if err != nil {
			return nil, err
		}
		return &camera.Frame{
			Image: image.NewRGBA(image.Rect(0, 0, 64, 48)),
			Time:  c.clock.Now(),
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *gatedCamera) Close() error     { return nil }
func (c *gatedCamera) Describe() string { return "gated" }
func (c *gatedCamera) GeoHint() string  { return "me" }

func TestRetryDelay(t *testing.T) {
	mock := clock.NewMock()
	cam := &gatedCamera{
		clock:   mock,
		calls:   make(chan time.Time),
		results: make(chan error),
	}
	opts := DefaultOptions()
	opts.TargetLabel = target
	opts.Threshold = 5 * time.Second
	opts.RetryDelay = 3 * time.Second
	opts.StatsInterval = 0
	opts.Clock = mock
	m := NewMonitor(logs.NewTestingLog(t), cam, &fakeDetector{cam: &fakeCamera{}}, &fakeNotifier{}, opts)
	m.Start()

	// Wait for the next NextFrame call, advancing the mock clock by 'step' while we wait.
	// With step = 0 the clock stands still, so a monitor that sleeps would never call again.
	nextCall := func(step time.Duration) time.Time {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			select {
			case at := <-cam.calls:
				return at
			case <-time.After(5 * time.Millisecond):
				if step > 0 {
					mock.Add(step)
				}
			}
		}
		t.Fatal("Timed out waiting for NextFrame")
		return time.Time{}
	}

	nextCall(0)
	failedAt := mock.Now()
	cam.results <- transient.err
	retryAt := nextCall(250 * time.Millisecond)
	require.GreaterOrEqual(t, retryAt.Sub(failedAt), opts.RetryDelay)

	// Bad frames are skipped without waiting
	skippedAt := mock.Now()
	cam.results <- garbage.err
	require.Equal(t, skippedAt, nextCall(0))

	// And so are good frames
	cam.results <- nil
	nextCall(0)

	status := m.Status()
	require.Equal(t, int64(1), status.TransientErrors)
	require.Equal(t, int64(1), status.FramesSkipped)
	require.Equal(t, int64(1), status.FramesProcessed)

	m.Stop()
	require.NoError(t, m.Err())
}

func TestFatalErrorStops(t *testing.T) {
	h := newHarness(t, 5*time.Second, T, fatal, T, T)
	status := h.run(t)
	require.Equal(t, int64(1), status.FramesProcessed)
	require.ErrorIs(t, h.monitor.Err(), camera.ErrFatal)
	require.False(t, status.Running)
	require.Len(t, h.cam.script, 2)
	h.monitor.Close()
	require.True(t, h.cam.closed)
}

func TestNegativeThreshold(t *testing.T) {
	// Fires on every second consecutive frame
	h := newHarness(t, -time.Second, repeat(T, 6)...)
	h.run(t)
	require.Equal(t, 3, h.notifier.count())
}

func TestStopAndWatchers(t *testing.T) {
	h := newHarness(t, 5*time.Second, T, F, T)
	h.cam.block = true
	frames := h.monitor.AddWatcher()
	defer h.monitor.RemoveWatcher(frames)
	h.monitor.Start()

	got := []*Frame{}
	for len(got) < 3 {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-time.After(10 * time.Second):
			t.Fatal("Timed out waiting for frames")
		}
	}
	require.True(t, got[0].HasTarget)
	require.False(t, got[1].HasTarget)
	require.Len(t, got[2].Detections, 2)
	require.Equal(t, got[2], h.monitor.LatestFrame())
	require.True(t, h.monitor.Status().Armed)

	h.monitor.Stop()
	_, ok := <-frames
	require.False(t, ok, "watcher channel must be closed when the monitor stops")
	require.NoError(t, h.monitor.Err())
	require.False(t, h.monitor.Status().Running)
	// Stop is idempotent
	h.monitor.Stop()
	// Late watchers get a closed channel
	_, ok = <-h.monitor.AddWatcher()
	require.False(t, ok)
}

func TestAnnotateAndEncode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	dets := []nn.Detection{{Label: target, Confidence: 0.9, Box: nn.Rect{X: 4, Y: 20, Width: 30, Height: 20}}}
	out := Annotate(img, dets)
	require.Equal(t, img.Bounds(), out.Bounds())
	// Left edge of the box is red
	c := out.RGBAAt(4, 30)
	require.Greater(t, c.R, uint8(128))
	require.Less(t, c.G, uint8(128))
	// Far from the box, the image is untouched
	require.Equal(t, uint8(0), out.RGBAAt(60, 45).R)

	jpg, err := EncodeJPEG(out, 85)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xD8}, jpg[:2])
}
