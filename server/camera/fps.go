package camera

import (
	"math"
	"slices"
	"time"
)

// FPSEstimator tracks the intervals between recent frames.
// Snapshot cameras are polled as fast as detection allows, so the rate
// can drift a lot, and can easily fall below 1 FPS on slow hardware.
type FPSEstimator struct {
	last      time.Time
	intervals []time.Duration
	next      int
}

// Keep this many intervals
const fpsWindow = 15

// Record the acquisition time of a frame
func (e *FPSEstimator) AddFrame(t time.Time) {
	if !e.last.IsZero() && t.After(e.last) {
		if len(e.intervals) < fpsWindow {
			e.intervals = append(e.intervals, t.Sub(e.last))
		} else {
			e.intervals[e.next] = t.Sub(e.last)
			e.next = (e.next + 1) % fpsWindow
		}
	}
	e.last = t
}

// Returns 0 until at least one interval has been observed
func (e *FPSEstimator) FPS() float64 {
	if len(e.intervals) == 0 {
		return 0
	}
	return EstimateFPS(e.intervals)
}

// Given a set of consecutive frame intervals, estimate the frames per second from the median interval.
// Rates of 1 FPS and above are rounded to a tenth of a frame.
// Below 1 FPS we round the seconds-per-frame instead, so 2.1s between frames reports 0.5.
func EstimateFPS(frameIntervals []time.Duration) float64 {
	if len(frameIntervals) == 0 {
		return 0
	}
	sorted := slices.Clone(frameIntervals)
	slices.Sort(sorted)
	mid := sorted[len(sorted)/2]
	if mid <= 0 {
		return 0
	}
	fps := float64(time.Second) / float64(mid)
	if fps >= 0.95 {
		return math.Round(fps*10) / 10
	}
	return 1 / math.Round(1/fps)
}
