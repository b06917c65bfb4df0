// Package debounce decides when a condition that is observed frame by frame
// has persisted for long enough to raise an alert.
package debounce

import "time"

// Decision is the outcome of a single observation
type Decision int

const (
	NoFire Decision = iota // Keep watching
	Fire                   // The condition has persisted for longer than the threshold
)

func (d Decision) String() string {
	if d == Fire {
		return "fire"
	}
	return "no fire"
}

// Debouncer tracks how long a target has been continuously observed.
// It is a tiny state machine with states Unarmed and Armed. Firing is a transient
// state that collapses straight back to Unarmed, so the next positive observation
// re-arms the timer from that moment.
//
// A Debouncer is not safe for concurrent use. It is owned by a single frame loop.
type Debouncer struct {
	threshold  time.Duration
	armed      bool
	armedSince time.Time
}

// Create a new Debouncer. A zero or negative threshold is legal, and causes a fire
// on the second consecutive positive observation.
func New(threshold time.Duration) *Debouncer {
	return &Debouncer{
		threshold: threshold,
	}
}

// Observe records one frame. frameHasTarget is true if the target was present in the frame.
func (d *Debouncer) Observe(frameHasTarget bool, now time.Time) Decision {
	if !frameHasTarget {
		d.Reset()
		return NoFire
	}
	if !d.armed {
		d.armed = true
		d.armedSince = now
		return NoFire
	}
	if now.Sub(d.armedSince) > d.threshold {
		d.Reset()
		return Fire
	}
	return NoFire
}

// Reset returns the debouncer to the Unarmed state
func (d *Debouncer) Reset() {
	d.armed = false
	d.armedSince = time.Time{}
}

// Returns true if the target has been seen, but we haven't fired yet
func (d *Debouncer) Armed() bool {
	return d.armed
}

// Returns the time at which the current run of positive observations started
func (d *Debouncer) ArmedSince() (time.Time, bool) {
	return d.armedSince, d.armed
}

func (d *Debouncer) Threshold() time.Duration {
	return d.threshold
}

// Elapsed returns how long the target has been continuously observed, as of 'now'.
// Returns zero if we are not armed.
func (d *Debouncer) Elapsed(now time.Time) time.Duration {
	if !d.armed {
		return 0
	}
	return now.Sub(d.armedSince)
}
