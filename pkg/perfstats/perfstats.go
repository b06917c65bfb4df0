package perfstats

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	*a = TimeAccumulator{}
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Max = max(a.Max, v)
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Stages holds one TimeAccumulator per named pipeline stage (eg "acquire", "detect").
// Stages is safe for concurrent use, so that an HTTP handler can read it while
// the frame loop writes to it.
type Stages struct {
	lock  sync.Mutex
	names []string // insertion order, for stable output
	acc   map[string]*TimeAccumulator
}

func NewStages(names ...string) *Stages {
	s := &Stages{
		acc: map[string]*TimeAccumulator{},
	}
	for _, n := range names {
		s.get(n)
	}
	return s
}

func (s *Stages) get(name string) *TimeAccumulator {
	a, ok := s.acc[name]
	if !ok {
		a = &TimeAccumulator{}
		s.acc[name] = a
		s.names = append(s.names, name)
	}
	return a
}

func (s *Stages) AddSample(name string, v time.Duration) {
	s.lock.Lock()
	s.get(name).AddSample(v)
	s.lock.Unlock()
}

// Returns a one-line summary such as "acquire 12ms (max 40ms), detect 80ms (max 95ms)"
func (s *Stages) Summary() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	parts := []string{}
	for _, n := range s.names {
		a := s.acc[n]
		parts = append(parts, fmt.Sprintf("%v %v (max %v)", n, a.Average().Round(time.Millisecond), a.Max.Round(time.Millisecond)))
	}
	return strings.Join(parts, ", ")
}

func (s *Stages) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, a := range s.acc {
		a.Reset()
	}
}
