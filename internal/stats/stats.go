package stats

import (
	"sync/atomic"
	"time"
)

// Stats holds real-time aggregated metrics. Writers are the reactor
// goroutine; readers are the progress views.
type Stats struct {
	Attempts uint64
	Failures uint64
	LoggedIn uint64

	Published uint64
	Received  uint64 // notification units
	Pongs     uint64
	Rounds    uint64

	// Per-round duration (microseconds)
	RoundTime *SafeHistogram
}

func NewStats() *Stats {
	return &Stats{
		RoundTime: NewSafeHistogram(),
	}
}

func (s *Stats) SetRamp(attempts, failures, loggedIn int) {
	atomic.StoreUint64(&s.Attempts, uint64(attempts))
	atomic.StoreUint64(&s.Failures, uint64(failures))
	atomic.StoreUint64(&s.LoggedIn, uint64(loggedIn))
}

func (s *Stats) AddPublished(n int) {
	atomic.AddUint64(&s.Published, uint64(n))
}

func (s *Stats) AddReceived(units int) {
	atomic.AddUint64(&s.Received, uint64(units))
}

func (s *Stats) AddPong() {
	atomic.AddUint64(&s.Pongs, 1)
}

func (s *Stats) AddRound(d time.Duration) {
	atomic.AddUint64(&s.Rounds, 1)
	s.RoundTime.RecordDuration(d)
}

func (s *Stats) Reset() {
	atomic.StoreUint64(&s.Attempts, 0)
	atomic.StoreUint64(&s.Failures, 0)
	atomic.StoreUint64(&s.LoggedIn, 0)
	atomic.StoreUint64(&s.Published, 0)
	atomic.StoreUint64(&s.Received, 0)
	atomic.StoreUint64(&s.Pongs, 0)
	atomic.StoreUint64(&s.Rounds, 0)
	s.RoundTime.Reset()
}

func (s *Stats) GetP50Round() float64 {
	return float64(s.RoundTime.ValueAtQuantile(50)) / 1000.0 // ms
}

func (s *Stats) GetP90Round() float64 {
	return float64(s.RoundTime.ValueAtQuantile(90)) / 1000.0 // ms
}

func (s *Stats) GetP99Round() float64 {
	return float64(s.RoundTime.ValueAtQuantile(99)) / 1000.0 // ms
}

// RoundAvgMs returns the mean round time in milliseconds
func (s *Stats) RoundAvgMs() float64 {
	return s.RoundTime.Mean() / 1000.0
}

func (s *Stats) RoundMaxMs() float64 {
	return float64(s.RoundTime.Max()) / 1000.0
}
