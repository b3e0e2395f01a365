package clone

import (
	"fmt"
	"time"
)

const (
	sampleInterval = 500 * time.Millisecond
	settlePeriod   = 10 * time.Second
	refreshPeriod  = 2 * time.Second
	sampleWindow   = 60 * time.Second
)

type sample struct {
	at     time.Time
	copied int64
}

// Estimator turns cumulative byte counts into a time-remaining estimate
// using the average throughput over roughly the last minute.
type Estimator struct {
	total      int64
	samples    []sample
	settled    bool
	lastUpdate time.Time
}

// NewEstimator starts estimating a copy of total bytes beginning at start.
func NewEstimator(total int64, start time.Time) *Estimator {
	return &Estimator{
		total:      total,
		samples:    []sample{{at: start}},
		lastUpdate: start,
	}
}

// Observe records that copied bytes are done at now. It returns the
// remaining time and true only when a new estimate should be shown: never
// during the first ten seconds, then at most every two seconds.
func (e *Estimator) Observe(now time.Time, copied int64) (time.Duration, bool) {
	if now.Sub(e.samples[len(e.samples)-1].at) < sampleInterval {
		return 0, false
	}
	e.samples = append(e.samples, sample{at: now, copied: copied})

	if !e.settled && now.Sub(e.samples[0].at) >= settlePeriod {
		e.settled = true
	}
	if !e.settled || now.Sub(e.lastUpdate) < refreshPeriod {
		return 0, false
	}
	e.lastUpdate = now

	for now.Sub(e.samples[0].at) > sampleWindow && now.Sub(e.samples[1].at) >= sampleWindow {
		e.samples = e.samples[1:]
	}

	first, last := e.samples[0], e.samples[len(e.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	speed := float64(last.copied-first.copied) / elapsed
	if speed <= 0 {
		return 0, false
	}
	secs := int64(float64(e.total-copied) / speed)
	return time.Duration(secs) * time.Second, true
}

// Samples returns how many samples are in the window.
func (e *Estimator) Samples() int { return len(e.samples) }

// FormatRemaining renders d as minutes:seconds.
func FormatRemaining(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
