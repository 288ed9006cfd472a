package perfstats

import (
	"fmt"
	"time"
)

// Two scalars (N samples and X total amount), which can measure total and average values.
type Accumulator struct {
	Samples int64
	Total   float64
}

func (a *Accumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *Accumulator) AddSample(v float64) {
	a.Samples++
	a.Total += v
}

func (a *Accumulator) Average() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.Total / float64(a.Samples)
}

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

// Measure the time since start, and add it as a sample
func (a *TimeAccumulator) Since(start time.Time) {
	a.AddSample(time.Since(start))
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Per-stage timings of one run of the video pipeline
type Pipeline struct {
	Decode   TimeAccumulator
	Extract  TimeAccumulator
	Classify TimeAccumulator
}

func (p *Pipeline) String() string {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return fmt.Sprintf("decode %.2f ms x %v, extract %.2f ms x %v, classify %.2f ms x %v",
		ms(p.Decode.Average()), p.Decode.Samples,
		ms(p.Extract.Average()), p.Extract.Samples,
		ms(p.Classify.Average()), p.Classify.Samples)
}
