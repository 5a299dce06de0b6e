package thermal

import (
	"context"
	"time"
)

// Sample is the raw result of reading one probe.
type Sample struct {
	Name  string
	Value float64
	Err   error
}

// ReadAll reads every probe once, in order.
func ReadAll(probes []Probe) []Sample {
	out := make([]Sample, len(probes))
	for i, p := range probes {
		v, err := p.Read()
		out[i] = Sample{Name: p.Name(), Value: v, Err: err}
	}
	return out
}

// Sampler reads the probes on its own goroutine. A DS18B20 conversion takes
// about 750ms per probe, so the control loop only receives finished batches.
type Sampler struct {
	probes []Probe
	out    chan []Sample
}

// NewSampler returns a sampler for probes. Call Run to start it.
func NewSampler(probes []Probe) *Sampler {
	return &Sampler{probes: probes, out: make(chan []Sample, 1)}
}

// Batches delivers one batch per tick. A batch the consumer has not taken
// yet is replaced by the newer one.
func (s *Sampler) Batches() <-chan []Sample {
	return s.out
}

// Run reads every probe on each tick until ctx is done.
func (s *Sampler) Run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		}
		batch := ReadAll(s.probes)

		// Keep only the freshest batch.
		select {
		case <-s.out:
		default:
		}
		select {
		case s.out <- batch:
		case <-ctx.Done():
			return
		}
	}
}
