package thermal

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logic"
)

// DefaultLimit is the watchdog ceiling for probes without a configured limit.
const DefaultLimit = 60.0

// DefaultFaultAfter is how long a probe may stay unreadable before the run
// is faulted.
const DefaultFaultAfter = 120 * time.Second

// Limits maps probe name to its watchdog ceiling in degrees C.
type Limits map[string]float64

// DefaultLimits returns DefaultLimit for every probe.
func DefaultLimits() Limits {
	l := make(Limits, len(ProbeNames))
	for _, n := range ProbeNames {
		l[n] = DefaultLimit
	}
	return l
}

// For returns the limit for name, falling back to DefaultLimit.
func (l Limits) For(name string) float64 {
	if v, ok := l[name]; ok {
		return v
	}
	return DefaultLimit
}

// Reading is one probe sample. Valid is false when the probe did not respond.
type Reading struct {
	Name  string
	Value float64
	Valid bool
	Time  time.Time
	Err   string
}

type probeState struct {
	unreadable time.Duration
	last       Reading
}

// Monitor polls probes and reports watchdog breaches and sensor faults.
// It never acts on them; callers feed the faults to the engine.
type Monitor struct {
	mu         sync.Mutex
	probes     []Probe
	limits     Limits
	faultAfter time.Duration
	lastPoll   time.Time
	state      map[string]*probeState
}

// NewMonitor creates a monitor. The first Poll measures unreadable time
// from start.
func NewMonitor(probes []Probe, limits Limits, faultAfter time.Duration, start time.Time) *Monitor {
	if faultAfter <= 0 {
		faultAfter = DefaultFaultAfter
	}
	m := &Monitor{
		probes:     probes,
		faultAfter: faultAfter,
		lastPoll:   start,
		state:      make(map[string]*probeState, len(probes)),
	}
	m.limits = copyLimits(limits)
	for _, p := range probes {
		m.state[p.Name()] = &probeState{last: Reading{Name: p.Name()}}
	}
	return m
}

// Poll reads every probe once at now. Reads happen on the caller's
// goroutine; a control loop that must not block uses a Sampler and Record
// instead.
func (m *Monitor) Poll(now time.Time) ([]Reading, []logic.Fault) {
	return m.Record(now, ReadAll(m.probes))
}

// Record evaluates one batch of samples taken up to now. Samples for
// unknown probes are ignored.
func (m *Monitor) Record(now time.Time, samples []Sample) ([]Reading, []logic.Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()

	since := now.Sub(m.lastPoll)
	if since < 0 {
		since = 0
	}
	m.lastPoll = now

	readings := make([]Reading, 0, len(samples))
	var faults []logic.Fault

	for _, smp := range samples {
		st, ok := m.state[smp.Name]
		if !ok {
			continue
		}
		r := Reading{Name: smp.Name, Time: now}

		if smp.Err != nil {
			r.Err = smp.Err.Error()
			st.unreadable += since
			if st.unreadable >= m.faultAfter {
				faults = append(faults, logic.Fault{
					Cause:  logic.CauseSensorFault,
					Probe:  smp.Name,
					Detail: fmt.Sprintf("no reading for %s", st.unreadable.Round(time.Second)),
				})
			}
		} else {
			r.Value = smp.Value
			r.Valid = true
			st.unreadable = 0
			if limit := m.limits.For(smp.Name); smp.Value >= limit {
				faults = append(faults, logic.Fault{
					Cause: logic.CauseWatchdogBreach,
					Probe: smp.Name,
					Value: smp.Value,
					Limit: limit,
				})
			}
		}

		st.last = r
		readings = append(readings, r)
	}

	return readings, faults
}

// SetLimits replaces the watchdog limits used by later polls.
func (m *Monitor) SetLimits(limits Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = copyLimits(limits)
}

// Latest returns the most recent reading of every probe in probe order.
// Probes that have not been polled yet are returned with Valid=false and
// a zero Time.
func (m *Monitor) Latest() []Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Reading, 0, len(m.probes))
	for _, p := range m.probes {
		out = append(out, m.state[p.Name()].last)
	}
	return out
}

func copyLimits(l Limits) Limits {
	out := DefaultLimits()
	for k, v := range l {
		out[k] = v
	}
	return out
}
