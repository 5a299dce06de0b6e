// Package status provides a thread-safe status tracker for the cycle test daemon.
// It is read by the HTTP handlers, the websocket push and the MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/settings"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	App                string
	Version            string
	Simulation         bool
	TickMs             int64
	TempIntervalMs     int64
	SensorFaultAfterMs int64
	HeartbeatMs        int64
	Broker             string
	HTTPPort           string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Run           logic.RunState
	NextRun       logic.CycleConfig // timings the next Start will use
	Limits        thermal.Limits
	Probes        []thermal.Reading
	Counts        settings.Counts
	QueueDropped  int64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Run:       logic.RunState{Phase: logic.PhaseIdle},
			Limits:    thermal.DefaultLimits(),
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// UpdateRun records the engine state. Called from runLoop after every
// engine call.
func (t *Tracker) UpdateRun(run logic.RunState) {
	if run.LastFault != nil {
		f := *run.LastFault
		run.LastFault = &f
	}
	t.mu.Lock()
	t.snap.Run = run
	t.mu.Unlock()
}

// SetSettings records the timings and limits that apply to the next run.
func (t *Tracker) SetSettings(next logic.CycleConfig, limits thermal.Limits) {
	l := make(thermal.Limits, len(limits))
	for k, v := range limits {
		l[k] = v
	}
	t.mu.Lock()
	t.snap.NextRun = next
	t.snap.Limits = l
	t.mu.Unlock()
}

// SetProbes records the latest probe readings.
func (t *Tracker) SetProbes(readings []thermal.Reading) {
	r := append([]thermal.Reading(nil), readings...)
	t.mu.Lock()
	t.snap.Probes = r
	t.mu.Unlock()
}

// SetCounts records the lifetime counters.
func (t *Tracker) SetCounts(c settings.Counts) {
	t.mu.Lock()
	t.snap.Counts = c
	t.mu.Unlock()
}

// SetQueueDropped records how many side-effect jobs were dropped.
func (t *Tracker) SetQueueDropped(n int64) {
	t.mu.Lock()
	t.snap.QueueDropped = n
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Probes = append([]thermal.Reading(nil), t.snap.Probes...)
	s.Limits = make(thermal.Limits, len(t.snap.Limits))
	for k, v := range t.snap.Limits {
		s.Limits[k] = v
	}
	if t.snap.Run.LastFault != nil {
		f := *t.snap.Run.LastFault
		s.Run.LastFault = &f
	}
	if t.snap.Counts.LastRunAt != nil {
		at := *t.snap.Counts.LastRunAt
		s.Counts.LastRunAt = &at
	}
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
