package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	App           string       `json:"app"`
	Version       string       `json:"version"`
	Simulation    bool         `json:"simulation"`
	Run           RunJSON      `json:"run"`
	NextRun       TimingsJSON  `json:"next_run"`
	Probes        []ProbeJSON  `json:"probes"`
	Counts        CountsJSON   `json:"counts"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	QueueDropped  int64        `json:"queue_dropped"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// RunJSON is the JSON representation of the engine state.
type RunJSON struct {
	RunID          string      `json:"run_id,omitempty"`
	Phase          string      `json:"phase"`
	Running        bool        `json:"running"`
	Cycle          int         `json:"cycle"`
	Operator       string      `json:"operator,omitempty"`
	StartTime      string      `json:"start_time,omitempty"`
	ElapsedSeconds int64       `json:"elapsed_seconds"`
	Config         TimingsJSON `json:"config"`
	LastFault      *FaultJSON  `json:"last_fault,omitempty"`
}

// TimingsJSON is the JSON representation of a cycle configuration.
type TimingsJSON struct {
	RaiseSeconds int `json:"raise_seconds"`
	LowerSeconds int `json:"lower_seconds"`
	DwellSeconds int `json:"dwell_seconds"`
	MaxCycles    int `json:"max_cycles"`
	MaxMinutes   int `json:"max_minutes"`
}

// FaultJSON is the JSON representation of the last fault.
type FaultJSON struct {
	Cause       string   `json:"cause"`
	Probe       string   `json:"probe,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	Limit       *float64 `json:"limit,omitempty"`
	Description string   `json:"description"`
}

// ProbeJSON is one probe with its latest reading and limit.
type ProbeJSON struct {
	Name   string   `json:"name"`
	Value  *float64 `json:"value"`
	Valid  bool     `json:"valid"`
	Limit  float64  `json:"limit"`
	ReadAt string   `json:"read_at,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of lifetime counts.
type CountsJSON struct {
	TotalCycles int    `json:"total_cycles"`
	TotalRuns   int    `json:"total_runs"`
	LastRunAt   string `json:"last_run_at,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs             int64  `json:"tick_ms"`
	TempIntervalMs     int64  `json:"temp_interval_ms"`
	SensorFaultAfterMs int64  `json:"sensor_fault_after_ms"`
	HeartbeatMs        int64  `json:"heartbeat_ms"`
	Broker             string `json:"broker"`
	HTTPPort           string `json:"http_port"`
}

func timings(c logic.CycleConfig) TimingsJSON {
	return TimingsJSON{
		RaiseSeconds: c.RaiseSeconds,
		LowerSeconds: c.LowerSeconds,
		DwellSeconds: c.DwellSeconds,
		MaxCycles:    c.MaxCycles,
		MaxMinutes:   c.MaxMinutes,
	}
}

func buildRun(run logic.RunState) RunJSON {
	phase := string(run.Phase)
	if phase == "" {
		phase = string(logic.PhaseIdle)
	}
	rj := RunJSON{
		RunID:          run.RunID,
		Phase:          phase,
		Running:        run.Phase.Running(),
		Cycle:          run.Cycle,
		Operator:       run.Operator,
		ElapsedSeconds: int64(run.Elapsed.Truncate(time.Second).Seconds()),
		Config:         timings(run.Config),
	}
	if !run.StartTime.IsZero() {
		rj.StartTime = run.StartTime.UTC().Format(time.RFC3339)
	}
	if f := run.LastFault; f != nil {
		fj := &FaultJSON{Cause: string(f.Cause), Probe: f.Probe, Description: f.String()}
		if f.Cause == logic.CauseWatchdogBreach {
			v, l := f.Value, f.Limit
			fj.Value, fj.Limit = &v, &l
		}
		rj.LastFault = fj
	}
	return rj
}

// buildProbes lists every known probe, including ones never read.
func buildProbes(snap Snapshot) []ProbeJSON {
	byName := make(map[string]thermal.Reading, len(snap.Probes))
	for _, r := range snap.Probes {
		byName[r.Name] = r
	}
	out := make([]ProbeJSON, 0, len(thermal.ProbeNames))
	for _, name := range thermal.ProbeNames {
		pj := ProbeJSON{Name: name, Limit: snap.Limits.For(name)}
		if r, ok := byName[name]; ok {
			pj.Valid = r.Valid
			if r.Valid {
				v := r.Value
				pj.Value = &v
			}
			if !r.Time.IsZero() {
				pj.ReadAt = r.Time.UTC().Format(time.RFC3339)
			}
		}
		out = append(out, pj)
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		App:           snap.Config.App,
		Version:       snap.Config.Version,
		Simulation:    snap.Config.Simulation,
		Run:           buildRun(snap.Run),
		NextRun:       timings(snap.NextRun),
		Probes:        buildProbes(snap),
		Counts:        CountsJSON{TotalCycles: snap.Counts.TotalCycles, TotalRuns: snap.Counts.TotalRuns},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		QueueDropped:  snap.QueueDropped,
		Config: ConfigJSON{
			TickMs:             snap.Config.TickMs,
			TempIntervalMs:     snap.Config.TempIntervalMs,
			SensorFaultAfterMs: snap.Config.SensorFaultAfterMs,
			HeartbeatMs:        snap.Config.HeartbeatMs,
			Broker:             snap.Config.Broker,
			HTTPPort:           snap.Config.HTTPPort,
		},
	}
	if snap.Counts.LastRunAt != nil {
		inner.Counts.LastRunAt = snap.Counts.LastRunAt.UTC().Format(time.RFC3339)
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
