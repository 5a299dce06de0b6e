// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/notify"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

// Topic is the MQTT topic for engine events.
const Topic = "lc-interface-test/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "lc-interface-test/system"

// TopicTelemetry is the MQTT topic for probe readings.
const TopicTelemetry = "lc-interface-test/telemetry"

// TopicAlerts is the MQTT topic consumed by the mail relay.
const TopicAlerts = "lc-interface-test/alerts/email"

// Publisher publishes to MQTT.
type Publisher interface {
	// Publish sends an engine event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// PublishTelemetry sends one poll worth of probe readings.
	PublishTelemetry(at time.Time, readings []thermal.Reading) error

	// SendAlert hands an email alert to the relay.
	SendAlert(ctx context.Context, alert notify.Alert) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for an engine event.
type Payload struct {
	Event EventPayload `json:"event"`
}

// EventPayload contains the engine event details.
type EventPayload struct {
	Timestamp   string   `json:"timestamp"`
	Kind        string   `json:"kind"`
	RunID       string   `json:"run_id,omitempty"`
	Phase       string   `json:"phase"`
	Cycle       int      `json:"cycle"`
	Description string   `json:"description"`
	Cause       string   `json:"cause,omitempty"`
	Probe       string   `json:"probe,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	Limit       *float64 `json:"limit,omitempty"`
}

// FormatPayload creates the JSON payload for an engine event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := EventPayload{
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
		Kind:        string(event.Kind),
		RunID:       event.RunID,
		Phase:       string(event.Phase),
		Cycle:       event.Cycle,
		Description: event.Description,
	}
	if f := event.Fault; f != nil {
		p.Cause = string(f.Cause)
		p.Probe = f.Probe
		if f.Cause == logic.CauseWatchdogBreach {
			v, l := f.Value, f.Limit
			p.Value, p.Limit = &v, &l
		}
	}
	return json.Marshal(Payload{Event: p})
}

// TelemetryPayload represents the MQTT message payload for probe readings.
type TelemetryPayload struct {
	Telemetry TelemetryInner `json:"telemetry"`
}

// TelemetryInner contains one poll of readings.
type TelemetryInner struct {
	Timestamp string         `json:"timestamp"`
	Probes    []ProbePayload `json:"probes"`
}

// ProbePayload is one probe reading. Value is null when the probe did
// not respond.
type ProbePayload struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
	Valid bool     `json:"valid"`
}

// FormatTelemetryPayload creates the JSON payload for probe readings.
func FormatTelemetryPayload(at time.Time, readings []thermal.Reading) ([]byte, error) {
	probes := make([]ProbePayload, 0, len(readings))
	for _, r := range readings {
		pp := ProbePayload{Name: r.Name, Valid: r.Valid}
		if r.Valid {
			v := r.Value
			pp.Value = &v
		}
		probes = append(probes, pp)
	}
	return json.Marshal(TelemetryPayload{Telemetry: TelemetryInner{
		Timestamp: at.UTC().Format(time.RFC3339),
		Probes:    probes,
	}})
}

// AlertPayload wraps an alert for the mail relay.
type AlertPayload struct {
	Alert notify.Alert `json:"alert"`
}

// FormatAlertPayload creates the JSON payload for an alert.
func FormatAlertPayload(alert notify.Alert) ([]byte, error) {
	return json.Marshal(AlertPayload{Alert: alert})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
