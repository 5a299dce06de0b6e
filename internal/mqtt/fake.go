package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/notify"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

// FakePublisher records published messages for test assertions.
// Safe for concurrent use; read results through the accessor methods.
type FakePublisher struct {
	mu sync.Mutex

	events         []logic.Event
	payloads       [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte
	telemetry      [][]thermal.Reading
	alerts         []notify.Alert

	publishError       error
	publishSystemError error
	alertError         error

	closed    bool
	connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the engine event.
func (f *FakePublisher) Publish(event logic.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.publishError != nil {
		return f.publishError
	}
	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.publishSystemError != nil {
		return f.publishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// PublishTelemetry records the readings.
func (f *FakePublisher) PublishTelemetry(at time.Time, readings []thermal.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetry = append(f.telemetry, append([]thermal.Reading(nil), readings...))
	return nil
}

// SendAlert records the alert.
func (f *FakePublisher) SendAlert(ctx context.Context, alert notify.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alertError != nil {
		return f.alertError
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

// SetPublishError makes Publish fail with err.
func (f *FakePublisher) SetPublishError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishError = err
}

// SetPublishSystemError makes PublishSystem fail with err.
func (f *FakePublisher) SetPublishSystemError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishSystemError = err
}

// SetAlertError makes SendAlert fail with err.
func (f *FakePublisher) SetAlertError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertError = err
}

// Events returns the published engine events.
func (f *FakePublisher) Events() []logic.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Event(nil), f.events...)
}

// Payloads returns the JSON payloads of the published engine events.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// SystemEvents returns the published system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns the JSON payloads of the published system events.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Telemetry returns every published batch of readings.
func (f *FakePublisher) Telemetry() [][]thermal.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]thermal.Reading(nil), f.telemetry...)
}

// Alerts returns the alerts handed to the relay.
func (f *FakePublisher) Alerts() []notify.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Alert(nil), f.alerts...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded messages and injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
	f.payloads = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.telemetry = nil
	f.alerts = nil
	f.publishError = nil
	f.publishSystemError = nil
	f.alertError = nil
	f.closed = false
	f.connected = false
}
