package mqtt

import (
	"context"
	"errors"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/notify"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

// ErrDisabled is returned by NopPublisher.SendAlert.
var ErrDisabled = errors.New("mqtt disabled: no broker configured")

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(logic.Event) error { return nil }

func (NopPublisher) PublishSystem(SystemEvent) error { return nil }

func (NopPublisher) PublishTelemetry(time.Time, []thermal.Reading) error { return nil }

func (NopPublisher) Close() error { return nil }

func (NopPublisher) IsConnected() bool { return false }

// SendAlert fails so that alerts are never silently lost.
func (NopPublisher) SendAlert(context.Context, notify.Alert) error {
	return ErrDisabled
}
