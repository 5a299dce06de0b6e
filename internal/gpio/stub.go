//go:build !linux

package gpio

import (
	"errors"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logger"
)

var errUnsupported = errors.New("gpio: not supported")

// RealGateway is not available on non-Linux platforms.
type RealGateway struct{}

// NewRealGateway returns an error on non-Linux platforms.
func NewRealGateway(chipName string, pins Pins, pol Polarity, debounce time.Duration, log *logger.Logger) (*RealGateway, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

func (g *RealGateway) SetRaiseOutput(on bool) error { return errUnsupported }
func (g *RealGateway) SetLowerOutput(on bool) error { return errUnsupported }
func (g *RealGateway) SetRaiseLed(on bool) error    { return errUnsupported }
func (g *RealGateway) SetLowerLed(on bool) error    { return errUnsupported }

// Buttons returns a channel that never delivers.
func (g *RealGateway) Buttons() <-chan ButtonEvent { return nil }

// Close is a no-op on non-Linux platforms.
func (g *RealGateway) Close() error { return nil }
