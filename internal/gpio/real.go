//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logger"
	"github.com/warthog618/go-gpiocdev"
)

// RealGateway drives actual hardware using the Linux GPIO character device.
type RealGateway struct {
	chip    *gpiocdev.Chip
	outputs map[Output]*gpiocdev.Line
	buttons []*gpiocdev.Line
	events  chan ButtonEvent
	log     *logger.Logger
}

// NewRealGateway requests the output and button lines on chipName.
// Outputs start de-energized. Polarity is applied by the line request so
// callers always use logical levels. A button line that cannot be requested
// does not fail construction; the error is delivered on Buttons instead.
func NewRealGateway(chipName string, pins Pins, pol Polarity, debounce time.Duration, log *logger.Logger) (*RealGateway, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	g := &RealGateway{
		chip:    chip,
		outputs: make(map[Output]*gpiocdev.Line),
		events:  make(chan ButtonEvent, buttonQueueSize),
		log:     logger.OrNop(log).Named("gpio"),
	}

	for _, o := range []struct {
		out Output
		pin int
	}{
		{OutputRaise, pins.Raise},
		{OutputLower, pins.Lower},
		{OutputLedRaise, pins.LedRaise},
		{OutputLedLower, pins.LedLower},
	} {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
		if !pol.activeHigh(o.out) {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(o.pin, opts...)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", o.out, o.pin, err)
		}
		g.outputs[o.out] = line
	}

	for _, b := range []struct {
		id  ButtonID
		pin int
	}{
		{ButtonStart, pins.StartButton},
		{ButtonStop, pins.StopButton},
	} {
		// Buttons pull the line low when pressed.
		opts := []gpiocdev.LineReqOption{
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithEventHandler(g.handler(b.id)),
		}
		if debounce > 0 {
			opts = append(opts, gpiocdev.WithDebounce(debounce))
		}
		line, err := chip.RequestLine(b.pin, opts...)
		if err != nil {
			err = fmt.Errorf("request %s button pin %d: %w", b.id, b.pin, err)
			g.log.Errorw("button unavailable", "button", b.id, "err", err)
			g.emit(ButtonEvent{Button: b.id, Time: time.Now(), Err: err})
			continue
		}
		g.buttons = append(g.buttons, line)
	}

	return g, nil
}

func (g *RealGateway) handler(id ButtonID) func(gpiocdev.LineEvent) {
	return func(evt gpiocdev.LineEvent) {
		if evt.Type != gpiocdev.LineEventFallingEdge {
			return
		}
		g.emit(ButtonEvent{Button: id, Time: time.Now()})
	}
}

// emit never blocks the gpiocdev watcher goroutine.
func (g *RealGateway) emit(ev ButtonEvent) {
	select {
	case g.events <- ev:
	default:
		g.log.Warnw("button press dropped, queue full", "button", ev.Button)
	}
}

// SetRaiseOutput drives the raise relay.
func (g *RealGateway) SetRaiseOutput(on bool) error { return g.set(OutputRaise, on) }

// SetLowerOutput drives the lower relay.
func (g *RealGateway) SetLowerOutput(on bool) error { return g.set(OutputLower, on) }

// SetRaiseLed drives the raise indicator.
func (g *RealGateway) SetRaiseLed(on bool) error { return g.set(OutputLedRaise, on) }

// SetLowerLed drives the lower indicator.
func (g *RealGateway) SetLowerLed(on bool) error { return g.set(OutputLedLower, on) }

func (g *RealGateway) set(out Output, on bool) error {
	line, ok := g.outputs[out]
	if !ok {
		return fmt.Errorf("output %s not requested", out)
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set %s: %w", out, err)
	}
	return nil
}

// Buttons returns the button press channel.
func (g *RealGateway) Buttons() <-chan ButtonEvent {
	return g.events
}

// Close drives every output inactive before releasing the lines so the
// barrier is left de-energized.
func (g *RealGateway) Close() error {
	var errs []error

	for out, line := range g.outputs {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", out, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", out, err))
		}
	}
	g.outputs = nil

	for _, line := range g.buttons {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button line: %w", err))
		}
	}
	g.buttons = nil

	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}

	return errors.Join(errs...)
}
