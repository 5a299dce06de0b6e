// Package gpio provides the barrier relay/LED outputs and operator buttons
// with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The simulated implementation logs and records commands instead of driving pins.
package gpio

import "time"

// Gateway drives the barrier interface outputs and reports button presses.
// It satisfies logic.Actuator.
type Gateway interface {
	SetRaiseOutput(on bool) error
	SetLowerOutput(on bool) error
	SetRaiseLed(on bool) error
	SetLowerLed(on bool) error

	// Buttons delivers operator button presses. The channel is never closed.
	Buttons() <-chan ButtonEvent

	// Close de-energizes all outputs and releases GPIO resources.
	Close() error
}

// ButtonID identifies an operator push button.
type ButtonID string

const (
	ButtonStart ButtonID = "START"
	ButtonStop  ButtonID = "STOP"
)

// ButtonEvent is a single button press. Err is set when the input itself
// failed; the press should then be reported, not acted on.
type ButtonEvent struct {
	Button ButtonID
	Time   time.Time
	Err    error
}

// Output names a gateway output line.
type Output string

const (
	OutputRaise    Output = "raise"
	OutputLower    Output = "lower"
	OutputLedRaise Output = "led_raise"
	OutputLedLower Output = "led_lower"
)

// Pin definitions (BCM numbering)
const (
	DefaultPinRaise       = 17
	DefaultPinLower       = 27
	DefaultPinStartButton = 22
	DefaultPinStopButton  = 23
	DefaultPinLedRaise    = 5
	DefaultPinLedLower    = 6
)

// Pins maps each line to a BCM offset on the chip.
type Pins struct {
	Raise       int
	Lower       int
	LedRaise    int
	LedLower    int
	StartButton int
	StopButton  int
}

// DefaultPins returns the standard interface wiring.
func DefaultPins() Pins {
	return Pins{
		Raise:       DefaultPinRaise,
		Lower:       DefaultPinLower,
		LedRaise:    DefaultPinLedRaise,
		LedLower:    DefaultPinLedLower,
		StartButton: DefaultPinStartButton,
		StopButton:  DefaultPinStopButton,
	}
}

// Polarity selects active-high or active-low drive per output group.
type Polarity struct {
	RelayActiveHigh bool
	LedActiveHigh   bool
}

// DefaultPolarity drives relays and LEDs active-high.
func DefaultPolarity() Polarity {
	return Polarity{RelayActiveHigh: true, LedActiveHigh: true}
}

func (p Polarity) activeHigh(out Output) bool {
	if out == OutputLedRaise || out == OutputLedLower {
		return p.LedActiveHigh
	}
	return p.RelayActiveHigh
}

// RawLevel converts a logical level to the physical line value for out.
func (p Polarity) RawLevel(out Output, on bool) int {
	if on == p.activeHigh(out) {
		return 1
	}
	return 0
}

// buttonQueueSize bounds queued presses; extra presses are dropped.
const buttonQueueSize = 8
