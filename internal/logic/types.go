// Package logic contains the pure barrier cycle test state machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the current step of a cycle test run.
type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseRaising  Phase = "RAISING"
	PhaseRaised   Phase = "RAISED"
	PhaseDwelling Phase = "DWELLING"
	PhaseLowering Phase = "LOWERING"
	PhaseLowered  Phase = "LOWERED"
	PhaseStopped  Phase = "STOPPED"
	PhaseFaulted  Phase = "FAULTED"
)

// Running reports whether the phase belongs to an active run.
func (p Phase) Running() bool {
	switch p {
	case PhaseRaising, PhaseRaised, PhaseDwelling, PhaseLowering, PhaseLowered:
		return true
	}
	return false
}

// EventKind classifies an engine event.
type EventKind string

const (
	EventCycleStart     EventKind = "CYCLE_START"
	EventPhaseChange    EventKind = "PHASE_CHANGE"
	EventFault          EventKind = "FAULT"
	EventAutoStop       EventKind = "AUTO_STOP"
	EventOperatorAction EventKind = "OPERATOR_ACTION"
)

// Timing bounds accepted by CycleConfig.
const (
	MinStepSeconds  = 1
	MaxStepSeconds  = 180
	MinDwellSeconds = 0
	MaxDwellSeconds = 60
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("cycle test already running")
	// ErrInvalidConfig is returned by Start for out-of-range timings.
	ErrInvalidConfig = errors.New("invalid cycle config")
)

// CycleConfig is the immutable timing snapshot taken when a run starts.
type CycleConfig struct {
	RaiseSeconds int
	LowerSeconds int
	DwellSeconds int
	MaxCycles    int // 0 = unlimited
	MaxMinutes   int // 0 = unlimited
}

// DefaultCycleConfig returns the factory timings.
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{RaiseSeconds: 1, LowerSeconds: 1}
}

// Validate returns an error wrapping ErrInvalidConfig for the first
// out-of-range field.
func (c CycleConfig) Validate() error {
	switch {
	case c.RaiseSeconds < MinStepSeconds || c.RaiseSeconds > MaxStepSeconds:
		return fmt.Errorf("%w: raise_seconds %d not in [%d,%d]", ErrInvalidConfig, c.RaiseSeconds, MinStepSeconds, MaxStepSeconds)
	case c.LowerSeconds < MinStepSeconds || c.LowerSeconds > MaxStepSeconds:
		return fmt.Errorf("%w: lower_seconds %d not in [%d,%d]", ErrInvalidConfig, c.LowerSeconds, MinStepSeconds, MaxStepSeconds)
	case c.DwellSeconds < MinDwellSeconds || c.DwellSeconds > MaxDwellSeconds:
		return fmt.Errorf("%w: dwell_seconds %d not in [%d,%d]", ErrInvalidConfig, c.DwellSeconds, MinDwellSeconds, MaxDwellSeconds)
	case c.MaxCycles < 0:
		return fmt.Errorf("%w: max_cycles %d is negative", ErrInvalidConfig, c.MaxCycles)
	case c.MaxMinutes < 0:
		return fmt.Errorf("%w: max_minutes %d is negative", ErrInvalidConfig, c.MaxMinutes)
	}
	return nil
}

func (c CycleConfig) raise() time.Duration { return time.Duration(c.RaiseSeconds) * time.Second }
func (c CycleConfig) lower() time.Duration { return time.Duration(c.LowerSeconds) * time.Second }
func (c CycleConfig) dwell() time.Duration { return time.Duration(c.DwellSeconds) * time.Second }

// FaultCause names why a run was faulted.
type FaultCause string

const (
	CauseSensorFault     FaultCause = "SENSOR_FAULT"
	CauseWatchdogBreach  FaultCause = "WATCHDOG_BREACH"
	CauseHardwareCommand FaultCause = "HARDWARE_COMMAND_FAILURE"
)

// Fault describes the trigger of a fatal stop.
type Fault struct {
	Cause  FaultCause
	Probe  string  // empty for hardware faults
	Value  float64 // probe reading (watchdog breach only)
	Limit  float64 // watchdog ceiling (watchdog breach only)
	Detail string
}

func (f Fault) String() string {
	switch f.Cause {
	case CauseWatchdogBreach:
		return fmt.Sprintf("watchdog breach: %s %.1fC >= limit %.1fC", f.Probe, f.Value, f.Limit)
	case CauseSensorFault:
		if f.Detail != "" {
			return fmt.Sprintf("sensor fault: %s (%s)", f.Probe, f.Detail)
		}
		return fmt.Sprintf("sensor fault: %s", f.Probe)
	default:
		return fmt.Sprintf("hardware command failure: %s", f.Detail)
	}
}

// Event is a structured engine event to be logged and published.
type Event struct {
	Timestamp   time.Time
	Kind        EventKind
	RunID       string
	Phase       Phase // phase after the event
	Cycle       int   // completed cycles at the time of the event
	Description string
	Fault       *Fault // set for EventFault only
}

// RunState is a point-in-time copy of the engine state.
type RunState struct {
	RunID      string
	Phase      Phase
	Cycle      int
	Operator   string
	Config     CycleConfig
	StartTime  time.Time
	PhaseSince time.Time
	Elapsed    time.Duration // run time as of the last engine call
	LastFault  *Fault
}

// ElapsedMinutes returns whole minutes of run time.
func (s RunState) ElapsedMinutes() int {
	return int(s.Elapsed / time.Minute)
}

// Actuator is the hardware the engine commands. Implementations must
// return promptly; any error is treated as fatal to the run.
type Actuator interface {
	SetRaiseOutput(on bool) error
	SetLowerOutput(on bool) error
	SetRaiseLed(on bool) error
	SetLowerLed(on bool) error
}
