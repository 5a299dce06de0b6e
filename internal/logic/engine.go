package logic

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Engine owns the raise/lower/dwell state machine of a cycle test run.
// All methods are safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	act      Actuator
	newRunID func() string
	runs     int
	state    RunState
}

// NewEngine creates an idle engine driving act. newRunID supplies run
// identifiers; nil falls back to a per-process sequence.
func NewEngine(act Actuator, newRunID func() string) *Engine {
	return &Engine{
		act:      act,
		newRunID: newRunID,
		state:    RunState{Phase: PhaseIdle},
	}
}

// Start begins a new run with cfg. It fails with ErrAlreadyRunning while a
// run is active and with ErrInvalidConfig for out-of-range timings.
func (e *Engine) Start(cfg CycleConfig, operator string, now time.Time) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase.Running() {
		return nil, ErrAlreadyRunning
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e.runs++
	runID := strconv.Itoa(e.runs)
	if e.newRunID != nil {
		runID = e.newRunID()
	}
	e.state = RunState{
		RunID:      runID,
		Phase:      PhaseIdle,
		Operator:   operator,
		Config:     cfg,
		StartTime:  now,
		PhaseSince: now,
	}

	who := operator
	if who == "" {
		who = "unknown operator"
	}
	events := []Event{e.event(now, EventCycleStart, fmt.Sprintf(
		"run started by %s: raise=%ds lower=%ds dwell=%ds max_cycles=%d max_minutes=%d",
		who, cfg.RaiseSeconds, cfg.LowerSeconds, cfg.DwellSeconds, cfg.MaxCycles, cfg.MaxMinutes))}

	return e.enter(now, PhaseRaising, events), nil
}

// Tick advances the state machine to now. Every transition that is due is
// applied; transient phases (RAISED, LOWERED) are emitted and passed through
// within the same call.
func (e *Engine) Tick(now time.Time) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.Phase.Running() {
		return nil
	}
	e.state.Elapsed = now.Sub(e.state.StartTime)

	var events []Event
	for e.state.Phase.Running() {
		var advanced bool
		events, advanced = e.step(now, events)
		if !advanced {
			break
		}
	}
	return events
}

// step applies at most one transition.
func (e *Engine) step(now time.Time, events []Event) ([]Event, bool) {
	cfg := e.state.Config
	inPhase := now.Sub(e.state.PhaseSince)

	switch e.state.Phase {
	case PhaseRaising:
		if inPhase < cfg.raise() {
			return events, false
		}
		return e.enter(now, PhaseRaised, events), true

	case PhaseRaised:
		if cfg.DwellSeconds > 0 {
			return e.enter(now, PhaseDwelling, events), true
		}
		return e.enter(now, PhaseLowering, events), true

	case PhaseDwelling:
		if inPhase < cfg.dwell() {
			return events, false
		}
		return e.enter(now, PhaseLowering, events), true

	case PhaseLowering:
		if inPhase < cfg.lower() {
			return events, false
		}
		return e.enter(now, PhaseLowered, events), true

	case PhaseLowered:
		if reason, done := e.autoStopReason(); done {
			return e.halt(now, PhaseStopped, EventAutoStop, reason, events), true
		}
		return e.enter(now, PhaseRaising, events), true
	}
	return events, false
}

// autoStopReason is evaluated only after a completed cycle.
func (e *Engine) autoStopReason() (string, bool) {
	cfg := e.state.Config
	if cfg.MaxCycles > 0 && e.state.Cycle >= cfg.MaxCycles {
		return fmt.Sprintf("auto-stop: max cycles reached (%d)", e.state.Cycle), true
	}
	if cfg.MaxMinutes > 0 && e.state.ElapsedMinutes() >= cfg.MaxMinutes {
		return fmt.Sprintf("auto-stop: max minutes reached (%d min, %d cycles)", e.state.ElapsedMinutes(), e.state.Cycle), true
	}
	return "", false
}

// enter commands the outputs for phase and then commits it.
func (e *Engine) enter(now time.Time, phase Phase, events []Event) []Event {
	var err error
	switch phase {
	case PhaseRaising, PhaseRaised:
		err = e.drive(true, false)
	case PhaseLowering, PhaseLowered:
		err = e.drive(false, true)
	}
	if err != nil {
		return e.fail(now, Fault{Cause: CauseHardwareCommand, Detail: err.Error()}, events)
	}

	from := e.state.Phase
	e.state.Phase = phase
	e.state.PhaseSince = now
	desc := fmt.Sprintf("%s -> %s", from, phase)
	if phase == PhaseLowered {
		e.state.Cycle++
		desc = fmt.Sprintf("%s, cycle %d complete", desc, e.state.Cycle)
	}
	return append(events, e.event(now, EventPhaseChange, desc))
}

// Stop ends an active run on operator request. It is a no-op when no run
// is active, so repeated calls emit a single event.
func (e *Engine) Stop(now time.Time) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.Phase.Running() {
		return nil
	}
	e.state.Elapsed = now.Sub(e.state.StartTime)
	return e.halt(now, PhaseStopped, EventOperatorAction, fmt.Sprintf("stop after %d cycles", e.state.Cycle), nil)
}

// halt de-energizes every output, then commits the terminal phase.
func (e *Engine) halt(now time.Time, phase Phase, kind EventKind, desc string, events []Event) []Event {
	if err := e.release(); err != nil {
		return e.fail(now, Fault{Cause: CauseHardwareCommand, Detail: err.Error()}, events)
	}
	e.state.Phase = phase
	e.state.PhaseSince = now
	return append(events, e.event(now, kind, desc))
}

// Fault forces the engine into FAULTED from any other phase. Both outputs
// are commanded off before the fault event is produced.
func (e *Engine) Fault(now time.Time, f Fault) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase == PhaseFaulted {
		return nil
	}
	if e.state.Phase.Running() {
		e.state.Elapsed = now.Sub(e.state.StartTime)
	}
	return e.fail(now, f, nil)
}

func (e *Engine) fail(now time.Time, f Fault, events []Event) []Event {
	// Actuator state cannot be trusted after a fault: one best-effort release.
	releaseErr := e.release()

	e.state.Phase = PhaseFaulted
	e.state.PhaseSince = now
	e.state.LastFault = &f

	desc := f.String()
	if releaseErr != nil {
		desc = fmt.Sprintf("%s; release outputs: %v", desc, releaseErr)
	}
	ev := e.event(now, EventFault, desc)
	fc := f
	ev.Fault = &fc
	return append(events, ev)
}

// Reset returns a stopped or faulted engine to IDLE.
func (e *Engine) Reset(now time.Time) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseStopped && e.state.Phase != PhaseFaulted {
		return nil
	}
	e.state.Phase = PhaseIdle
	e.state.PhaseSince = now
	return []Event{e.event(now, EventOperatorAction, "reset")}
}

// State returns a snapshot of the current run.
func (e *Engine) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state
	if s.LastFault != nil {
		f := *s.LastFault
		s.LastFault = &f
	}
	return s
}

// drive sets the relay pair and LEDs. The inactive relay is released before
// the active one is energized so both are never on together.
func (e *Engine) drive(raise, lower bool) error {
	if !raise {
		if err := e.act.SetRaiseOutput(false); err != nil {
			return fmt.Errorf("set raise output: %w", err)
		}
	}
	if !lower {
		if err := e.act.SetLowerOutput(false); err != nil {
			return fmt.Errorf("set lower output: %w", err)
		}
	}
	if raise {
		if err := e.act.SetRaiseOutput(true); err != nil {
			return fmt.Errorf("set raise output: %w", err)
		}
	}
	if lower {
		if err := e.act.SetLowerOutput(true); err != nil {
			return fmt.Errorf("set lower output: %w", err)
		}
	}
	if err := e.act.SetRaiseLed(raise); err != nil {
		return fmt.Errorf("set raise led: %w", err)
	}
	if err := e.act.SetLowerLed(lower); err != nil {
		return fmt.Errorf("set lower led: %w", err)
	}
	return nil
}

// release de-energizes both relays and LEDs, attempting every output even
// if one fails.
func (e *Engine) release() error {
	var first error
	for _, set := range []struct {
		name string
		fn   func(bool) error
	}{
		{"raise output", e.act.SetRaiseOutput},
		{"lower output", e.act.SetLowerOutput},
		{"raise led", e.act.SetRaiseLed},
		{"lower led", e.act.SetLowerLed},
	} {
		if err := set.fn(false); err != nil && first == nil {
			first = fmt.Errorf("set %s: %w", set.name, err)
		}
	}
	return first
}

func (e *Engine) event(now time.Time, kind EventKind, desc string) Event {
	return Event{
		Timestamp:   now,
		Kind:        kind,
		RunID:       e.state.RunID,
		Phase:       e.state.Phase,
		Cycle:       e.state.Cycle,
		Description: desc,
	}
}
