package gpio

import (
	"errors"
	"testing"
)

func TestSimulatedImplementsGateway(t *testing.T) {
	var _ Gateway = (*Simulated)(nil)
}

func TestSimulatedRecordsLevels(t *testing.T) {
	s := NewSimulated(DefaultPolarity(), nil)

	if err := s.SetRaiseOutput(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetRaiseLed(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !s.Level(OutputRaise) {
		t.Error("raise output should be on")
	}
	if s.Level(OutputLower) {
		t.Error("lower output should be off")
	}
	if s.RawLevel(OutputRaise) != 1 {
		t.Errorf("raw raise = %d, want 1", s.RawLevel(OutputRaise))
	}

	calls := s.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0] != (Call{Output: OutputRaise, On: true, Raw: 1}) {
		t.Errorf("call[0] = %+v", calls[0])
	}
}

func TestSimulatedKeepsNewestCalls(t *testing.T) {
	s := NewSimulated(DefaultPolarity(), nil)

	total := maxCalls + 10
	for i := 0; i < total; i++ {
		if err := s.SetRaiseOutput(i%2 == 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := s.SetLowerLed(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := s.Calls()
	if len(calls) != maxCalls {
		t.Fatalf("expected %d calls, got %d", maxCalls, len(calls))
	}
	// The oldest 11 commands were dropped, so the first kept is i=11 (off).
	if calls[0] != (Call{Output: OutputRaise, On: false, Raw: 0}) {
		t.Errorf("oldest kept call = %+v", calls[0])
	}
	if last := calls[len(calls)-1]; last != (Call{Output: OutputLedLower, On: true, Raw: 1}) {
		t.Errorf("newest call = %+v", last)
	}
}

func TestSimulatedActiveLowPolarity(t *testing.T) {
	s := NewSimulated(Polarity{RelayActiveHigh: false, LedActiveHigh: true}, nil)

	if s.RawLevel(OutputLower) != 1 {
		t.Errorf("idle active-low relay raw = %d, want 1", s.RawLevel(OutputLower))
	}
	s.SetLowerOutput(true)
	if s.RawLevel(OutputLower) != 0 {
		t.Errorf("energized active-low relay raw = %d, want 0", s.RawLevel(OutputLower))
	}
	s.SetLowerLed(true)
	if s.RawLevel(OutputLedLower) != 1 {
		t.Errorf("active-high led raw = %d, want 1", s.RawLevel(OutputLedLower))
	}
}

func TestSimulatedFailOn(t *testing.T) {
	s := NewSimulated(DefaultPolarity(), nil)
	boom := errors.New("line busy")
	s.FailOn(OutputLower, boom)

	err := s.SetLowerOutput(true)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped injected error, got %v", err)
	}
	if s.Level(OutputLower) {
		t.Error("failed command must not change the level")
	}

	s.FailOn(OutputLower, nil)
	if err := s.SetLowerOutput(true); err != nil {
		t.Fatalf("expected failure cleared, got %v", err)
	}
}

func TestSimulatedPress(t *testing.T) {
	s := NewSimulated(DefaultPolarity(), nil)

	if !s.Press(ButtonStart) {
		t.Fatal("press should be queued")
	}
	ev := <-s.Buttons()
	if ev.Button != ButtonStart || ev.Err != nil {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestSimulatedPressDropsWhenFull(t *testing.T) {
	s := NewSimulated(DefaultPolarity(), nil)
	for i := 0; i < buttonQueueSize; i++ {
		if !s.Press(ButtonStop) {
			t.Fatalf("press %d should be queued", i)
		}
	}
	if s.Press(ButtonStop) {
		t.Error("press beyond queue size should be dropped")
	}
}

func TestSimulatedClose(t *testing.T) {
	s := NewSimulated(DefaultPolarity(), nil)
	s.SetRaiseOutput(true)
	s.SetRaiseLed(true)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !s.Closed {
		t.Error("expected Closed")
	}
	if s.Level(OutputRaise) || s.Level(OutputLedRaise) {
		t.Error("close must turn every output off")
	}
}

func TestDefaultPins(t *testing.T) {
	p := DefaultPins()
	if p.Raise != 17 || p.Lower != 27 || p.StartButton != 22 || p.StopButton != 23 || p.LedRaise != 5 || p.LedLower != 6 {
		t.Errorf("unexpected default pins %+v", p)
	}
}
