package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logger"
)

// Call records a single output command made on a Simulated gateway.
type Call struct {
	Output Output
	On     bool
	Raw    int
}

// maxCalls bounds the command history kept by a Simulated gateway. A soak
// run toggles the relays for days, so only the newest commands are kept.
const maxCalls = 1024

// Simulated is a gateway with no hardware behind it. It logs every command,
// keeps the logical and physical level of each output, and lets callers
// inject failures and button presses. Safe for concurrent use.
type Simulated struct {
	mu     sync.Mutex
	pol    Polarity
	log    *logger.Logger
	levels map[Output]bool
	calls  []Call
	failOn map[Output]error
	events chan ButtonEvent
	now    func() time.Time

	// Closed is set once Close has been called.
	Closed bool
}

// NewSimulated returns a simulated gateway with every output off.
func NewSimulated(pol Polarity, log *logger.Logger) *Simulated {
	return &Simulated{
		pol:    pol,
		log:    logger.OrNop(log).Named("gpio-sim"),
		levels: make(map[Output]bool),
		failOn: make(map[Output]error),
		events: make(chan ButtonEvent, buttonQueueSize),
		now:    time.Now,
	}
}

// SetRaiseOutput drives the raise relay.
func (s *Simulated) SetRaiseOutput(on bool) error { return s.set(OutputRaise, on) }

// SetLowerOutput drives the lower relay.
func (s *Simulated) SetLowerOutput(on bool) error { return s.set(OutputLower, on) }

// SetRaiseLed drives the raise indicator.
func (s *Simulated) SetRaiseLed(on bool) error { return s.set(OutputLedRaise, on) }

// SetLowerLed drives the lower indicator.
func (s *Simulated) SetLowerLed(on bool) error { return s.set(OutputLedLower, on) }

func (s *Simulated) set(out Output, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failOn[out]; err != nil {
		s.log.Warnw("simulated output failure", "output", out, "on", on, "err", err)
		return fmt.Errorf("set %s: %w", out, err)
	}
	raw := s.pol.RawLevel(out, on)
	s.levels[out] = on
	if len(s.calls) == maxCalls {
		copy(s.calls, s.calls[1:])
		s.calls = s.calls[:maxCalls-1]
	}
	s.calls = append(s.calls, Call{Output: out, On: on, Raw: raw})
	s.log.Debugw("output", "output", out, "on", on, "raw", raw)
	return nil
}

// FailOn makes every later command on out return err. A nil err clears it.
func (s *Simulated) FailOn(out Output, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, out)
		return
	}
	s.failOn[out] = err
}

// Level returns the logical level last commanded on out.
func (s *Simulated) Level(out Output) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[out]
}

// RawLevel returns the physical line value for out after polarity.
func (s *Simulated) RawLevel(out Output) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pol.RawLevel(out, s.levels[out])
}

// Calls returns a copy of the most recent successful commands, oldest
// first. At most maxCalls are kept.
func (s *Simulated) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Press queues a button press. It reports false if the queue is full.
func (s *Simulated) Press(id ButtonID) bool {
	select {
	case s.events <- ButtonEvent{Button: id, Time: s.now()}:
		s.log.Infow("simulated button press", "button", id)
		return true
	default:
		return false
	}
}

// Buttons returns the button press channel.
func (s *Simulated) Buttons() <-chan ButtonEvent {
	return s.events
}

// Close turns every output off.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range []Output{OutputRaise, OutputLower, OutputLedRaise, OutputLedLower} {
		s.levels[out] = false
	}
	s.Closed = true
	return nil
}
