// Package settings persists the kiosk settings document, the email alert
// configuration and the lifetime counters as JSON files.
package settings

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

// DefaultPIN is the factory settings PIN.
const DefaultPIN = "1234"

var (
	// ErrPersistence wraps every failure to read or write a settings file.
	ErrPersistence = errors.New("settings persistence failed")
	// ErrWrongPIN is returned when the supplied PIN does not match.
	ErrWrongPIN = errors.New("wrong PIN")
	// ErrInvalidSettings is returned by Update for out-of-range values.
	ErrInvalidSettings = errors.New("invalid settings")
)

// Settings is the persisted settings document.
type Settings struct {
	RaiseSeconds    int                `json:"raise_seconds"`
	LowerSeconds    int                `json:"lower_seconds"`
	DwellSeconds    int                `json:"dwell_seconds"`
	MaxCycles       int                `json:"max_cycles"`
	MaxMinutes      int                `json:"max_minutes"`
	WatchdogLimits  map[string]float64 `json:"watchdog_limits"`
	OperatorName    string             `json:"operator_name"`
	SettingsPINHash string             `json:"settings_pin_hash"`
}

// Defaults returns the factory settings.
func Defaults() Settings {
	d := logic.DefaultCycleConfig()
	return Settings{
		RaiseSeconds:    d.RaiseSeconds,
		LowerSeconds:    d.LowerSeconds,
		DwellSeconds:    d.DwellSeconds,
		MaxCycles:       d.MaxCycles,
		MaxMinutes:      d.MaxMinutes,
		WatchdogLimits:  thermal.DefaultLimits(),
		SettingsPINHash: HashPIN(DefaultPIN),
	}
}

// CycleConfig returns the timing snapshot for a new run.
func (s Settings) CycleConfig() logic.CycleConfig {
	return logic.CycleConfig{
		RaiseSeconds: s.RaiseSeconds,
		LowerSeconds: s.LowerSeconds,
		DwellSeconds: s.DwellSeconds,
		MaxCycles:    s.MaxCycles,
		MaxMinutes:   s.MaxMinutes,
	}
}

// Validate reports the first out-of-range value.
func (s Settings) Validate() error {
	if err := s.CycleConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	for name, v := range s.WatchdogLimits {
		if v <= 0 {
			return fmt.Errorf("%w: watchdog limit for %s must be positive", ErrInvalidSettings, name)
		}
	}
	return nil
}

func (s Settings) clone() Settings {
	c := s
	c.WatchdogLimits = make(map[string]float64, len(s.WatchdogLimits))
	for k, v := range s.WatchdogLimits {
		c.WatchdogLimits[k] = v
	}
	return c
}

// HashPIN returns the hex SHA-256 of pin.
func HashPIN(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

// Store guards the settings document on disk. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	path string
	cur  Settings

	// saveMu orders commits with their writes so the file never ends up
	// older than cur.
	saveMu sync.Mutex
}

// NewStore returns a store holding the defaults. Call Load to read path.
func NewStore(path string) *Store {
	return &Store{path: path, cur: Defaults()}
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Load replaces the current settings with the file contents. A missing file
// yields the defaults. Any value that is missing, malformed or out of range
// falls back to its default individually. An unreadable or corrupt file
// leaves the defaults in place and returns an error wrapping ErrPersistence.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur = Defaults()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrPersistence, s.path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse %s: %w", ErrPersistence, s.path, err)
	}
	s.cur = decode(raw)
	return nil
}

func decode(raw map[string]any) Settings {
	out := Defaults()

	out.RaiseSeconds = intInRange(raw, "raise_seconds", logic.MinStepSeconds, logic.MaxStepSeconds, out.RaiseSeconds)
	out.LowerSeconds = intInRange(raw, "lower_seconds", logic.MinStepSeconds, logic.MaxStepSeconds, out.LowerSeconds)
	out.DwellSeconds = intInRange(raw, "dwell_seconds", logic.MinDwellSeconds, logic.MaxDwellSeconds, out.DwellSeconds)
	out.MaxCycles = intInRange(raw, "max_cycles", 0, -1, out.MaxCycles)
	out.MaxMinutes = intInRange(raw, "max_minutes", 0, -1, out.MaxMinutes)

	if wd, err := cast.ToStringMapE(raw["watchdog_limits"]); err == nil {
		for _, name := range thermal.ProbeNames {
			v, ok := wd[name]
			if !ok {
				continue
			}
			if f, err := cast.ToFloat64E(v); err == nil && f > 0 {
				out.WatchdogLimits[name] = f
			}
		}
	}

	if name, err := cast.ToStringE(raw["operator_name"]); err == nil {
		out.OperatorName = strings.TrimSpace(name)
	}
	if hash, err := cast.ToStringE(raw["settings_pin_hash"]); err == nil && hash != "" {
		out.SettingsPINHash = hash
	}
	return out
}

// intInRange coerces raw[key] to an int in [lo,hi]; hi < 0 means no upper
// bound.
func intInRange(raw map[string]any, key string, lo, hi, def int) int {
	v, ok := raw[key]
	if !ok {
		return def
	}
	n, err := wholeNumber(v)
	if err != nil || n < lo || (hi >= 0 && n > hi) {
		return def
	}
	return n
}

// wholeNumber accepts ints, integral floats and numeric strings. Bools and
// fractional values are rejected rather than truncated.
func wholeNumber(v any) (int, error) {
	switch x := v.(type) {
	case bool:
		return 0, fmt.Errorf("%v is not a number", x)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not a whole number", x)
		}
	case float32:
		if float64(x) != math.Trunc(float64(x)) {
			return 0, fmt.Errorf("%v is not a whole number", x)
		}
	}
	return cast.ToIntE(v)
}

// Save writes the current settings atomically.
func (s *Store) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	cur := s.cur.clone()
	s.mu.RUnlock()
	return save(s.path, cur)
}

func save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersistence, path, err)
	}
	data = append(data, '\n')
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

// CycleConfig returns the timing snapshot for a new run.
func (s *Store) CycleConfig() logic.CycleConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.CycleConfig()
}

// Limits returns the watchdog limits.
func (s *Store) Limits() thermal.Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := make(thermal.Limits, len(s.cur.WatchdogLimits))
	for k, v := range s.cur.WatchdogLimits {
		l[k] = v
	}
	return l
}

// Update applies fn to a copy of the settings. The result is rejected with
// ErrInvalidSettings if out of range; otherwise it becomes current and is
// persisted. A persistence failure is returned but the change stays in
// effect for this process.
func (s *Store) Update(fn func(*Settings)) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	next := s.cur.clone()
	fn(&next)
	next.OperatorName = strings.TrimSpace(next.OperatorName)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cur = next
	s.mu.Unlock()

	return save(s.path, next)
}

// VerifyPIN reports whether pin matches the stored hash.
func (s *Store) VerifyPIN(pin string) bool {
	s.mu.RLock()
	stored := s.cur.SettingsPINHash
	s.mu.RUnlock()
	return subtle.ConstantTimeCompare([]byte(HashPIN(pin)), []byte(stored)) == 1
}

// ChangePIN replaces the PIN after checking current, and persists at once.
func (s *Store) ChangePIN(current, next string) error {
	if !s.VerifyPIN(current) {
		return ErrWrongPIN
	}
	if strings.TrimSpace(next) == "" {
		return fmt.Errorf("%w: new PIN is empty", ErrInvalidSettings)
	}
	return s.Update(func(st *Settings) {
		st.SettingsPINHash = HashPIN(next)
	})
}

// writeFileAtomic writes data to a sibling temp file, syncs it and renames
// it over path.
func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
