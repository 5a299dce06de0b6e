// Package eventlog records engine events and operator sessions to
// append-only CSV files and to a queryable SQLite history.
package eventlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logic"
)

// TimestampFormat is the CSV timestamp layout (UTC).
const TimestampFormat = "2006-01-02 15:04:05"

var (
	eventHeader   = []string{"timestamp", "kind", "description"}
	sessionHeader = []string{"timestamp", "operator", "action"}
)

// appender writes CSV rows and makes each one durable before returning.
type appender struct {
	mu     sync.Mutex
	path   string
	header []string
}

func (a *appender) append(row []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(a.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", a.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(a.header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", a.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", a.path, err)
	}
	return nil
}

// CSVLog is the append-only event log: timestamp, kind, description.
type CSVLog struct {
	a appender
}

// NewCSVLog returns a log writing to path. The file and its directory are
// created on first append.
func NewCSVLog(path string) *CSVLog {
	return &CSVLog{a: appender{path: path, header: eventHeader}}
}

// Append writes one event.
func (l *CSVLog) Append(ev logic.Event) error {
	return l.a.append([]string{
		ev.Timestamp.UTC().Format(TimestampFormat),
		string(ev.Kind),
		ev.Description,
	})
}

// SessionLog records operator actions: timestamp, operator, action.
type SessionLog struct {
	a appender
}

// NewSessionLog returns a session log writing to path.
func NewSessionLog(path string) *SessionLog {
	return &SessionLog{a: appender{path: path, header: sessionHeader}}
}

// Append writes one operator action.
func (l *SessionLog) Append(at time.Time, operator, action string) error {
	if operator == "" {
		operator = "unknown"
	}
	return l.a.append([]string{at.UTC().Format(TimestampFormat), operator, action})
}
