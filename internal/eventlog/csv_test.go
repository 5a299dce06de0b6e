package eventlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/lc-interface-test/internal/logic"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVLogWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "test_log.csv")
	l := NewCSVLog(path)

	require.NoError(t, l.Append(logic.Event{Timestamp: t0, Kind: logic.EventCycleStart, Description: "run started by Ann"}))
	require.NoError(t, l.Append(logic.Event{Timestamp: t0.Add(time.Second), Kind: logic.EventPhaseChange, Description: "RAISING -> RAISED, with comma"}))

	// A second writer on the same file must not repeat the header.
	require.NoError(t, NewCSVLog(path).Append(logic.Event{Timestamp: t0.Add(2 * time.Second), Kind: logic.EventAutoStop, Description: "done"}))

	rows := readCSV(t, path)
	require.Equal(t, [][]string{
		{"timestamp", "kind", "description"},
		{"2026-01-01 12:00:00", "CYCLE_START", "run started by Ann"},
		{"2026-01-01 12:00:01", "PHASE_CHANGE", "RAISING -> RAISED, with comma"},
		{"2026-01-01 12:00:02", "AUTO_STOP", "done"},
	}, rows)
}

func TestCSVLogUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	l := NewCSVLog(filepath.Join(blocker, "test_log.csv"))
	require.Error(t, l.Append(logic.Event{Timestamp: t0, Kind: logic.EventFault}))
}

func TestSessionLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.csv")
	l := NewSessionLog(path)

	require.NoError(t, l.Append(t0, "Ann", "start"))
	require.NoError(t, l.Append(t0.Add(time.Minute), "", "stop"))

	rows := readCSV(t, path)
	require.Equal(t, [][]string{
		{"timestamp", "operator", "action"},
		{"2026-01-01 12:00:00", "Ann", "start"},
		{"2026-01-01 12:01:00", "unknown", "stop"},
	}, rows)
}
