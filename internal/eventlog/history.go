package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

const sqliteDriverName = "sqlite"

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Record is a stored engine event.
type Record struct {
	ID          string    `json:"id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Kind        string    `json:"kind"`
	RunID       string    `json:"run_id,omitempty"`
	Phase       string    `json:"phase,omitempty"`
	Cycle       int       `json:"cycle"`
	Description string    `json:"description"`
	Probe       string    `json:"probe,omitempty"`
	Value       *float64  `json:"value,omitempty"`
	Limit       *float64  `json:"limit,omitempty"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	From  time.Time
	To    time.Time
	Kind  string
	RunID string
	Limit int
}

// ReadingRecord is a stored probe sample.
type ReadingRecord struct {
	ReadAt time.Time `json:"read_at"`
	Probe  string    `json:"probe"`
	Value  *float64  `json:"value"`
	Valid  bool      `json:"valid"`
}

// History is the SQLite-backed event and probe history.
type History struct {
	db *sql.DB
}

// OpenHistory opens or creates the database at path and migrates it.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &History{db: db}, nil
}

// NewHistory wraps an already migrated handle.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Close releases the database.
func (h *History) Close() error {
	return h.db.Close()
}

// AppendEvent stores one engine event under a new id.
func (h *History) AppendEvent(ctx context.Context, ev logic.Event) error {
	var (
		probe        sql.NullString
		value, limit sql.NullFloat64
	)
	if f := ev.Fault; f != nil && f.Probe != "" {
		probe = sql.NullString{String: f.Probe, Valid: true}
		if f.Cause == logic.CauseWatchdogBreach {
			value = sql.NullFloat64{Float64: f.Value, Valid: true}
			limit = sql.NullFloat64{Float64: f.Limit, Valid: true}
		}
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO events (id, occurred_at, kind, run_id, phase, cycle, description, probe, value, limit_c)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		ev.Timestamp.UTC().Format(timeLayout),
		string(ev.Kind),
		ev.RunID,
		string(ev.Phase),
		ev.Cycle,
		ev.Description,
		probe,
		value,
		limit,
	)
	if err != nil {
		return fmt.Errorf("append event: insert: %w", err)
	}
	return nil
}

// AppendReadings stores one poll worth of readings atomically.
func (h *History) AppendReadings(ctx context.Context, readings []thermal.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append readings: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, r := range readings {
		var value sql.NullFloat64
		if r.Valid {
			value = sql.NullFloat64{Float64: r.Value, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO probe_readings (read_at, probe, value, valid) VALUES (?, ?, ?, ?)`,
			r.Time.UTC().Format(timeLayout), r.Name, value, r.Valid,
		); err != nil {
			return fmt.Errorf("append readings: insert %s: %w", r.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append readings: commit: %w", err)
	}
	return nil
}

// List returns events matching f, newest first.
func (h *History) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	if !f.From.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}
	if kind := strings.ToUpper(strings.TrimSpace(f.Kind)); kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, kind)
	}
	if f.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, f.RunID)
	}

	q := `SELECT id, occurred_at, kind, run_id, phase, cycle, description, probe, value, limit_c FROM events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: query: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 64)
	for rows.Next() {
		var (
			r            Record
			at           string
			probe        sql.NullString
			value, limit sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &at, &r.Kind, &r.RunID, &r.Phase, &r.Cycle, &r.Description, &probe, &value, &limit); err != nil {
			return nil, fmt.Errorf("list events: scan: %w", err)
		}
		if r.OccurredAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("list events: parse time %q: %w", at, err)
		}
		r.Probe = probe.String
		if value.Valid {
			v := value.Float64
			r.Value = &v
		}
		if limit.Valid {
			l := limit.Float64
			r.Limit = &l
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: rows: %w", err)
	}
	return out, nil
}

// ListReadings returns stored readings for probe (all probes if empty)
// since from, newest first, at most limit rows when limit > 0.
func (h *History) ListReadings(ctx context.Context, probe string, from time.Time, limit int) ([]ReadingRecord, error) {
	var (
		conds []string
		args  []any
	)
	if probe != "" {
		conds = append(conds, "probe = ?")
		args = append(args, probe)
	}
	if !from.IsZero() {
		conds = append(conds, "read_at >= ?")
		args = append(args, from.UTC().Format(timeLayout))
	}

	q := `SELECT read_at, probe, value, valid FROM probe_readings`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY read_at DESC, id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list readings: query: %w", err)
	}
	defer rows.Close()

	var out []ReadingRecord
	for rows.Next() {
		var (
			r     ReadingRecord
			at    string
			value sql.NullFloat64
		)
		if err := rows.Scan(&at, &r.Probe, &value, &r.Valid); err != nil {
			return nil, fmt.Errorf("list readings: scan: %w", err)
		}
		if r.ReadAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("list readings: parse time %q: %w", at, err)
		}
		if value.Valid {
			v := value.Float64
			r.Value = &v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list readings: rows: %w", err)
	}
	return out, nil
}
