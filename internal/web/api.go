package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/lc-interface-test/internal/eventlog"
	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/settings"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

const (
	maxBodyBytes     = 4 << 10
	defaultListLimit = 100
	maxListLimit     = 1000
)

// APIResponse is the body of every control endpoint reply.
type APIResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type startRequest struct {
	Operator string `json:"operator"`
}

// SettingsRequest changes the settings. Only fields present in the body are
// applied; the PIN is always required.
type SettingsRequest struct {
	PIN            string             `json:"pin"`
	RaiseSeconds   *int               `json:"raise_seconds,omitempty"`
	LowerSeconds   *int               `json:"lower_seconds,omitempty"`
	DwellSeconds   *int               `json:"dwell_seconds,omitempty"`
	MaxCycles      *int               `json:"max_cycles,omitempty"`
	MaxMinutes     *int               `json:"max_minutes,omitempty"`
	WatchdogLimits map[string]float64 `json:"watchdog_limits,omitempty"`
	OperatorName   *string            `json:"operator_name,omitempty"`
}

func (req SettingsRequest) apply(s *settings.Settings) {
	if req.RaiseSeconds != nil {
		s.RaiseSeconds = *req.RaiseSeconds
	}
	if req.LowerSeconds != nil {
		s.LowerSeconds = *req.LowerSeconds
	}
	if req.DwellSeconds != nil {
		s.DwellSeconds = *req.DwellSeconds
	}
	if req.MaxCycles != nil {
		s.MaxCycles = *req.MaxCycles
	}
	if req.MaxMinutes != nil {
		s.MaxMinutes = *req.MaxMinutes
	}
	for name, v := range req.WatchdogLimits {
		s.WatchdogLimits[name] = v
	}
	if req.OperatorName != nil {
		s.OperatorName = *req.OperatorName
	}
}

type pinRequest struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.controlRequest(w, r) {
		return
	}
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.reply(w, "start", s.ctl.Start(r.Context(), req.Operator))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.controlRequest(w, r) {
		return
	}
	s.reply(w, "stop", s.ctl.Stop(r.Context()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.controlRequest(w, r) {
		return
	}
	s.reply(w, "reset", s.ctl.Reset(r.Context()))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if !s.controlRequest(w, r) {
		return
	}
	var req SettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	for name := range req.WatchdogLimits {
		if !knownProbe(name) {
			writeJSON(w, http.StatusBadRequest, APIResponse{Error: fmt.Sprintf("unknown probe %q", name)})
			return
		}
	}
	s.reply(w, "settings", s.ctl.UpdateSettings(r.Context(), req.PIN, req.apply))
}

func (s *Server) handlePIN(w http.ResponseWriter, r *http.Request) {
	if !s.controlRequest(w, r) {
		return
	}
	var req pinRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.reply(w, "change pin", s.ctl.ChangePIN(r.Context(), req.Current, req.New))
}

// controlRequest rejects non-POST requests and a missing controller.
func (s *Server) controlRequest(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, APIResponse{Error: "method not allowed"})
		return false
	}
	if s.ctl == nil {
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{Error: "control disabled"})
		return false
	}
	return true
}

func (s *Server) reply(w http.ResponseWriter, op string, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, APIResponse{OK: true})
		return
	}
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.log.Errorw("operator command failed", "op", op, "err", err)
	} else {
		s.log.Infow("operator command rejected", "op", op, "err", err)
	}
	writeJSON(w, code, APIResponse{Error: err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, settings.ErrWrongPIN):
		return http.StatusForbidden
	case errors.Is(err, logic.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, logic.ErrInvalidConfig), errors.Is(err, settings.ErrInvalidSettings):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func knownProbe(name string) bool {
	for _, n := range thermal.ProbeNames {
		if n == name {
			return true
		}
	}
	return false
}

// decodeBody reads a JSON body; an empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, APIResponse{Error: "bad request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{Error: "history disabled"})
		return
	}
	q := r.URL.Query()
	f := eventlog.Filter{Kind: q.Get("kind"), RunID: q.Get("run_id")}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Error: "from: " + err.Error()})
		return
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Error: "to: " + err.Error()})
		return
	}
	f.Limit = parseLimit(q.Get("limit"))

	records, err := s.events.List(r.Context(), f)
	if err != nil {
		s.log.Errorw("list events failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, APIResponse{Error: "history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{Error: "history disabled"})
		return
	}
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Error: "from: " + err.Error()})
		return
	}
	readings, err := s.events.ListReadings(r.Context(), q.Get("probe"), from, parseLimit(q.Get("limit")))
	if err != nil {
		s.log.Errorw("list readings failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, APIResponse{Error: "history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings})
}

// parseTime accepts RFC 3339; empty means unbounded.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func parseLimit(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
