// Package web provides the operator HTTP surface for the cycle test daemon:
// a status page, JSON status and history, a websocket status push and the
// start/stop/reset/settings control endpoints.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/sweeney/lc-interface-test/internal/eventlog"
	"github.com/sweeney/lc-interface-test/internal/logger"
	"github.com/sweeney/lc-interface-test/internal/settings"
	"github.com/sweeney/lc-interface-test/internal/status"
)

// Controller executes operator commands. Implementations serialize them
// with the control loop.
type Controller interface {
	Start(ctx context.Context, operator string) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	UpdateSettings(ctx context.Context, pin string, apply func(*settings.Settings)) error
	ChangePIN(ctx context.Context, current, next string) error
}

// EventSource is the stored event and probe history.
type EventSource interface {
	List(ctx context.Context, f eventlog.Filter) ([]eventlog.Record, error)
	ListReadings(ctx context.Context, probe string, from time.Time, limit int) ([]eventlog.ReadingRecord, error)
}

// Server serves the status page and control API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctl        Controller
	events     EventSource
	log        *logger.Logger
}

// New creates a Server that reads state from the given tracker. ctl and
// events may be nil, in which case the endpoints that need them answer 503.
func New(addr string, tracker *status.Tracker, ctl Controller, events EventSource, log *logger.Logger) *Server {
	s := &Server{
		tracker: tracker,
		ctl:     ctl,
		events:  events,
		log:     logger.OrNop(log).Named("web"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/events.json", s.handleEvents)
	mux.HandleFunc("/readings.json", s.handleReadings)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/pin", s.handlePIN)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warnw("render index failed", "err", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
