package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/lc-interface-test/internal/dispatch"
	"github.com/sweeney/lc-interface-test/internal/eventlog"
	"github.com/sweeney/lc-interface-test/internal/gpio"
	"github.com/sweeney/lc-interface-test/internal/logger"
	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/mqtt"
	"github.com/sweeney/lc-interface-test/internal/notify"
	"github.com/sweeney/lc-interface-test/internal/settings"
	"github.com/sweeney/lc-interface-test/internal/status"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")

	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.IP != "" {
		t.Errorf("IP: got %q, want empty", info.IP)
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGINT); got != "SIGINT" {
		t.Errorf("got %q, want SIGINT", got)
	}
	if got := signalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("got %q, want SIGTERM", got)
	}
	if got := signalName(syscall.SIGHUP); got != "hangup" {
		t.Errorf("got %q, want hangup", got)
	}
}

// --- runLoop tests ---

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// syncKind is not a real command: execute ignores it, so a round trip
// guarantees everything sent before it has been processed.
const syncKind commandKind = -1

type rigOptions struct {
	heartbeat  time.Duration
	faultAfter time.Duration
	email      *settings.EmailConfig
}

type rig struct {
	t       *testing.T
	dir     string
	d       *daemon
	gw      *gpio.Simulated
	probes  []*thermal.SimProbe
	pub     *mqtt.FakePublisher
	store   *settings.Store
	history *eventlog.History

	tick    chan time.Time
	samples chan []thermal.Sample
	buttons chan gpio.ButtonEvent
	cmds    chan command
	sig     chan os.Signal
	errCh   chan error
	ctl     controller
}

// newRig starts runLoop on a clock that advances one second per call.
func newRig(t *testing.T, opts rigOptions) *rig {
	t.Helper()
	dir := t.TempDir()
	if opts.faultAfter == 0 {
		opts.faultAfter = thermal.DefaultFaultAfter
	}

	store := settings.NewStore(filepath.Join(dir, "settings.json"))
	counts := settings.NewCountsStore(filepath.Join(dir, "counts.json"))
	email := settings.NewEmailStore(filepath.Join(dir, "email.json"))
	if opts.email != nil {
		if err := email.SetConfig(*opts.email); err != nil {
			t.Fatalf("set email config: %v", err)
		}
	}
	history, err := eventlog.OpenHistory(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	gw := gpio.NewSimulated(gpio.DefaultPolarity(), nil)
	sims := thermal.SimProbes(1)
	probes := make([]thermal.Probe, len(sims))
	for i, p := range sims {
		probes[i] = p
	}
	pub := mqtt.NewFakePublisher()
	pub.SetConnected(true)

	r := &rig{
		t:       t,
		dir:     dir,
		gw:      gw,
		probes:  sims,
		pub:     pub,
		store:   store,
		history: history,
		tick:    make(chan time.Time),
		samples: make(chan []thermal.Sample),
		buttons: make(chan gpio.ButtonEvent),
		cmds:    make(chan command),
		sig:     make(chan os.Signal, 1),
		errCh:   make(chan error, 1),
	}
	r.ctl = controller{cmds: r.cmds}
	r.d = &daemon{
		engine:       logic.NewEngine(gw, nil),
		monitor:      thermal.NewMonitor(probes, store.Limits(), opts.faultAfter, t0),
		store:        store,
		counts:       counts,
		alerter:      notify.NewAlerter(email, pub, "LC Test", nil),
		eventLog:     eventlog.NewCSVLog(filepath.Join(dir, "events.csv")),
		sessions:     eventlog.NewSessionLog(filepath.Join(dir, "sessions.csv")),
		history:      history,
		queue:        dispatch.New(1024, 0, 0, nil),
		publisher:    pub,
		mqttStatus:   pub,
		tracker:      status.NewTracker(t0, status.Config{}),
		heartbeat:    opts.heartbeat,
		drainTimeout: 5 * time.Second,
		log:          logger.Nop(),
	}

	clock := fakeClock(t0, time.Second)
	go func() {
		r.errCh <- r.d.runLoop(clock, r.tick, r.samples, r.buttons, r.cmds, r.sig)
	}()
	return r
}

func (r *rig) ticks(n int) {
	for i := 0; i < n; i++ {
		r.tick <- time.Time{}
	}
}

// polls reads the simulated probes and hands each batch to runLoop, as the
// sampler goroutine does.
func (r *rig) polls(n int) {
	probes := make([]thermal.Probe, len(r.probes))
	for i, p := range r.probes {
		probes[i] = p
	}
	for i := 0; i < n; i++ {
		r.samples <- thermal.ReadAll(probes)
	}
}

func (r *rig) sync() {
	r.t.Helper()
	if err := r.ctl.do(context.Background(), command{kind: syncKind}); err != nil {
		r.t.Fatalf("sync: %v", err)
	}
}

// shutdown signals runLoop and waits for it to drain and return.
func (r *rig) shutdown(s os.Signal) {
	r.t.Helper()
	r.sig <- s
	select {
	case err := <-r.errCh:
		if err != nil {
			r.t.Fatalf("runLoop returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		r.t.Fatal("runLoop did not return")
	}
}

func (r *rig) read(name string) string {
	r.t.Helper()
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		r.t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func (r *rig) counts() settings.Counts {
	r.t.Helper()
	c := settings.NewCountsStore(filepath.Join(r.dir, "counts.json"))
	if err := c.Load(); err != nil {
		r.t.Fatalf("load counts: %v", err)
	}
	return c.Counts()
}

func (r *rig) allOutputsOff() bool {
	for _, out := range []gpio.Output{gpio.OutputRaise, gpio.OutputLower, gpio.OutputLedRaise, gpio.OutputLedLower} {
		if r.gw.Level(out) {
			return false
		}
	}
	return true
}

func phases(events []logic.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == logic.EventPhaseChange {
			out = append(out, string(ev.Phase))
		}
	}
	return out
}

func kinds(events []logic.Event) []logic.EventKind {
	out := make([]logic.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestRunLoopAutoStopScenario(t *testing.T) {
	r := newRig(t, rigOptions{})
	if err := r.store.Update(func(s *settings.Settings) { s.MaxCycles = 2 }); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	if err := r.ctl.Start(context.Background(), "Ann"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.ticks(4)
	r.sync()

	if got := r.d.engine.State().Phase; got != logic.PhaseStopped {
		t.Fatalf("phase after 4 ticks: got %s, want STOPPED", got)
	}
	r.shutdown(syscall.SIGTERM)

	events := r.pub.Events()
	want := []string{"RAISING", "RAISED", "LOWERING", "LOWERED", "RAISING", "RAISED", "LOWERING", "LOWERED"}
	if got := phases(events); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("phases:\n got %v\nwant %v", got, want)
	}
	if events[0].Kind != logic.EventCycleStart {
		t.Errorf("first event: got %s, want CYCLE_START", events[0].Kind)
	}
	last := events[len(events)-1]
	if last.Kind != logic.EventAutoStop || last.Cycle != 2 {
		t.Errorf("last event: got %s cycle %d, want AUTO_STOP cycle 2", last.Kind, last.Cycle)
	}
	if !r.allOutputsOff() {
		t.Error("outputs should be off after auto-stop")
	}

	c := r.counts()
	if c.TotalRuns != 1 || c.TotalCycles != 2 {
		t.Errorf("counts: got %+v, want 1 run 2 cycles", c)
	}

	csv := r.read("events.csv")
	if !strings.HasPrefix(csv, "timestamp,kind,description\n") {
		t.Errorf("csv header missing: %q", csv)
	}
	if strings.Count(csv, "\n") != len(events)+1 {
		t.Errorf("csv rows: got %d lines, want %d", strings.Count(csv, "\n"), len(events)+1)
	}
	if !strings.Contains(csv, "AUTO_STOP,auto-stop: max cycles reached (2)") {
		t.Errorf("csv missing auto-stop row:\n%s", csv)
	}
	if !strings.Contains(r.read("sessions.csv"), ",Ann,start") {
		t.Errorf("session log missing start:\n%s", r.read("sessions.csv"))
	}

	stored, err := r.history.List(context.Background(), eventlog.Filter{})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(stored) != len(events) {
		t.Errorf("history: got %d events, want %d", len(stored), len(events))
	}
}

func TestRunLoopDwellPhase(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.store.Update(func(s *settings.Settings) { s.DwellSeconds = 2; s.MaxCycles = 1 })

	if err := r.ctl.Start(context.Background(), "Ann"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.ticks(6)
	r.shutdown(syscall.SIGTERM)

	want := []string{"RAISING", "RAISED", "DWELLING", "LOWERING", "LOWERED"}
	if got := phases(r.pub.Events()); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("phases:\n got %v\nwant %v", got, want)
	}
}

func TestRunLoopStartWhileRunning(t *testing.T) {
	r := newRig(t, rigOptions{})
	ctx := context.Background()

	if err := r.ctl.Start(ctx, "Ann"); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := r.ctl.Start(ctx, "Bob")
	if !errors.Is(err, logic.ErrAlreadyRunning) {
		t.Fatalf("second start: got %v, want ErrAlreadyRunning", err)
	}
	r.sync()

	s := r.d.engine.State()
	if s.Operator != "Ann" || !s.Phase.Running() {
		t.Errorf("run should be unaffected, got %+v", s)
	}
	r.shutdown(syscall.SIGTERM)

	var notices int
	for _, ev := range r.pub.Events() {
		if ev.Kind == logic.EventOperatorAction && strings.Contains(ev.Description, "already running") {
			notices++
		}
	}
	if notices != 1 {
		t.Errorf("expected 1 already-running notice, got %d", notices)
	}
}

func TestRunLoopStopIsIdempotent(t *testing.T) {
	r := newRig(t, rigOptions{})
	ctx := context.Background()

	r.ctl.Start(ctx, "Ann")
	r.ticks(1)
	if err := r.ctl.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := r.ctl.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	r.shutdown(syscall.SIGTERM)

	var stops int
	for _, ev := range r.pub.Events() {
		if ev.Kind == logic.EventOperatorAction && strings.HasPrefix(ev.Description, "stop") {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("expected 1 stop event, got %d", stops)
	}
	if !r.allOutputsOff() {
		t.Error("outputs should be off after stop")
	}
	if got := strings.Count(r.read("sessions.csv"), ",stop\n"); got != 1 {
		t.Errorf("session log stop rows: got %d, want 1", got)
	}
	if c := r.counts(); c.TotalRuns != 1 {
		t.Errorf("counts: got %+v, want 1 run", c)
	}
}

func TestRunLoopReset(t *testing.T) {
	r := newRig(t, rigOptions{})
	ctx := context.Background()

	r.ctl.Start(ctx, "Ann")
	r.ctl.Stop(ctx)
	if err := r.ctl.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	r.sync()
	if got := r.d.engine.State().Phase; got != logic.PhaseIdle {
		t.Errorf("phase: got %s, want IDLE", got)
	}
	r.shutdown(syscall.SIGTERM)
}

func TestRunLoopWatchdogBreachFaults(t *testing.T) {
	email := settings.EmailConfig{
		Enabled:         true,
		SMTPServer:      "smtp.example.com",
		SMTPPort:        587,
		SenderEmail:     "rig@example.com",
		SenderPassword:  "secret",
		RecipientEmails: []string{"ops@example.com"},
	}
	r := newRig(t, rigOptions{email: &email})
	ctx := context.Background()

	r.ctl.Start(ctx, "Ann")
	r.ticks(2)
	r.probes[1].SetValue(75)
	r.polls(1)
	r.sync()

	s := r.d.engine.State()
	if s.Phase != logic.PhaseFaulted {
		t.Fatalf("phase: got %s, want FAULTED", s.Phase)
	}
	if s.LastFault == nil || s.LastFault.Cause != logic.CauseWatchdogBreach || s.LastFault.Probe != thermal.ProbeLocBottom {
		t.Errorf("fault: got %+v", s.LastFault)
	}
	if !r.allOutputsOff() {
		t.Error("outputs should be off after a watchdog breach")
	}

	// Further breaches do not duplicate the fault.
	r.polls(2)
	r.shutdown(syscall.SIGTERM)

	var faults int
	for _, ev := range r.pub.Events() {
		if ev.Kind == logic.EventFault {
			faults++
		}
	}
	if faults != 1 {
		t.Errorf("fault events: got %d, want 1", faults)
	}

	alerts := r.pub.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(alerts))
	}
	if !strings.Contains(alerts[0].Subject, "WATCHDOG_BREACH") {
		t.Errorf("alert subject: got %q", alerts[0].Subject)
	}
	if len(r.pub.Telemetry()) != 3 {
		t.Errorf("telemetry: got %d, want 3", len(r.pub.Telemetry()))
	}
	if c := r.counts(); c.TotalRuns != 1 {
		t.Errorf("counts: got %+v, want 1 run", c)
	}
}

func TestRunLoopSensorFault(t *testing.T) {
	r := newRig(t, rigOptions{faultAfter: 5 * time.Second})
	r.ctl.Start(context.Background(), "Ann")
	r.probes[2].SetOffline(true)

	r.polls(8)
	r.sync()

	s := r.d.engine.State()
	if s.Phase != logic.PhaseFaulted {
		t.Fatalf("phase: got %s, want FAULTED", s.Phase)
	}
	if s.LastFault.Cause != logic.CauseSensorFault || s.LastFault.Probe != thermal.ProbeInverter1 {
		t.Errorf("fault: got %+v", s.LastFault)
	}
	r.shutdown(syscall.SIGTERM)
}

func TestRunLoopProbeFaultWhileIdle(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.probes[0].SetValue(99)

	r.polls(2)
	r.sync()

	s := r.d.engine.State()
	if s.Phase != logic.PhaseFaulted || s.LastFault.Probe != thermal.ProbeLocTop {
		t.Errorf("state: got %s %+v", s.Phase, s.LastFault)
	}
	snap := r.d.tracker.Snapshot()
	if len(snap.Probes) != len(thermal.ProbeNames) || snap.Probes[0].Value != 99 {
		t.Errorf("tracker probes: got %+v", snap.Probes)
	}

	// A new run may start from FAULTED; the breach faults it again.
	if err := r.ctl.Start(context.Background(), "Ann"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.polls(1)
	r.shutdown(syscall.SIGTERM)

	if got := kinds(r.pub.Events()); len(got) < 2 || got[0] != logic.EventFault || got[len(got)-1] != logic.EventFault {
		t.Errorf("events: got %v", got)
	}
	if c := r.counts(); c.TotalRuns != 1 {
		t.Errorf("only the started run should be counted, got %+v", c)
	}
	readings, err := r.history.ListReadings(context.Background(), thermal.ProbeLocTop, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list readings: %v", err)
	}
	if len(readings) != 3 {
		t.Errorf("stored readings: got %d, want 3", len(readings))
	}
}

func TestRunLoopHardwareFailureOnStart(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.gw.FailOn(gpio.OutputRaise, errors.New("line busy"))

	if err := r.ctl.Start(context.Background(), "Ann"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.sync()

	s := r.d.engine.State()
	if s.Phase != logic.PhaseFaulted || s.LastFault.Cause != logic.CauseHardwareCommand {
		t.Errorf("state: got %s %+v", s.Phase, s.LastFault)
	}
	r.shutdown(syscall.SIGTERM)
}

func TestRunLoopButtons(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.store.Update(func(s *settings.Settings) { s.OperatorName = "Kiosk" })

	r.buttons <- gpio.ButtonEvent{Button: gpio.ButtonStart}
	r.sync()
	if s := r.d.engine.State(); !s.Phase.Running() || s.Operator != "Kiosk" {
		t.Fatalf("after start button: got %s operator %q", s.Phase, s.Operator)
	}

	r.buttons <- gpio.ButtonEvent{Button: gpio.ButtonStop, Err: errors.New("request line")}
	r.sync()
	if !r.d.engine.State().Phase.Running() {
		t.Fatal("a button error must not stop the run")
	}

	r.buttons <- gpio.ButtonEvent{Button: gpio.ButtonStop}
	r.sync()
	if got := r.d.engine.State().Phase; got != logic.PhaseStopped {
		t.Errorf("after stop button: got %s, want STOPPED", got)
	}
	r.shutdown(syscall.SIGTERM)

	var inputErrors int
	for _, ev := range r.pub.Events() {
		if ev.Kind == logic.EventOperatorAction && ev.Description == "button STOP input error: request line" {
			inputErrors++
		}
	}
	if inputErrors != 1 {
		t.Errorf("expected 1 button input error event, got %d", inputErrors)
	}
	if !strings.Contains(r.read("events.csv"), "button STOP input error: request line") {
		t.Error("event log missing button input error")
	}
}

func TestRunLoopButtonErrorAfterStopDoesNotCountRun(t *testing.T) {
	r := newRig(t, rigOptions{})
	ctx := context.Background()

	r.ctl.Start(ctx, "Ann")
	r.ctl.Stop(ctx)
	r.buttons <- gpio.ButtonEvent{Button: gpio.ButtonStart, Err: errors.New("edge watcher closed")}
	r.sync()
	if got := r.d.engine.State().Phase; got != logic.PhaseStopped {
		t.Errorf("phase: got %s, want STOPPED", got)
	}
	r.shutdown(syscall.SIGTERM)

	last := r.pub.Events()[len(r.pub.Events())-1]
	if last.Kind != logic.EventOperatorAction || last.Description != "button START input error: edge watcher closed" {
		t.Errorf("last event: got %s %q", last.Kind, last.Description)
	}
	if c := r.counts(); c.TotalRuns != 1 {
		t.Errorf("counts: got %+v, want 1 run", c)
	}
}

func TestRunLoopSettings(t *testing.T) {
	r := newRig(t, rigOptions{})
	ctx := context.Background()

	err := r.ctl.UpdateSettings(ctx, "0000", func(s *settings.Settings) { s.RaiseSeconds = 9 })
	if !errors.Is(err, settings.ErrWrongPIN) {
		t.Fatalf("wrong pin: got %v", err)
	}

	err = r.ctl.UpdateSettings(ctx, settings.DefaultPIN, func(s *settings.Settings) {
		s.RaiseSeconds = 9
		s.WatchdogLimits[thermal.ProbeInverter2] = 40
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = r.ctl.UpdateSettings(ctx, settings.DefaultPIN, func(s *settings.Settings) { s.LowerSeconds = 500 })
	if !errors.Is(err, settings.ErrInvalidSettings) {
		t.Fatalf("out of range: got %v", err)
	}

	snap := r.d.tracker.Snapshot()
	if snap.NextRun.RaiseSeconds != 9 || snap.NextRun.LowerSeconds != 1 {
		t.Errorf("next run: got %+v", snap.NextRun)
	}
	if snap.Limits[thermal.ProbeInverter2] != 40 {
		t.Errorf("limits: got %v", snap.Limits)
	}

	if err := r.ctl.ChangePIN(ctx, "9999", "4321"); !errors.Is(err, settings.ErrWrongPIN) {
		t.Fatalf("change pin with wrong current: got %v", err)
	}
	if err := r.ctl.ChangePIN(ctx, settings.DefaultPIN, "4321"); err != nil {
		t.Fatalf("change pin: %v", err)
	}
	if !r.store.VerifyPIN("4321") {
		t.Error("new PIN should verify")
	}
	r.shutdown(syscall.SIGTERM)

	reloaded := settings.NewStore(filepath.Join(r.dir, "settings.json"))
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.CycleConfig().RaiseSeconds != 9 || !reloaded.VerifyPIN("4321") {
		t.Errorf("settings not persisted: %+v", reloaded.Snapshot())
	}
	sessions := r.read("sessions.csv")
	if strings.Count(sessions, "settings change") != 1 || strings.Count(sessions, "pin change") != 1 {
		t.Errorf("session log:\n%s", sessions)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "192.168.1.42")
	r := newRig(t, rigOptions{heartbeat: 3 * time.Second})

	r.ticks(5)
	r.shutdown(syscall.SIGINT)

	sys := r.pub.SystemEvents()
	if len(sys) != 2 {
		t.Fatalf("system events: got %d, want 2", len(sys))
	}
	if sys[0].Event != "HEARTBEAT" || sys[1].Event != "SHUTDOWN" {
		t.Errorf("system events: got %s, %s", sys[0].Event, sys[1].Event)
	}

	var hb status.StatusJSON
	if err := json.Unmarshal(sys[0].RawPayload, &hb); err != nil {
		t.Fatalf("heartbeat payload: %v", err)
	}
	if hb.Status.Event != "HEARTBEAT" || !hb.Status.MQTT.Connected {
		t.Errorf("heartbeat status: got %+v", hb.Status)
	}
	if hb.Status.Network == nil || hb.Status.Network.IP != "192.168.1.42" {
		t.Errorf("heartbeat network: got %+v", hb.Status.Network)
	}
}

func TestRunLoopShutdownStopsRun(t *testing.T) {
	r := newRig(t, rigOptions{})

	r.ctl.Start(context.Background(), "Ann")
	r.ticks(3)
	r.shutdown(syscall.SIGTERM)

	if !r.allOutputsOff() {
		t.Error("outputs should be off after shutdown")
	}
	if got := r.d.engine.State().Phase; got != logic.PhaseStopped {
		t.Errorf("phase: got %s, want STOPPED", got)
	}

	sys := r.pub.SystemEvents()
	if len(sys) != 1 || sys[0].Event != "SHUTDOWN" || sys[0].Reason != "SIGTERM" || !sys[0].Retained {
		t.Fatalf("system events: got %+v", sys)
	}
	var payload status.StatusJSON
	if err := json.Unmarshal(sys[0].RawPayload, &payload); err != nil {
		t.Fatalf("shutdown payload: %v", err)
	}
	if payload.Status.Run.Phase != "STOPPED" || payload.Status.Reason != "SIGTERM" {
		t.Errorf("shutdown status: got %+v", payload.Status)
	}
	if c := r.counts(); c.TotalRuns != 1 || c.TotalCycles != 1 {
		t.Errorf("counts: got %+v, want 1 run 1 cycle", c)
	}
	if !strings.Contains(r.read("events.csv"), "shutdown: SIGTERM") {
		t.Error("event log missing shutdown notice")
	}
}

func TestRunLoopPublishErrorDoesNotCrash(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.pub.SetPublishError(errors.New("broker down"))

	r.ctl.Start(context.Background(), "Ann")
	r.ticks(3)
	r.sync()

	if r.d.engine.State().Cycle != 1 {
		t.Errorf("cycle: got %d, want 1", r.d.engine.State().Cycle)
	}
	r.shutdown(syscall.SIGTERM)

	if r.d.queue.Failed() == 0 {
		t.Error("expected failed publish jobs to be counted")
	}
	if !strings.Contains(r.read("events.csv"), "CYCLE_START") {
		t.Error("event log should be written despite publish failures")
	}
}

func TestRunLoopTrackerFollowsEngine(t *testing.T) {
	r := newRig(t, rigOptions{})

	r.ctl.Start(context.Background(), "Ann")
	r.ticks(1)
	r.sync()

	snap := r.d.tracker.Snapshot()
	if snap.Run.Phase != logic.PhaseLowering || snap.Run.Operator != "Ann" {
		t.Errorf("tracker run: got %s %q", snap.Run.Phase, snap.Run.Operator)
	}
	if !snap.MQTTConnected {
		t.Error("tracker should report MQTT connected")
	}
	r.shutdown(syscall.SIGTERM)
}

func TestControllerHonoursContext(t *testing.T) {
	ctl := controller{cmds: make(chan command)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := ctl.Stop(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestPrintProbes(t *testing.T) {
	top := thermal.NewSimProbe(thermal.ProbeLocTop, 20, 1)
	top.SetValue(21.5)
	bottom := thermal.NewSimProbe(thermal.ProbeLocBottom, 20, 1)
	bottom.SetValue(65)
	inv := thermal.NewSimProbe(thermal.ProbeInverter1, 20, 1)
	inv.SetOffline(true)

	var buf bytes.Buffer
	err := printProbes(&buf, []thermal.Probe{top, bottom, inv}, thermal.DefaultLimits())
	if err != nil {
		t.Fatalf("printProbes: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"21.5C", "OK", "65.0C", "OVER LIMIT", "ERROR"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintEvents(t *testing.T) {
	var buf bytes.Buffer
	printEvents(&buf, nil)
	if !strings.Contains(buf.String(), "No events found") {
		t.Errorf("empty: got %q", buf.String())
	}

	buf.Reset()
	printEvents(&buf, []eventlog.Record{{OccurredAt: t0, Kind: "FAULT", Phase: "FAULTED", Cycle: 3, Description: "sensor fault: Loc Top Temp"}})
	out := buf.String()
	if !strings.Contains(out, "FAULTED") || !strings.Contains(out, "sensor fault: Loc Top Temp") {
		t.Errorf("output:\n%s", out)
	}
}

// --- CLI tests ---

func writeCLIConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	cfg := `simulation: true
paths:
  settings: ` + filepath.Join(dir, "settings.json") + `
  email: ` + filepath.Join(dir, "email.json") + `
  counts: ` + filepath.Join(dir, "counts.json") + `
  event_log: ` + filepath.Join(dir, "events.csv") + `
  session_log: ` + filepath.Join(dir, "sessions.csv") + `
  history_db: ` + filepath.Join(dir, "history.db") + `
`
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := newApp()
	var buf bytes.Buffer
	a.cli.Writer = &buf
	a.cli.ErrWriter = &buf
	err := a.cli.Run(append([]string{"lc-interface-test"}, args...))
	return buf.String(), err
}

func TestCLISetPIN(t *testing.T) {
	cfg := writeCLIConfig(t)

	out, err := runCLI(t, "-c", cfg, "set-pin", "--current", settings.DefaultPIN, "--new", "2468")
	if err != nil {
		t.Fatalf("set-pin: %v", err)
	}
	if !strings.Contains(out, "PIN changed") {
		t.Errorf("output: %q", out)
	}

	if _, err := runCLI(t, "-c", cfg, "set-pin", "--current", settings.DefaultPIN, "--new", "1111"); !errors.Is(err, settings.ErrWrongPIN) {
		t.Errorf("old PIN should be rejected, got %v", err)
	}

	store := settings.NewStore(filepath.Join(filepath.Dir(cfg), "settings.json"))
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !store.VerifyPIN("2468") {
		t.Error("new PIN not stored")
	}
}

func TestCLICheckEmail(t *testing.T) {
	cfg := writeCLIConfig(t)
	email := settings.NewEmailStore(filepath.Join(filepath.Dir(cfg), "email.json"))
	if err := email.SetConfig(settings.EmailConfig{Enabled: true, SMTPServer: "smtp.example.com", SMTPPort: 587}); err != nil {
		t.Fatalf("set email config: %v", err)
	}

	_, err := runCLI(t, "-c", cfg, "check-email")
	if !errors.Is(err, settings.ErrSenderEmailMissing) {
		t.Errorf("got %v, want ErrSenderEmailMissing", err)
	}
}

func TestCLIEvents(t *testing.T) {
	cfg := writeCLIConfig(t)
	h, err := eventlog.OpenHistory(filepath.Join(filepath.Dir(cfg), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	ctx := context.Background()
	h.AppendEvent(ctx, logic.Event{Timestamp: t0, Kind: logic.EventCycleStart, RunID: "r1", Phase: logic.PhaseRaising, Description: "run started by Ann"})
	h.AppendEvent(ctx, logic.Event{Timestamp: t0.Add(time.Second), Kind: logic.EventAutoStop, RunID: "r1", Phase: logic.PhaseStopped, Cycle: 4, Description: "auto-stop: max cycles reached (4)"})
	h.Close()

	out, err := runCLI(t, "-c", cfg, "events", "--kind", "auto_stop")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, "max cycles reached (4)") || strings.Contains(out, "run started") {
		t.Errorf("table output:\n%s", out)
	}

	out, err = runCLI(t, "-c", cfg, "events", "--json")
	if err != nil {
		t.Fatalf("events --json: %v", err)
	}
	var records []eventlog.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(records) != 2 || records[0].Kind != "AUTO_STOP" {
		t.Errorf("records: got %+v", records)
	}
}
