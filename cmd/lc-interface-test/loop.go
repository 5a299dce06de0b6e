package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
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

// historyWriter is the subset of eventlog.History the loop writes to.
type historyWriter interface {
	AppendEvent(ctx context.Context, ev logic.Event) error
	AppendReadings(ctx context.Context, readings []thermal.Reading) error
}

// daemon holds everything runLoop touches. Only runLoop's goroutine calls
// the engine's mutating methods and the monitor.
type daemon struct {
	engine     *logic.Engine
	monitor    *thermal.Monitor
	store      *settings.Store
	counts     *settings.CountsStore
	alerter    *notify.Alerter
	eventLog   *eventlog.CSVLog
	sessions   *eventlog.SessionLog
	history    historyWriter // nil when disabled
	queue      *dispatch.Queue
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // nil when MQTT is disabled
	tracker    *status.Tracker

	heartbeat    time.Duration // 0 disables
	drainTimeout time.Duration
	log          *logger.Logger
}

// runLoop is the single control goroutine. It returns after a signal once
// the run is stopped and queued side effects are drained.
func (d *daemon) runLoop(now func() time.Time, tick <-chan time.Time, samples <-chan []thermal.Sample, buttons <-chan gpio.ButtonEvent, cmds <-chan command, sig <-chan os.Signal) error {
	lastHeartbeat := now()
	d.refreshSettings()
	d.syncTracker()

	for {
		select {
		case s := <-sig:
			return d.shutdown(now(), s)

		case <-tick:
			t := now()
			d.handle(d.engine.Tick(t))

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				d.publishHeartbeat(t)
			}
			d.syncTracker()

		case batch := <-samples:
			d.pollProbes(now(), batch)
			d.syncTracker()

		case ev := <-buttons:
			d.handleButton(now(), ev)
			d.syncTracker()

		case cmd := <-cmds:
			cmd.reply <- d.execute(now(), cmd)
			d.syncTracker()
		}
	}
}

// pollProbes evaluates one batch of probe samples. The reads themselves
// happen on the sampler goroutine.
func (d *daemon) pollProbes(t time.Time, batch []thermal.Sample) {
	readings, faults := d.monitor.Record(t, batch)
	d.tracker.SetProbes(readings)

	d.queue.Submit("telemetry", func(context.Context) error {
		return d.publisher.PublishTelemetry(t, readings)
	})
	if d.history != nil {
		d.queue.Submit("history readings", func(ctx context.Context) error {
			return d.history.AppendReadings(ctx, readings)
		})
	}

	for _, f := range faults {
		if d.engine.State().Phase.Running() {
			d.handle(d.engine.Fault(t, f))
			continue
		}
		// Outside a run the fault is latched but no run is counted.
		if events := d.engine.Fault(t, f); len(events) > 0 {
			d.log.Warnw("probe fault while idle", "fault", f.String())
			d.record(events)
		}
	}
}

func (d *daemon) handleButton(t time.Time, ev gpio.ButtonEvent) {
	if ev.Err != nil {
		d.log.Warnw("button error", "button", ev.Button, "err", ev.Err)
		d.notice(t, fmt.Sprintf("button %s input error: %v", ev.Button, ev.Err))
		return
	}
	d.log.Infow("button pressed", "button", ev.Button)
	var err error
	switch ev.Button {
	case gpio.ButtonStart:
		err = d.start(t, "")
	case gpio.ButtonStop:
		err = d.stop(t, "")
	}
	if err != nil && !errors.Is(err, logic.ErrAlreadyRunning) {
		d.log.Warnw("button action failed", "button", ev.Button, "err", err)
	}
}

// handle records engine events. A run that just ended updates the lifetime
// counters.
func (d *daemon) handle(events []logic.Event) {
	d.record(events)
	for _, ev := range events {
		if ends(ev) {
			d.recordRun(ev.Cycle, ev.Timestamp)
		}
	}
}

// record queues the side effects of events: CSV, history, MQTT and alerts.
func (d *daemon) record(events []logic.Event) {
	if len(events) == 0 {
		return
	}
	state := d.engine.State()
	for _, ev := range events {
		d.log.Infow("event", "kind", ev.Kind, "phase", ev.Phase, "cycle", ev.Cycle, "description", ev.Description)

		d.queue.Submit("event log", func(context.Context) error {
			return d.eventLog.Append(ev)
		})
		if d.history != nil {
			d.queue.Submit("history event", func(ctx context.Context) error {
				return d.history.AppendEvent(ctx, ev)
			})
		}
		d.queue.Submit("publish event", func(context.Context) error {
			return d.publisher.Publish(ev)
		})
		if notify.Wants(ev) {
			d.queue.Submit("alert", func(ctx context.Context) error {
				_, err := d.alerter.Notify(ctx, ev, state)
				return err
			})
		}
	}
}

// ends reports whether ev leaves a run in a terminal phase.
func ends(ev logic.Event) bool {
	switch ev.Kind {
	case logic.EventAutoStop, logic.EventFault:
		return true
	case logic.EventOperatorAction:
		return ev.Phase == logic.PhaseStopped
	}
	return false
}

// recordRun adds the run to the counters once; retries only re-save.
func (d *daemon) recordRun(cycles int, at time.Time) {
	recorded := false
	d.queue.Submit("counts", func(context.Context) error {
		if recorded {
			return d.counts.Save()
		}
		recorded = true
		c, err := d.counts.RecordRun(cycles, at)
		d.tracker.SetCounts(c)
		return err
	})
}

// notice records an operator action that did not come from the engine. It
// never ends a run.
func (d *daemon) notice(t time.Time, desc string) {
	s := d.engine.State()
	d.record([]logic.Event{{
		Timestamp:   t,
		Kind:        logic.EventOperatorAction,
		RunID:       s.RunID,
		Phase:       s.Phase,
		Cycle:       s.Cycle,
		Description: desc,
	}})
}

func (d *daemon) session(t time.Time, operator, action string) {
	d.queue.Submit("session log", func(context.Context) error {
		return d.sessions.Append(t, operator, action)
	})
}

func (d *daemon) start(t time.Time, operator string) error {
	if operator == "" {
		operator = d.store.Snapshot().OperatorName
	}
	events, err := d.engine.Start(d.store.CycleConfig(), operator, t)
	if errors.Is(err, logic.ErrAlreadyRunning) {
		d.notice(t, "start ignored: test already running")
		return err
	}
	if err != nil {
		return err
	}
	d.session(t, operator, "start")
	d.handle(events)
	return nil
}

func (d *daemon) stop(t time.Time, operator string) error {
	events := d.engine.Stop(t)
	if len(events) > 0 {
		d.session(t, d.operatorOr(operator), "stop")
	}
	d.handle(events)
	return nil
}

func (d *daemon) reset(t time.Time, operator string) error {
	events := d.engine.Reset(t)
	if len(events) > 0 {
		d.session(t, d.operatorOr(operator), "reset")
	}
	d.handle(events)
	return nil
}

// operatorOr falls back to the operator of the current run.
func (d *daemon) operatorOr(operator string) string {
	if operator != "" {
		return operator
	}
	return d.engine.State().Operator
}

func (d *daemon) updateSettings(t time.Time, pin string, apply func(*settings.Settings)) error {
	if !d.store.VerifyPIN(pin) {
		d.log.Warnw("settings change rejected: wrong PIN")
		return settings.ErrWrongPIN
	}
	err := d.store.Update(apply)
	if err != nil && !errors.Is(err, settings.ErrPersistence) {
		return err
	}
	// A persistence failure still leaves the new values in effect.
	d.refreshSettings()
	d.session(t, d.store.Snapshot().OperatorName, "settings change")
	if err != nil {
		d.log.Errorw("settings not saved", "err", err)
	}
	return err
}

func (d *daemon) changePIN(t time.Time, current, next string) error {
	err := d.store.ChangePIN(current, next)
	if err != nil && !errors.Is(err, settings.ErrPersistence) {
		d.log.Warnw("pin change rejected", "err", err)
		return err
	}
	d.session(t, d.store.Snapshot().OperatorName, "pin change")
	if err != nil {
		d.log.Errorw("pin not saved", "err", err)
	}
	return err
}

// refreshSettings pushes the stored limits to the monitor and tracker.
func (d *daemon) refreshSettings() {
	limits := d.store.Limits()
	d.monitor.SetLimits(limits)
	d.tracker.SetSettings(d.store.CycleConfig(), limits)
}

func (d *daemon) syncTracker() {
	d.tracker.UpdateRun(d.engine.State())
	d.tracker.SetQueueDropped(d.queue.Dropped())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *daemon) publishHeartbeat(t time.Time) {
	if net := readNetworkInfo(); net != nil {
		d.tracker.SetNetwork(net)
	}
	d.syncTracker()
	snap := d.tracker.Snapshot()
	d.log.Infow("heartbeat", "uptime", snap.Uptime().Round(time.Second), "phase", snap.Run.Phase, "cycle", snap.Run.Cycle)

	ev := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	d.queue.Submit("heartbeat", func(context.Context) error {
		return d.publisher.PublishSystem(ev)
	})
}

func (d *daemon) shutdown(t time.Time, s os.Signal) error {
	signalName := signalName(s)
	d.log.Infow("shutting down", "signal", signalName)

	if d.engine.State().Phase.Running() {
		d.notice(t, "shutdown: "+signalName)
	}
	d.handle(d.engine.Stop(t))
	d.syncTracker()

	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "SHUTDOWN",
		Reason:     signalName,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
	}
	d.queue.Submit("shutdown event", func(context.Context) error {
		return d.publisher.PublishSystem(ev)
	})

	if err := d.queue.Close(d.drainTimeout); err != nil {
		d.log.Warnw("queue not drained", "err", err, "pending", d.queue.Pending())
	}
	if n := d.queue.Failed(); n > 0 {
		d.log.Warnw("side effects failed during run", "failed", n, "dropped", d.queue.Dropped())
	}
	return nil
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return fmt.Sprint(s)
}
