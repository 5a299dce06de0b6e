package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/sweeney/lc-interface-test/internal/config"
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
	"github.com/sweeney/lc-interface-test/internal/web"
)

func (a *app) run(_ *cli.Context) error {
	cfg, log := a.cfg, a.log
	startTime := time.Now()

	gw, err := newGateway(cfg, log)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer gw.Close()

	store := settings.NewStore(cfg.Paths.Settings)
	if err := store.Load(); err != nil {
		log.Errorw("settings unreadable, using defaults", "path", cfg.Paths.Settings, "err", err)
	}
	emailStore := settings.NewEmailStore(cfg.Paths.Email)
	if err := emailStore.Load(); err != nil {
		log.Errorw("email config unreadable, alerts use defaults", "path", cfg.Paths.Email, "err", err)
	}
	if err := emailStore.Validate(); err != nil {
		log.Warnw("email alerts misconfigured", "err", err)
	}
	counts := settings.NewCountsStore(cfg.Paths.Counts)
	if err := counts.Load(); err != nil {
		log.Errorw("counts unreadable, starting from zero", "path", cfg.Paths.Counts, "err", err)
	}

	var history *eventlog.History
	if cfg.Paths.HistoryDB != "" {
		history, err = openHistory(cfg.Paths.HistoryDB)
		if err != nil {
			return err
		}
		defer history.Close()
	}

	publisher, mqttStatus := newPublisher(cfg, log)
	defer publisher.Close()

	queue := dispatch.New(cfg.Queue.Size, cfg.Queue.Retries, cfg.Queue.Backoff, log)
	defer queue.Close(cfg.Queue.DrainTimeout)

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(startTime, status.Config{
		App:                appName,
		Version:            version,
		Simulation:         cfg.Simulation,
		TickMs:             cfg.Timing.Tick.Milliseconds(),
		TempIntervalMs:     cfg.Timing.TempInterval.Milliseconds(),
		SensorFaultAfterMs: cfg.Timing.SensorFaultAfter.Milliseconds(),
		HeartbeatMs:        cfg.Timing.Heartbeat.Milliseconds(),
		Broker:             cfg.MQTT.Broker,
		HTTPPort:           cfg.HTTP.Addr,
	})
	tracker.SetCounts(counts.Counts())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	probes := newProbes(cfg)
	d := &daemon{
		engine:       logic.NewEngine(gw, uuid.NewString),
		monitor:      thermal.NewMonitor(probes, store.Limits(), cfg.Timing.SensorFaultAfter, startTime),
		store:        store,
		counts:       counts,
		alerter:      notify.NewAlerter(emailStore, publisher, appName, log),
		eventLog:     eventlog.NewCSVLog(cfg.Paths.EventLog),
		sessions:     eventlog.NewSessionLog(cfg.Paths.SessionLog),
		queue:        queue,
		publisher:    publisher,
		mqttStatus:   mqttStatus,
		tracker:      tracker,
		heartbeat:    cfg.Timing.Heartbeat,
		drainTimeout: cfg.Queue.DrainTimeout,
		log:          log.Named("loop"),
	}
	if history != nil {
		d.history = history
	}

	// Publish startup event with full status snapshot
	d.refreshSettings()
	d.syncTracker()
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	queue.Submit("startup event", func(context.Context) error {
		return publisher.PublishSystem(startup)
	})

	cmds := make(chan command)
	if cfg.HTTP.Addr != "" {
		var events web.EventSource
		if history != nil {
			events = history
		}
		srv := web.New(cfg.HTTP.Addr, tracker, controller{cmds: cmds}, events, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("http server error", "err", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		log.Infow("http server listening", "addr", cfg.HTTP.Addr)
	}

	log.Infow("started",
		"version", version,
		"simulation", cfg.Simulation,
		"tick", cfg.Timing.Tick,
		"temp_interval", cfg.Timing.TempInterval,
		"broker", cfg.MQTT.Broker,
		"heartbeat", cfg.Timing.Heartbeat,
	)

	tick := time.NewTicker(cfg.Timing.Tick)
	defer tick.Stop()
	poll := time.NewTicker(cfg.Timing.TempInterval)
	defer poll.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler := thermal.NewSampler(probes)
	go sampler.Run(ctx, poll.C)

	d.pollProbes(time.Now(), thermal.ReadAll(probes))
	return d.runLoop(time.Now, tick.C, sampler.Batches(), gw.Buttons(), cmds, sigCh)
}

func newGateway(cfg *config.Config, log *logger.Logger) (gpio.Gateway, error) {
	if cfg.Simulation {
		log.Infow("using simulated gateway")
		return gpio.NewSimulated(cfg.GPIO.Polarity, log), nil
	}
	return gpio.NewRealGateway(cfg.GPIO.Chip, cfg.GPIO.Pins, cfg.GPIO.Polarity, cfg.GPIO.Debounce, log)
}

// newProbes returns one probe per name in display order.
func newProbes(cfg *config.Config) []thermal.Probe {
	probes := make([]thermal.Probe, 0, len(thermal.ProbeNames))
	if cfg.Simulation {
		for _, p := range thermal.SimProbes(time.Now().UnixNano()) {
			probes = append(probes, p)
		}
		return probes
	}
	for _, name := range thermal.ProbeNames {
		probes = append(probes, thermal.NewW1Probe(name, cfg.Probes.IDs[name], cfg.Probes.W1Dir))
	}
	return probes
}

// newPublisher returns a no-op publisher when no broker is configured. The
// connection status is nil in that case.
func newPublisher(cfg *config.Config, log *logger.Logger) (mqtt.Publisher, mqtt.ConnectionStatus) {
	if cfg.MQTT.Broker == "" {
		log.Infow("mqtt disabled: no broker configured")
		return mqtt.NopPublisher{}, nil
	}
	p := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.BufferSize, log)
	return p, p
}

func openHistory(path string) (*eventlog.History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	h, err := eventlog.OpenHistory(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return h, nil
}
