// Package notify turns fault and auto-stop events into email alerts and
// hands them to a Sender. It is only ever called off the control path.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logger"
	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/settings"
)

// Alert is an email ready for delivery by a mail relay.
type Alert struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"`
	RunID      string    `json:"run_id,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	From       string    `json:"from"`
	To         []string  `json:"to"`
	SMTPServer string    `json:"smtp_server"`
	SMTPPort   int       `json:"smtp_port"`
}

// Sender delivers an alert.
type Sender interface {
	SendAlert(ctx context.Context, a Alert) error
}

// ConfigSource supplies the current email configuration.
type ConfigSource interface {
	Config() settings.EmailConfig
}

// Alerter decides which events warrant an email and builds it.
type Alerter struct {
	cfg     ConfigSource
	send    Sender
	appName string
	log     *logger.Logger
}

// NewAlerter creates an alerter. appName prefixes every subject.
func NewAlerter(cfg ConfigSource, send Sender, appName string, log *logger.Logger) *Alerter {
	return &Alerter{cfg: cfg, send: send, appName: appName, log: logger.OrNop(log).Named("notify")}
}

// Wants reports whether ev should produce an alert.
func Wants(ev logic.Event) bool {
	return ev.Kind == logic.EventFault || ev.Kind == logic.EventAutoStop
}

// Notify sends an alert for ev if it warrants one and alerts are enabled.
// It returns the validation error when alerts are enabled but the
// configuration is incomplete.
func (a *Alerter) Notify(ctx context.Context, ev logic.Event, state logic.RunState) (bool, error) {
	if !Wants(ev) {
		return false, nil
	}
	cfg := a.cfg.Config()
	if !cfg.Enabled {
		a.log.Debugw("alerts disabled, skipping", "kind", ev.Kind)
		return false, nil
	}
	if err := cfg.Validate(); err != nil {
		return false, fmt.Errorf("email config: %w", err)
	}

	alert := Build(a.appName, cfg, ev, state)
	if err := a.send.SendAlert(ctx, alert); err != nil {
		return false, fmt.Errorf("send alert: %w", err)
	}
	a.log.Infow("alert sent", "kind", ev.Kind, "recipients", len(alert.To))
	return true, nil
}

// Build formats the alert for ev.
func Build(appName string, cfg settings.EmailConfig, ev logic.Event, state logic.RunState) Alert {
	var subject string
	switch ev.Kind {
	case logic.EventFault:
		subject = fmt.Sprintf("%s: FAULT", appName)
		if ev.Fault != nil {
			subject = fmt.Sprintf("%s: FAULT (%s)", appName, ev.Fault.Cause)
		}
	case logic.EventAutoStop:
		subject = fmt.Sprintf("%s: test complete", appName)
	default:
		subject = fmt.Sprintf("%s: %s", appName, ev.Kind)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", ev.Description)
	fmt.Fprintf(&b, "Time:            %s\n", ev.Timestamp.UTC().Format(time.RFC3339))
	if state.RunID != "" {
		fmt.Fprintf(&b, "Run:             %s\n", state.RunID)
	}
	if state.Operator != "" {
		fmt.Fprintf(&b, "Operator:        %s\n", state.Operator)
	}
	fmt.Fprintf(&b, "Cycles complete: %d\n", ev.Cycle)
	fmt.Fprintf(&b, "Elapsed:         %s\n", state.Elapsed.Round(time.Second))
	c := state.Config
	fmt.Fprintf(&b, "Timings:         raise %ds, lower %ds, dwell %ds\n", c.RaiseSeconds, c.LowerSeconds, c.DwellSeconds)
	if f := ev.Fault; f != nil && f.Probe != "" {
		fmt.Fprintf(&b, "Probe:           %s\n", f.Probe)
		if f.Cause == logic.CauseWatchdogBreach {
			fmt.Fprintf(&b, "Reading:         %.1fC (limit %.1fC)\n", f.Value, f.Limit)
		}
	}

	return Alert{
		Timestamp:  ev.Timestamp,
		Kind:       string(ev.Kind),
		RunID:      ev.RunID,
		Subject:    subject,
		Body:       b.String(),
		From:       cfg.SenderEmail,
		To:         append([]string{}, cfg.RecipientEmails...),
		SMTPServer: cfg.SMTPServer,
		SMTPPort:   cfg.SMTPPort,
	}
}
