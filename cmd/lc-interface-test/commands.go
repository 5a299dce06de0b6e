package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sweeney/lc-interface-test/internal/eventlog"
	"github.com/sweeney/lc-interface-test/internal/settings"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

// probes prints one reading per probe and the limit it is checked against.
func (a *app) probes(ctx *cli.Context) error {
	store := settings.NewStore(a.cfg.Paths.Settings)
	if err := store.Load(); err != nil {
		a.log.Warnw("settings unreadable, using default limits", "err", err)
	}
	return printProbes(ctx.App.Writer, newProbes(a.cfg), store.Limits())
}

func printProbes(w io.Writer, probes []thermal.Probe, limits thermal.Limits) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROBE\tREADING\tLIMIT\tSTATE")
	for _, p := range probes {
		limit := limits.For(p.Name())
		v, err := p.Read()
		switch {
		case err != nil:
			fmt.Fprintf(tw, "%s\t--\t%.1fC\tERROR: %v\n", p.Name(), limit, err)
		case v >= limit:
			fmt.Fprintf(tw, "%s\t%.1fC\t%.1fC\tOVER LIMIT\n", p.Name(), v, limit)
		default:
			fmt.Fprintf(tw, "%s\t%.1fC\t%.1fC\tOK\n", p.Name(), v, limit)
		}
	}
	return tw.Flush()
}

// setPIN changes the PIN offline. The daemon reads the new hash on its next
// start.
func (a *app) setPIN(ctx *cli.Context) error {
	store := settings.NewStore(a.cfg.Paths.Settings)
	if err := store.Load(); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	if err := store.ChangePIN(ctx.String("current"), ctx.String("new")); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	sessions := eventlog.NewSessionLog(a.cfg.Paths.SessionLog)
	if err := sessions.Append(time.Now(), store.Snapshot().OperatorName, "pin change"); err != nil {
		a.log.Warnw("session log write failed", "err", err)
	}
	fmt.Fprintln(ctx.App.Writer, "PIN changed")
	return nil
}

func (a *app) checkEmail(ctx *cli.Context) error {
	store := settings.NewEmailStore(a.cfg.Paths.Email)
	if err := store.Load(); err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	cfg := store.Config()
	fmt.Fprintln(ctx.App.Writer, cfg.Describe())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	fmt.Fprintln(ctx.App.Writer, "email configuration OK")
	return nil
}

func (a *app) events(ctx *cli.Context) error {
	if a.cfg.Paths.HistoryDB == "" {
		return fmt.Errorf("events: history database disabled (paths.history_db)")
	}
	h, err := openHistory(a.cfg.Paths.HistoryDB)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	defer h.Close()

	f := eventlog.Filter{
		Kind:  ctx.String("kind"),
		RunID: ctx.String("run"),
		Limit: ctx.Int("limit"),
	}
	if since := ctx.Duration("since"); since > 0 {
		f.From = time.Now().Add(-since)
	}
	records, err := h.List(context.Background(), f)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}

	if ctx.Bool("json") {
		enc := json.NewEncoder(ctx.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	return printEvents(ctx.App.Writer, records)
}

func printEvents(w io.Writer, records []eventlog.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No events found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tPHASE\tCYCLE\tDESCRIPTION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.OccurredAt.Local().Format(eventlog.TimestampFormat), r.Kind, r.Phase, r.Cycle, r.Description)
	}
	return tw.Flush()
}
