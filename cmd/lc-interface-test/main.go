// Command lc-interface-test drives repeated raise/lower cycles on a level
// crossing barrier interface while watching its temperature probes.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/sweeney/lc-interface-test/internal/config"
	"github.com/sweeney/lc-interface-test/internal/logger"
)

// appName is shown in the UI, status payloads and alert subjects.
const appName = "Unipart Level Crossing Interface Test"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type app struct {
	cfg *config.Config
	log *logger.Logger
	cli *cli.App
}

func newApp() *app {
	a := &app{}
	a.cli = &cli.App{
		Name:    "lc-interface-test",
		Usage:   appName,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (default: config.yml in ., ./configs or /etc/lc-interface-test)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose (debug) logging",
			},
			&cli.BoolFlag{
				Name:  "simulation",
				Usage: "Use the simulated gateway and probes",
			},
		},
		Before: a.before,
		Action: a.run,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the test controller daemon (default)",
				Action: a.run,
			},
			{
				Name:   "probes",
				Usage:  "Read every temperature probe once and exit",
				Action: a.probes,
			},
			{
				Name:   "set-pin",
				Usage:  "Change the settings PIN",
				Action: a.setPIN,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "current", Usage: "current PIN", Required: true},
					&cli.StringFlag{Name: "new", Usage: "new PIN", Required: true},
				},
			},
			{
				Name:   "check-email",
				Usage:  "Validate the email alert configuration",
				Action: a.checkEmail,
			},
			{
				Name:   "events",
				Usage:  "List stored events, newest first",
				Action: a.events,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "only events of this kind, e.g. FAULT"},
					&cli.StringFlag{Name: "run", Usage: "only events of this run id"},
					&cli.DurationFlag{Name: "since", Usage: "only events newer than this, e.g. 24h"},
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum number of events"},
					&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
				},
			},
		},
	}
	return a
}

func (a *app) before(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return err
	}
	if ctx.Bool("simulation") {
		cfg.Simulation = true
	}
	level := cfg.LogLevel
	if ctx.Bool("verbose") {
		level = logger.DebugLevel
	}
	a.cfg = cfg
	a.log = logger.Get(level)
	return nil
}

func main() {
	if err := newApp().cli.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
