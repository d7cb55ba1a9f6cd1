package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/regressctl/regressctl/cli/docker"
	"github.com/regressctl/regressctl/cli/smp"
	"github.com/regressctl/regressctl/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "regressctl"

type App struct {
	logger zerolog.Logger
	cli    *cli.App

	cfg      Config
	git      gitService
	builder  docker.Builder
	smp      smp.Client
	registry runRegistry
	store    submissionStore
	uploader objectUploader
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Orchestrate baseline/comparison performance-regression experiments",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					Usage:   "Path to the regressctl config file",
					Value:   ".regressctl.yaml",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Run a full experiment: resolve, build both images, submit and await the verdict",
		Action: app.runExperiment,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "trigger-ref",
				Usage:    "Revision that triggered the run (e.g. the PR head commit)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "merge-target",
				Usage: "Reference the baseline is resolved from",
				Value: "main",
			},
			&cli.StringFlag{
				Name:     "scope",
				Usage:    "Logical scope of the run (e.g. the PR number); a new run cancels prior runs in the same scope",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Wall-clock limit for the submitted job (overrides config)",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Interval between status polls (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "skip-relay",
				Usage: "Skip relaying capture artifacts to object storage",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "status",
		Usage:  "Poll a submitted job once, or drive it to a terminal state with --wait",
		Action: app.statusAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "run",
				Usage: "Run ID (or unique prefix) to reattach to; defaults to the latest submission",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Keep polling until the job reaches a terminal state",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "cancel",
		Usage:  "Request cancellation of a submitted job",
		Action: app.cancelAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "run",
				Usage: "Run ID (or unique prefix) to cancel; defaults to the latest submission",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "sync",
		Usage:  "Fetch capture artifacts for a run and relay them to object storage",
		Action: app.syncAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "run",
				Usage: "Run ID (or unique prefix) to sync; defaults to the latest submission",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "resolve",
		Usage:  "Resolve and print the experiment identity without side effects",
		Action: app.resolveAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "trigger-ref",
				Usage:    "Revision that triggered the run",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "merge-target",
				Usage: "Reference the baseline is resolved from",
				Value: "main",
			},
			&cli.StringFlag{
				Name:  "scope",
				Usage: "Logical scope of the run",
			},
		},
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

// setup loads configuration and wires the external collaborators.
// Tests construct App directly with fakes instead.
func (a *App) setup(ctx *cli.Context) error {
	cfg, err := LoadConfig(ctx.String("config"))
	if err != nil {
		return err
	}

	if ctx.IsSet("timeout") {
		cfg.Poll.Timeout = ctx.Duration("timeout")
	}
	if ctx.IsSet("poll-interval") {
		cfg.Poll.Interval = ctx.Duration("poll-interval")
	}

	a.cfg = cfg
	a.git = gitClient{}
	a.builder = docker.NewCLI(a.logger)
	a.smp = smp.NewCLI(a.logger, cfg.Smp.Binary)

	root, err := a.git.RepoRoot()
	if err != nil {
		return err
	}
	st := store.New(a.logger, root)
	a.registry = st
	a.store = st

	if cfg.Relay.Endpoint != "" {
		uploader, err := newMinioUploader(cfg)
		if err != nil {
			return err
		}
		a.uploader = uploader
	}

	return nil
}
