package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/hay-kot/issuebot/internal/core/config"
	"github.com/hay-kot/issuebot/internal/core/eventbus"
	"github.com/hay-kot/issuebot/internal/core/logging"
	"github.com/hay-kot/issuebot/internal/core/state"
	"github.com/hay-kot/issuebot/internal/profiler"
	"github.com/hay-kot/issuebot/internal/server"
)

type ServeCmd struct {
	flags *Flags

	// flags
	noPoll       bool
	noWatch      bool
	profilerPort int
}

// NewServeCmd creates a new serve command
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Poll open issues and serve the webhook and status endpoints",
		UsageText: "issuebot serve [--no-poll] [--no-watch] [--profiler-port PORT]",
		Description: `Runs the bot until interrupted.

Open issues are polled every bot.check_interval and each new issue is planned,
executed and reported once. The HTTP server accepts GitHub "issues" webhook
deliveries on POST /webhook and exposes /health, /meta, /logs and an SSE
stream on /events.

The config file is watched and engine limits are applied to new work items
without a restart.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "no-poll",
				Usage:       "only process issues delivered by webhook",
				Destination: &cmd.noPoll,
			},
			&cli.BoolFlag{
				Name:        "no-watch",
				Usage:       "do not reload the config file on change",
				Destination: &cmd.noWatch,
			},
			&cli.IntFlag{
				Name:        "profiler-port",
				Usage:       "serve pprof handlers on this port (0 disables)",
				Sources:     cli.EnvVars("ISSUEBOT_PROFILER_PORT"),
				Destination: &cmd.profilerPort,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New(256)
	st := state.New(0, cfg.Engine.DryRun, nil)
	st.Attach(bus)
	eventbus.NewNotificationRouter(bus).Register()
	eventbus.RegisterDebugLogger(bus, logging.Component("events"))

	p, err := newPipeline(cfg, bus)
	if err != nil {
		return err
	}
	defer p.Close()

	srv := server.New(server.Options{
		Addr:          cfg.Addr(),
		WebhookSecret: cfg.Server.WebhookSecret,
		Meta: server.Meta{
			Owner:  cfg.GitHub.Owner,
			Repo:   cfg.GitHub.Repo,
			Branch: cfg.GitHub.Branch,
			Model:  cfg.Gemini.Model,
		},
	}, st, p.service, logging.Component("server"))

	log.Info().
		Str("repo", cfg.Repository()).
		Str("branch", cfg.GitHub.Branch).
		Str("addr", cfg.Addr()).
		Bool("dry_run", cfg.Engine.DryRun).
		Bool("pull_request", cfg.Engine.UsePullRequest).
		Msg("issuebot starting")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bus.Start(ctx)
		return nil
	})

	g.Go(func() error {
		return srv.Run(ctx)
	})

	if !cmd.noPoll {
		g.Go(func() error {
			return p.poller.Run(ctx)
		})
	}

	if !cmd.noWatch {
		g.Go(func() error {
			err := config.Watch(ctx, cmd.flags.ConfigPath, cmd.flags.DataDir, logging.Component("config"), func(next *config.Config) {
				if err := p.service.Reload(next); err != nil {
					log.Error().Err(err).Msg("config reload rejected")
					return
				}
				bus.PublishConfigReloaded(eventbus.ConfigReloadedPayload{Config: next})
			})
			if err != nil {
				log.Warn().Err(err).Msg("config watcher disabled")
			}
			return nil
		})
	}

	if cmd.profilerPort > 0 {
		prof := profiler.New("127.0.0.1", cmd.profilerPort, logging.Component("profiler"))
		g.Go(func() error {
			return prof.Run(ctx)
		})
	}

	st.SetStatus("idle")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info().Msg("issuebot stopped")
	return nil
}
