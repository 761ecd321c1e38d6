package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hay-kot/issuebot/internal/bot"
	"github.com/hay-kot/issuebot/internal/core/config"
	"github.com/hay-kot/issuebot/internal/core/eventbus"
	"github.com/hay-kot/issuebot/internal/core/logging"
	"github.com/hay-kot/issuebot/internal/data/db"
	"github.com/hay-kot/issuebot/internal/data/stores"
	"github.com/hay-kot/issuebot/internal/integration/gemini"
	"github.com/hay-kot/issuebot/internal/integration/github"
)

func newGitHub(cfg *config.Config) *github.Client {
	return github.New(github.Options{
		BaseURL: cfg.GitHub.APIURL,
		Token:   cfg.GitHub.Token,
		Owner:   cfg.GitHub.Owner,
		Repo:    cfg.GitHub.Repo,
		Timeout: cfg.GitHub.Timeout,
	})
}

func newGemini(cfg *config.Config) *gemini.Client {
	return gemini.New(gemini.Options{
		BaseURL:     cfg.Gemini.BaseURL,
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		Temperature: cfg.Gemini.Temperature,
		Timeout:     cfg.Gemini.Timeout,
	})
}

// openHistory opens the run history database. A corrupted file is moved
// aside once and a fresh database created in its place.
func openHistory(cfg *config.Config) (*db.DB, *stores.RunStore, error) {
	path := cfg.Database.Path
	database, err := db.Open(path, db.DefaultOpenOptions())
	if err != nil && stores.IsCorruptionError(err) {
		log.Warn().Err(err).Str("path", path).Msg("history database corrupted, recreating")
		if rerr := stores.RecoverFromCorruption(path); rerr != nil {
			return nil, nil, fmt.Errorf("recover database: %w", rerr)
		}
		database, err = db.Open(path, db.DefaultOpenOptions())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return database, stores.NewRunStore(database), nil
}

// pipeline is the set of collaborators shared by serve and run.
type pipeline struct {
	github  *github.Client
	service *bot.Service
	poller  *bot.Poller
	db      *db.DB
}

func (p *pipeline) Close() {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			log.Warn().Err(err).Msg("close database")
		}
	}
}

// newPipeline wires the GitHub and Gemini clients, the run history and the
// service. Credentials are required.
func newPipeline(cfg *config.Config, bus *eventbus.EventBus) (*pipeline, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, fmt.Errorf("missing credentials: %w", err)
	}

	database, runs, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}

	gh := newGitHub(cfg)
	svc, err := bot.NewService(cfg, bot.Deps{
		Tracker:  gh,
		Store:    gh,
		Planner:  newGemini(cfg),
		Recorder: runs,
		Bus:      bus,
		Log:      logging.Component("bot"),
	})
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	return &pipeline{
		github:  gh,
		service: svc,
		poller:  bot.NewPoller(svc, bus, logging.Component("poller")),
		db:      database,
	}, nil
}

// startBus dispatches bus events in the background. The returned function
// stops dispatch after delivering buffered events.
func startBus(ctx context.Context, bus *eventbus.EventBus) func() {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		bus.Start(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}
