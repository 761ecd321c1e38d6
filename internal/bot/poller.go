package bot

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hay-kot/issuebot/internal/core/eventbus"
	"github.com/hay-kot/issuebot/internal/core/retry"
	"github.com/hay-kot/issuebot/internal/core/workitem"
)

// Cycle summarizes one poll over the open issues.
type Cycle struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Poller lists open issues on an interval and feeds them to the Service.
// Concurrent RunOnce calls share a single listing.
type Poller struct {
	svc   *Service
	bus   *eventbus.EventBus
	log   zerolog.Logger
	group singleflight.Group
}

// NewPoller creates a Poller over svc. bus may be nil.
func NewPoller(svc *Service, bus *eventbus.EventBus, log zerolog.Logger) *Poller {
	return &Poller{svc: svc, bus: bus, log: log}
}

// RunOnce performs one poll cycle. Items are processed sequentially.
func (p *Poller) RunOnce(ctx context.Context) (Cycle, error) {
	v, err, shared := p.group.Do("poll", func() (any, error) {
		return p.cycle(ctx)
	})
	if shared {
		p.log.Debug().Msg("joined in-flight poll cycle")
	}
	c, _ := v.(Cycle)
	return c, err
}

func (p *Poller) cycle(ctx context.Context) (Cycle, error) {
	var c Cycle
	rt := p.svc.current()
	p.notify(eventbus.LevelInfo, "checking open issues")

	items, err := retry.Value(ctx, rt.policy, func(ctx context.Context) ([]workitem.WorkItem, error) {
		return p.svc.tracker.ListOpenIssues(ctx)
	})
	if err != nil {
		p.bus.PublishItemFailed(eventbus.ItemFailedPayload{Err: err})
		return c, err
	}

	c.Found = len(items)
	if len(items) == 0 {
		p.notify(eventbus.LevelInfo, "no open issues")
		return c, nil
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return c, ctx.Err()
		}
		_, err := p.svc.ProcessWorkItem(ctx, item)
		switch {
		case errors.Is(err, ErrDuplicate), errors.Is(err, ErrPullRequest):
			c.Skipped++
		case err != nil:
			c.Failed++
		default:
			c.Processed++
		}
	}

	p.log.Info().
		Int("found", c.Found).
		Int("processed", c.Processed).
		Int("skipped", c.Skipped).
		Int("failed", c.Failed).
		Msg("poll cycle finished")
	return c, nil
}

// Run polls immediately and then every bot.check_interval until ctx is done.
// The interval is re-read after each cycle so reloads take effect.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Msg("poll cycle failed")
		}

		interval := p.svc.Config().Bot.CheckInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (p *Poller) notify(level eventbus.Level, msg string) {
	p.bus.PublishNotificationPublished(eventbus.NotificationPublishedPayload{Level: level, Message: msg})
}
