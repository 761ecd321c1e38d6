package bot

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_RunOnce(t *testing.T) {
	h := newHarness(t, testConfig(), &fakePlanner{replies: []string{scenarioPlan}})
	pr := issue(3, 3)
	pr.IsPullRequest = true
	h.tracker.issues = append(h.tracker.issues, issue(1, 1), issue(2, 2), pr)

	p := NewPoller(h.svc, h.bus.EventBus, zerolog.Nop())

	c, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Cycle{Found: 3, Processed: 2, Skipped: 1}, c)

	c, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Cycle{Found: 3, Skipped: 3}, c)
}

func TestPoller_EmptyCycle(t *testing.T) {
	h := newHarness(t, testConfig(), &fakePlanner{})
	p := NewPoller(h.svc, nil, zerolog.Nop())

	c, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, c.Found)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.CheckInterval = time.Hour
	h := newHarness(t, cfg, &fakePlanner{})
	p := NewPoller(h.svc, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		h.tracker.mu.Lock()
		defer h.tracker.mu.Unlock()
		return h.tracker.lists == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
