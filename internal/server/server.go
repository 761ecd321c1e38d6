// Package server exposes the webhook receiver, health and metadata
// endpoints and the live event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/issuebot/internal/core/engine"
	"github.com/hay-kot/issuebot/internal/core/state"
	"github.com/hay-kot/issuebot/internal/core/workitem"
)

// Processor runs the pipeline for one item.
type Processor interface {
	ProcessWorkItem(ctx context.Context, item workitem.WorkItem) (engine.Summary, error)
}

// Meta describes the repository the bot serves.
type Meta struct {
	Owner  string
	Repo   string
	Branch string
	Model  string
}

// Options configures a Server.
type Options struct {
	Addr          string
	WebhookSecret string
	Meta          Meta
	// Keepalive is the SSE comment interval. Zero uses 25s.
	Keepalive time.Duration
}

// Server serves the HTTP surface. Webhook deliveries are processed in the
// background; Run waits for them before returning.
type Server struct {
	opts  Options
	state *state.State
	proc  Processor
	log   zerolog.Logger
	now   func() time.Time

	started time.Time
	wg      sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context
}

// New creates a Server.
func New(opts Options, st *state.State, proc Processor, log zerolog.Logger) *Server {
	if opts.Keepalive <= 0 {
		opts.Keepalive = 25 * time.Second
	}
	return &Server{
		opts:    opts,
		state:   st,
		proc:    proc,
		log:     log,
		now:     time.Now,
		started: time.Now(),
		baseCtx: context.Background(),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /meta", s.handleMeta)
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

// Run listens on opts.Addr until ctx is cancelled, then shuts down and waits
// for in-flight webhook processing.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.log.Info().Str("addr", listener.Addr().String()).Msg("http server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.Info().Msg("shutting down http server")
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

// Wait blocks until background webhook processing has finished.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) dispatch(item workitem.WorkItem) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.proc.ProcessWorkItem(ctx, item); err != nil {
			s.log.Debug().Err(err).Int("issue", item.Number).Msg("webhook item finished with error")
		}
	}()
}

type healthResponse struct {
	Status  string      `json:"status"`
	Uptime  float64     `json:"uptime"`
	LastRun time.Time   `json:"lastRun"`
	Stats   state.Stats `json:"stats"`
	Online  bool        `json:"online"`
	DryRun  bool        `json:"dryRun"`
	State   string      `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.state.Snapshot()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Uptime:  s.now().Sub(s.started).Seconds(),
		LastRun: snap.LastRun,
		Stats:   snap.Stats,
		Online:  snap.Online,
		DryRun:  snap.DryRun,
		State:   snap.Status,
	})
}

type metaResponse struct {
	RepoOwner string `json:"repoOwner"`
	RepoName  string `json:"repoName"`
	Branch    string `json:"branch"`
	AIModel   string `json:"aiModel"`
	Online    bool   `json:"online"`
}

func (s *Server) handleMeta(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, metaResponse{
		RepoOwner: s.opts.Meta.Owner,
		RepoName:  s.opts.Meta.Repo,
		Branch:    s.opts.Meta.Branch,
		AIModel:   s.opts.Meta.Model,
		Online:    s.state.Snapshot().Online,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Entries())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
