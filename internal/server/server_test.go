package server

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/issuebot/internal/core/engine"
	"github.com/hay-kot/issuebot/internal/core/eventbus"
	"github.com/hay-kot/issuebot/internal/core/state"
	"github.com/hay-kot/issuebot/internal/core/workitem"
)

type recordingProcessor struct {
	mu    sync.Mutex
	items []workitem.WorkItem
}

func (p *recordingProcessor) ProcessWorkItem(_ context.Context, item workitem.WorkItem) (engine.Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
	return engine.Summary{Issue: item.Number}, nil
}

func (p *recordingProcessor) got() []workitem.WorkItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]workitem.WorkItem(nil), p.items...)
}

func newTestServer(t *testing.T, opts Options) (*Server, *state.State, *recordingProcessor) {
	t.Helper()
	st := state.New(0, true, nil)
	proc := &recordingProcessor{}
	opts.Meta = Meta{Owner: "octo", Repo: "demo", Branch: "main", Model: "gemini-2.5-flash"}
	return New(opts, st, proc, zerolog.Nop()), st, proc
}

const issuePayload = `{"action":"%s","issue":{"id":55,"number":12,"title":"Add docs","body":"docs/a.md"}}`

func deliver(t *testing.T, h http.Handler, event, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_DispatchesHandledActions(t *testing.T) {
	srv, st, proc := newTestServer(t, Options{})
	h := srv.Handler()

	for _, action := range []string{"opened", "edited", "reopened", "closed", "labeled"} {
		rec := deliver(t, h, "issues", strings.Replace(issuePayload, "%s", action, 1), nil)
		assert.Equal(t, http.StatusOK, rec.Code, action)
	}
	srv.Wait()

	items := proc.got()
	require.Len(t, items, 3)
	assert.Equal(t, int64(55), items[0].ID)
	assert.Equal(t, 12, items[0].Number)
	assert.Equal(t, "Add docs", items[0].Title)
	assert.Len(t, st.Entries(), 3)
}

func TestWebhook_IgnoresOtherEvents(t *testing.T) {
	srv, _, proc := newTestServer(t, Options{})

	rec := deliver(t, srv.Handler(), "push", `{"ref":"refs/heads/main"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	srv.Wait()
	assert.Empty(t, proc.got())
}

func TestWebhook_BadPayload(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	rec := deliver(t, srv.Handler(), "issues", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_Signature(t *testing.T) {
	srv, _, proc := newTestServer(t, Options{WebhookSecret: "s3cret"})
	body := strings.Replace(issuePayload, "%s", "opened", 1)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	_, _ = mac.Write([]byte(body))
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	rec := deliver(t, srv.Handler(), "issues", body, map[string]string{"X-Hub-Signature-256": "sha256=deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = deliver(t, srv.Handler(), "issues", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = deliver(t, srv.Handler(), "issues", body, map[string]string{"X-Hub-Signature-256": good})
	assert.Equal(t, http.StatusOK, rec.Code)
	srv.Wait()
	assert.Len(t, proc.got(), 1)
}

func TestHealthAndMeta(t *testing.T) {
	srv, st, _ := newTestServer(t, Options{})
	st.RecordError()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Stats.Errors)
	assert.True(t, health.Online)
	assert.True(t, health.DryRun)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/meta", nil))
	var meta map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&meta))
	assert.Equal(t, "octo", meta["repoOwner"])
	assert.Equal(t, "demo", meta["repoName"])
	assert.Equal(t, "main", meta["branch"])
	assert.Equal(t, "gemini-2.5-flash", meta["aiModel"])
}

func TestEvents_StreamsUpdates(t *testing.T) {
	srv, st, _ := newTestServer(t, Options{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, state.UpdateStats, first.Type)

	require.Eventually(t, func() bool { return st.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	st.Log(eventbus.LevelInfo, 3, "hello")

	next := readEvent(t, reader)
	assert.Equal(t, state.UpdateLog, next.Type)
	require.NotNil(t, next.Entry)
	assert.Equal(t, "hello", next.Entry.Message)
}

func readEvent(t *testing.T, r *bufio.Reader) state.Update {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var u state.Update
		require.NoError(t, json.Unmarshal([]byte(data), &u))
		return u
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
