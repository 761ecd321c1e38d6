package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/internal/core/retry"
	"github.com/hay-kot/issuebot/internal/core/store"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Token: "tok", Owner: "octo", Repo: "demo"})
}

func TestRead_DecodesBase64(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/demo/contents/docs/read%20me.md", r.URL.EscapedPath())
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("X-GitHub-Api-Version"))

		enc := base64.StdEncoding.EncodeToString([]byte("hello world"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"type":     "file",
			"sha":      "abc",
			"encoding": "base64",
			"content":  enc[:4] + "\n" + enc[4:],
		})
	})

	f, err := c.Read(context.Background(), "main", "docs/read me.md")
	require.NoError(t, err)
	assert.Equal(t, "hello world", f.Content)
	assert.Equal(t, "abc", f.SHA)
}

func TestRead_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})

	_, err := c.Read(context.Background(), "main", "missing.txt")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, retry.IsTransient(err))
}

func TestRead_DirectoryIsPermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"type": "dir"})
	})

	_, err := c.Read(context.Background(), "main", "src")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestWrite_SendsSHAAndBranch(t *testing.T) {
	var got putContentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"commit":{"sha":"c1","html_url":"https://example.test/c1"}}`))
	})

	commit, err := c.Write(context.Background(), store.WriteRequest{
		Ref: "ai-bot/issue-3", Path: "a.txt", Content: "x", Message: "Update a.txt", SHA: "old",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/c1", commit.Ref())
	assert.Equal(t, "old", got.SHA)
	assert.Equal(t, "ai-bot/issue-3", got.Branch)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("x")), got.Content)
}

func TestWrite_Conflicts(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"stale sha", http.StatusConflict, `{"message":"is at abc but expected def"}`},
		{"missing sha", http.StatusUnprocessableEntity, `{"message":"Invalid request. \"sha\" wasn't supplied."}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.body, tt.status)
			})
			_, err := c.Write(context.Background(), store.WriteRequest{Path: "a.txt", Content: "x"})
			require.ErrorIs(t, err, store.ErrConflict)
		})
	}
}

func TestWrite_ServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Write(context.Background(), store.WriteRequest{Path: "a.txt", Content: "x"})
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))

	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestDelete_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.Delete(context.Background(), store.DeleteRequest{Path: "gone.txt", SHA: "s"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureBranch(t *testing.T) {
	t.Run("existing", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/repos/octo/demo/git/ref/heads/ai-bot/issue-1", r.URL.Path)
			_, _ = w.Write([]byte(`{"object":{"sha":"tip"}}`))
		})
		created, err := c.EnsureBranch(context.Background(), "main", "ai-bot/issue-1")
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("created from base", func(t *testing.T) {
		var posted createRefRequest
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/repos/octo/demo/git/refs":
				require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{}`))
			case r.URL.Path == "/repos/octo/demo/git/ref/heads/main":
				_, _ = w.Write([]byte(`{"object":{"sha":"base-tip"}}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})
		created, err := c.EnsureBranch(context.Background(), "main", "ai-bot/issue-2")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "refs/heads/ai-bot/issue-2", posted.Ref)
		assert.Equal(t, "base-tip", posted.SHA)
	})

	t.Run("same as base", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatalf("unexpected request %s", r.URL.Path)
		})
		created, err := c.EnsureBranch(context.Background(), "main", "main")
		require.NoError(t, err)
		assert.False(t, created)
	})
}

func TestOpenPullRequest_ExistingFallsBack(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			http.Error(w, `{"message":"Validation Failed","errors":[{"message":"A pull request already exists for octo:ai-bot/issue-4."}]}`,
				http.StatusUnprocessableEntity)
			return
		}
		assert.Equal(t, "octo:ai-bot/issue-4", r.URL.Query().Get("head"))
		_, _ = w.Write([]byte(`[{"number":9,"html_url":"https://example.test/pull/9"}]`))
	})

	url, err := c.OpenPullRequest(context.Background(), store.PullRequest{Head: "ai-bot/issue-4", Base: "main", Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/pull/9", url)
}

func TestListOpenIssues_SkipsPullRequests(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		_, _ = w.Write([]byte(`[
			{"id":11,"number":1,"title":"a","body":"x"},
			{"id":12,"number":2,"title":"pr","pull_request":{}}
		]`))
	})

	items, err := c.ListOpenIssues(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(11), items[0].ID)
	assert.Equal(t, 1, items[0].Number)
}

func TestListComments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/demo/issues/5/comments", r.URL.Path)
		_, _ = w.Write([]byte(`[{"user":{"login":"amy"},"body":"please","created_at":"2026-01-02T03:04:05Z"}]`))
	})

	comments, err := c.ListComments(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "amy", comments[0].Author)
	assert.Equal(t, 2026, comments[0].CreatedAt.Year())
}

func TestCommentAndClose(t *testing.T) {
	var bodies []map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var m map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		m["method"] = r.Method
		bodies = append(bodies, m)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Comment(context.Background(), 7, "done"))
	require.NoError(t, c.Close(context.Background(), 7, plan.ReasonNotPlanned))

	require.Len(t, bodies, 2)
	assert.Equal(t, "done", bodies[0]["body"])
	assert.Equal(t, http.MethodPatch, bodies[1]["method"])
	assert.Equal(t, "closed", bodies[1]["state"])
	assert.Equal(t, "not_planned", bodies[1]["state_reason"])
}
