// Package github implements the content store and issue tracker over the
// GitHub REST API. Each method issues a single request; retrying is left to
// the caller's retry.Policy.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hay-kot/issuebot/internal/core/retry"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

const apiVersion = "2022-11-28"

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Owner   string
	Repo    string
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to one repository.
type Client struct {
	baseURL string
	token   string
	owner   string
	repo    string
	http    *http.Client
}

// New creates a Client for the repository in opts.
func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		token:   opts.Token,
		owner:   opts.Owner,
		repo:    opts.Repo,
		http:    hc,
	}
}

// repoURL builds /repos/{owner}/{repo}/{parts...} with query q.
func (c *Client) repoURL(q url.Values, parts ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/repos/")
	b.WriteString(url.PathEscape(c.owner))
	b.WriteString("/")
	b.WriteString(url.PathEscape(c.repo))
	for _, p := range parts {
		b.WriteString("/")
		b.WriteString(p)
	}
	if len(q) > 0 {
		b.WriteString("?")
		b.WriteString(q.Encode())
	}
	return b.String()
}

// escapePath escapes each segment of a repository path, keeping slashes.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// do sends a request and decodes a JSON response into out when out is non-nil.
// Non-2xx responses become *retry.StatusError.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("%s: encode request: %w", op, err))
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%s: %w", op, err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", "issuebot")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &retry.StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("%s: decode response: %w", op, err))
	}
	return nil
}
