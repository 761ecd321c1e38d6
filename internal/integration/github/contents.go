package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hay-kot/issuebot/internal/core/retry"
	"github.com/hay-kot/issuebot/internal/core/store"
)

var _ store.ContentStore = (*Client)(nil)

type contentResponse struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type commitResponse struct {
	Commit struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	} `json:"commit"`
}

type putContentRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type deleteContentRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch,omitempty"`
}

// Read fetches a file. A missing path yields store.ErrNotFound.
func (c *Client) Read(ctx context.Context, ref, path string) (store.File, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}

	var resp contentResponse
	err := c.do(ctx, "get "+path, http.MethodGet, c.repoURL(q, "contents", escapePath(path)), nil, &resp)
	if err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return store.File{}, fmt.Errorf("get %s: %w", path, store.ErrNotFound)
		}
		return store.File{}, err
	}
	if resp.Type != "" && resp.Type != "file" {
		return store.File{}, retry.Permanent(fmt.Errorf("get %s: path is a %s, not a file", path, resp.Type))
	}

	content, err := decodeContent(resp.Content, resp.Encoding)
	if err != nil {
		return store.File{}, retry.Permanent(fmt.Errorf("get %s: %w", path, err))
	}
	return store.File{Path: path, Content: content, SHA: resp.SHA}, nil
}

func decodeContent(s, encoding string) (string, error) {
	if encoding != "" && encoding != "base64" {
		return s, nil
	}
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(s)
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return "", fmt.Errorf("decode content: %w", err)
	}
	return string(data), nil
}

// Write creates or replaces a file. A stale or missing SHA for an existing
// file yields *store.ConflictError.
func (c *Client) Write(ctx context.Context, req store.WriteRequest) (store.Commit, error) {
	body := putContentRequest{
		Message: req.Message,
		Content: base64.StdEncoding.EncodeToString([]byte(req.Content)),
		Branch:  req.Ref,
		SHA:     req.SHA,
	}

	var resp commitResponse
	err := c.do(ctx, "put "+req.Path, http.MethodPut, c.repoURL(nil, "contents", escapePath(req.Path)), body, &resp)
	if err != nil {
		return store.Commit{}, conflict(err, req.Path, req.SHA)
	}
	return store.Commit{SHA: resp.Commit.SHA, URL: resp.Commit.HTMLURL}, nil
}

// Delete removes a file conditionally on req.SHA.
func (c *Client) Delete(ctx context.Context, req store.DeleteRequest) (store.Commit, error) {
	body := deleteContentRequest{
		Message: req.Message,
		SHA:     req.SHA,
		Branch:  req.Ref,
	}

	var resp commitResponse
	err := c.do(ctx, "delete "+req.Path, http.MethodDelete, c.repoURL(nil, "contents", escapePath(req.Path)), body, &resp)
	if err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return store.Commit{}, fmt.Errorf("delete %s: %w", req.Path, store.ErrNotFound)
		}
		return store.Commit{}, conflict(err, req.Path, req.SHA)
	}
	return store.Commit{SHA: resp.Commit.SHA, URL: resp.Commit.HTMLURL}, nil
}

// conflict maps SHA mismatch responses to *store.ConflictError. GitHub answers
// 409 for a stale sha and 422 when a sha is missing for an existing file.
func conflict(err error, path, sha string) error {
	var se *retry.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.StatusCode == http.StatusConflict:
		return &store.ConflictError{Path: path, ExpectedSHA: sha}
	case se.StatusCode == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(se.Body), "sha"):
		return &store.ConflictError{Path: path, ExpectedSHA: sha}
	default:
		return err
	}
}
