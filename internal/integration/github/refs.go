package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hay-kot/issuebot/internal/core/retry"
	"github.com/hay-kot/issuebot/internal/core/store"
)

type refResponse struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type createRefRequest struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type pullRequestBody struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

type pullResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

func (c *Client) headSHA(ctx context.Context, branch string) (string, error) {
	var ref refResponse
	err := c.do(ctx, "get ref "+branch, http.MethodGet, c.repoURL(nil, "git", "ref", "heads", escapePath(branch)), nil, &ref)
	if err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

func isStatus(err error, code int) bool {
	var se *retry.StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// EnsureBranch creates name from the tip of base unless it already exists.
func (c *Client) EnsureBranch(ctx context.Context, base, name string) (bool, error) {
	if name == base {
		return false, nil
	}

	_, err := c.headSHA(ctx, name)
	if err == nil {
		return false, nil
	}
	if !isStatus(err, http.StatusNotFound) {
		return false, err
	}

	sha, err := c.headSHA(ctx, base)
	if err != nil {
		return false, fmt.Errorf("resolve base %s: %w", base, err)
	}

	err = c.do(ctx, "create ref "+name, http.MethodPost, c.repoURL(nil, "git", "refs"),
		createRefRequest{Ref: "refs/heads/" + name, SHA: sha}, nil)
	if isStatus(err, http.StatusUnprocessableEntity) {
		// created concurrently
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OpenPullRequest opens head into base. When one is already open for head its
// URL is returned instead.
func (c *Client) OpenPullRequest(ctx context.Context, pr store.PullRequest) (string, error) {
	var resp pullResponse
	err := c.do(ctx, "open pull request", http.MethodPost, c.repoURL(nil, "pulls"), pullRequestBody{
		Title: pr.Title,
		Body:  pr.Body,
		Head:  pr.Head,
		Base:  pr.Base,
	}, &resp)
	if err == nil {
		return resp.HTMLURL, nil
	}

	var se *retry.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnprocessableEntity ||
		!strings.Contains(strings.ToLower(se.Body), "already exists") {
		return "", err
	}

	q := url.Values{}
	q.Set("state", "open")
	q.Set("head", c.owner+":"+pr.Head)
	q.Set("base", pr.Base)

	var open []pullResponse
	if lerr := c.do(ctx, "list pull requests", http.MethodGet, c.repoURL(q, "pulls"), nil, &open); lerr != nil {
		return "", lerr
	}
	if len(open) == 0 {
		return "", err
	}
	return open[0].HTMLURL, nil
}
