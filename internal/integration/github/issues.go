package github

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/internal/core/workitem"
)

const pageSize = 50

type issueResponse struct {
	ID          int64     `json:"id"`
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	PullRequest *struct{} `json:"pull_request"`
}

type commentResponse struct {
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (r issueResponse) item() workitem.WorkItem {
	return workitem.WorkItem{
		ID:            r.ID,
		Number:        r.Number,
		Title:         r.Title,
		Body:          r.Body,
		IsPullRequest: r.PullRequest != nil,
	}
}

// ListOpenIssues returns the first page of open issues, pull requests excluded.
func (c *Client) ListOpenIssues(ctx context.Context) ([]workitem.WorkItem, error) {
	q := url.Values{}
	q.Set("state", "open")
	q.Set("per_page", strconv.Itoa(pageSize))

	var resp []issueResponse
	if err := c.do(ctx, "list issues", http.MethodGet, c.repoURL(q, "issues"), nil, &resp); err != nil {
		return nil, err
	}

	items := make([]workitem.WorkItem, 0, len(resp))
	for _, r := range resp {
		if r.PullRequest != nil {
			continue
		}
		items = append(items, r.item())
	}
	return items, nil
}

// GetIssue fetches a single issue by number.
func (c *Client) GetIssue(ctx context.Context, number int) (workitem.WorkItem, error) {
	var resp issueResponse
	err := c.do(ctx, "get issue #"+strconv.Itoa(number), http.MethodGet,
		c.repoURL(nil, "issues", strconv.Itoa(number)), nil, &resp)
	if err != nil {
		return workitem.WorkItem{}, err
	}
	return resp.item(), nil
}

// ListComments returns the first page of comments in creation order.
func (c *Client) ListComments(ctx context.Context, number int) ([]workitem.Comment, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(pageSize))

	var resp []commentResponse
	err := c.do(ctx, "list comments #"+strconv.Itoa(number), http.MethodGet,
		c.repoURL(q, "issues", strconv.Itoa(number), "comments"), nil, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]workitem.Comment, len(resp))
	for i, r := range resp {
		out[i] = workitem.Comment{Author: r.User.Login, Body: r.Body, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// Comment posts body on the issue.
func (c *Client) Comment(ctx context.Context, number int, body string) error {
	return c.do(ctx, "comment #"+strconv.Itoa(number), http.MethodPost,
		c.repoURL(nil, "issues", strconv.Itoa(number), "comments"),
		map[string]string{"body": body}, nil)
}

// Close closes the issue with the given state reason.
func (c *Client) Close(ctx context.Context, number int, reason plan.Reason) error {
	if !reason.IsValid() {
		reason = plan.ReasonCompleted
	}
	return c.do(ctx, "close #"+strconv.Itoa(number), http.MethodPatch,
		c.repoURL(nil, "issues", strconv.Itoa(number)),
		map[string]string{"state": "closed", "state_reason": string(reason)}, nil)
}
