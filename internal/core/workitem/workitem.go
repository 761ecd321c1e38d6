// Package workitem models externally authored issues and admits each one
// at most once per process.
package workitem

import "time"

// WorkItem is an issue as seen by the engine. It is never mutated.
type WorkItem struct {
	// ID is the stable identity; it survives edits and renumbering.
	ID int64 `json:"id"`
	// Number addresses the item in the tracker API and in messages.
	Number        int       `json:"number"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Comments      []Comment `json:"comments,omitempty"`
	IsPullRequest bool      `json:"is_pull_request,omitempty"`
}

// Comment is a single discussion entry, ordered by CreatedAt.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// WithComments returns a copy of w carrying comments.
func (w WorkItem) WithComments(comments []Comment) WorkItem {
	w.Comments = append([]Comment(nil), comments...)
	return w
}
