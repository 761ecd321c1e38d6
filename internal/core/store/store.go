// Package store defines the versioned content store the engine writes to.
//
// Every write and delete is conditional on the SHA observed by a preceding
// Read. Implementations reject a stale SHA with a *ConflictError so that two
// writers racing on one path cannot silently lose an update.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Read when the path does not exist on the ref.
	ErrNotFound = errors.New("not found")
	// ErrConflict is matched by *ConflictError via errors.Is.
	ErrConflict = errors.New("sha conflict")
)

// ConflictError reports a write whose expected SHA did not match the store.
type ConflictError struct {
	Path        string
	ExpectedSHA string
	CurrentSHA  string
}

func (e *ConflictError) Error() string {
	if e.CurrentSHA == "" {
		return "sha conflict on " + e.Path
	}
	return "sha conflict on " + e.Path + ": expected " + e.ExpectedSHA + ", current " + e.CurrentSHA
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// File is the content and version token of one path.
type File struct {
	Path    string
	Content string
	SHA     string
}

// Commit identifies the store revision produced by a write or delete.
type Commit struct {
	SHA string
	URL string
}

// Ref returns the most useful human reference for the commit.
func (c Commit) Ref() string {
	if c.URL != "" {
		return c.URL
	}
	return c.SHA
}

// WriteRequest is a full-content write. An empty SHA means unconditional create.
type WriteRequest struct {
	Ref     string
	Path    string
	Content string
	Message string
	SHA     string
}

// DeleteRequest removes a path conditionally on SHA.
type DeleteRequest struct {
	Ref     string
	Path    string
	Message string
	SHA     string
}

// PullRequest describes a review-gated merge of Head into Base.
type PullRequest struct {
	Head  string
	Base  string
	Title string
	Body  string
}

// Reader reads files from a ref.
type Reader interface {
	Read(ctx context.Context, ref, path string) (File, error)
}

// ContentStore is the remote, SHA-versioned content store.
type ContentStore interface {
	Reader
	Write(ctx context.Context, req WriteRequest) (Commit, error)
	Delete(ctx context.Context, req DeleteRequest) (Commit, error)
	// EnsureBranch creates name from the tip of base. An existing branch is
	// reused and reported with created == false.
	EnsureBranch(ctx context.Context, base, name string) (created bool, err error)
	OpenPullRequest(ctx context.Context, pr PullRequest) (url string, err error)
}
