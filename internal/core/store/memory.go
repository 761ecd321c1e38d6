package store

import (
	"context"
	"crypto/sha1" //nolint:gosec // git blob ids are sha1
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Memory is an in-process ContentStore with git-style blob SHAs. It backs
// tests and the offline plan apply mode.
type Memory struct {
	mu       sync.Mutex
	branches map[string]map[string]File
	commits  int
	pulls    []PullRequest
	calls    int
}

var _ ContentStore = (*Memory)(nil)

// NewMemory creates a store holding a single empty branch.
func NewMemory(branch string) *Memory {
	return &Memory{branches: map[string]map[string]File{branch: {}}}
}

// BlobSHA computes the git blob id of content.
func BlobSHA(content string) string {
	h := sha1.New() //nolint:gosec
	_, _ = fmt.Fprintf(h, "blob %d\x00", len(content))
	_, _ = h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// Seed writes files onto branch without producing commits.
func (m *Memory) Seed(branch string, files map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.branchLocked(branch)
	for p, c := range files {
		b[p] = File{Path: p, Content: c, SHA: BlobSHA(c)}
	}
}

// Files returns a copy of the branch contents keyed by path.
func (m *Memory) Files(branch string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for p, f := range m.branches[branch] {
		out[p] = f.Content
	}
	return out
}

// Paths returns the sorted paths present on branch.
func (m *Memory) Paths(branch string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.branches[branch]))
	for p := range m.branches[branch] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Calls returns how many ContentStore methods have been invoked.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// PullRequests returns the pull requests opened so far.
func (m *Memory) PullRequests() []PullRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PullRequest(nil), m.pulls...)
}

func (m *Memory) Read(_ context.Context, ref, path string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	b, ok := m.branches[ref]
	if !ok {
		return File{}, fmt.Errorf("read %s@%s: unknown ref: %w", path, ref, ErrNotFound)
	}
	f, ok := b[path]
	if !ok {
		return File{}, fmt.Errorf("read %s@%s: %w", path, ref, ErrNotFound)
	}
	return f, nil
}

func (m *Memory) Write(_ context.Context, req WriteRequest) (Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	b, ok := m.branches[req.Ref]
	if !ok {
		return Commit{}, fmt.Errorf("write %s: unknown ref %q", req.Path, req.Ref)
	}

	current, exists := b[req.Path]
	switch {
	case exists && req.SHA != current.SHA:
		return Commit{}, &ConflictError{Path: req.Path, ExpectedSHA: req.SHA, CurrentSHA: current.SHA}
	case !exists && req.SHA != "":
		return Commit{}, &ConflictError{Path: req.Path, ExpectedSHA: req.SHA}
	}

	b[req.Path] = File{Path: req.Path, Content: req.Content, SHA: BlobSHA(req.Content)}
	return m.commitLocked(), nil
}

func (m *Memory) Delete(_ context.Context, req DeleteRequest) (Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	b, ok := m.branches[req.Ref]
	if !ok {
		return Commit{}, fmt.Errorf("delete %s: unknown ref %q", req.Path, req.Ref)
	}

	current, exists := b[req.Path]
	if !exists {
		return Commit{}, fmt.Errorf("delete %s: %w", req.Path, ErrNotFound)
	}
	if req.SHA != current.SHA {
		return Commit{}, &ConflictError{Path: req.Path, ExpectedSHA: req.SHA, CurrentSHA: current.SHA}
	}

	delete(b, req.Path)
	return m.commitLocked(), nil
}

func (m *Memory) EnsureBranch(_ context.Context, base, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if _, ok := m.branches[name]; ok {
		return false, nil
	}
	src, ok := m.branches[base]
	if !ok {
		return false, fmt.Errorf("ensure branch %s: unknown base %q", name, base)
	}

	dst := make(map[string]File, len(src))
	for p, f := range src {
		dst[p] = f
	}
	m.branches[name] = dst
	return true, nil
}

func (m *Memory) OpenPullRequest(_ context.Context, pr PullRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if _, ok := m.branches[pr.Head]; !ok {
		return "", fmt.Errorf("open pull request: unknown head %q", pr.Head)
	}
	m.pulls = append(m.pulls, pr)
	return "memory://pull/" + strconv.Itoa(len(m.pulls)), nil
}

func (m *Memory) branchLocked(name string) map[string]File {
	b, ok := m.branches[name]
	if !ok {
		b = map[string]File{}
		m.branches[name] = b
	}
	return b
}

func (m *Memory) commitLocked() Commit {
	m.commits++
	id := strconv.Itoa(m.commits)
	return Commit{SHA: BlobSHA("commit " + id), URL: "memory://commit/" + id}
}
