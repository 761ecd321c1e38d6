// Package state owns the process-wide run status shown by the health and
// event stream endpoints: aggregate counters, a bounded activity log and the
// SSE subscriber set. It is fed exclusively from bus events.
package state

import (
	"strconv"
	"sync"
	"time"

	"github.com/hay-kot/issuebot/internal/core/eventbus"
)

// DefaultLogLimit caps the activity log.
const DefaultLogLimit = 500

// Stats are the aggregate counters since process start.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// Entry is one activity log line.
type Entry struct {
	ID      int64          `json:"id"`
	Time    time.Time      `json:"time"`
	Level   eventbus.Level `json:"level"`
	Issue   int            `json:"issue,omitempty"`
	Message string         `json:"message"`
}

// Snapshot is a consistent copy of the state.
type Snapshot struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	LastRun   time.Time `json:"last_run"`
	Online    bool      `json:"online"`
	DryRun    bool      `json:"dry_run"`
	Stats     Stats     `json:"stats"`
}

// UpdateType tags an Update.
type UpdateType string

// Update types sent to subscribers.
const (
	UpdateStats UpdateType = "stats"
	UpdateLog   UpdateType = "log"
)

// Update is pushed to subscribers whenever the log or the counters change.
type Update struct {
	Type     UpdateType `json:"type"`
	Entry    *Entry     `json:"entry,omitempty"`
	Snapshot *Snapshot  `json:"snapshot,omitempty"`
}

// State is safe for concurrent use.
type State struct {
	mu      sync.Mutex
	limit   int
	now     func() time.Time
	entries []Entry
	nextID  int64
	snap    Snapshot

	subs    map[int]chan Update
	nextSub int
}

// New creates a State whose log keeps at most limit entries.
func New(limit int, dryRun bool, now func() time.Time) *State {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if now == nil {
		now = time.Now
	}
	t := now()
	return &State{
		limit: limit,
		now:   now,
		snap: Snapshot{
			Status:    "starting",
			StartedAt: t,
			LastRun:   t,
			DryRun:    dryRun,
		},
		subs: make(map[int]chan Update),
	}
}

// Attach feeds the state from bus events.
func (s *State) Attach(bus *eventbus.EventBus) {
	bus.SubscribeNotificationPublished(func(p eventbus.NotificationPublishedPayload) {
		s.Log(p.Level, p.Issue, p.Message)
	})

	bus.SubscribeRunStarted(func(p eventbus.RunStartedPayload) {
		s.SetStatus(issueStatus(p.Issue))
	})

	bus.SubscribeRunFinished(func(p eventbus.RunFinishedPayload) {
		s.update(func(st *Stats) {
			st.Created += p.Created
			st.Updated += p.Updated
			st.Deleted += p.Deleted
			st.Errors += p.Errors
		})
	})

	bus.SubscribeItemFailed(func(eventbus.ItemFailedPayload) {
		s.RecordError()
	})
}

func issueStatus(n int) string {
	return "issue #" + strconv.Itoa(n)
}

// Log appends an entry, evicting the oldest beyond the limit.
func (s *State) Log(level eventbus.Level, issue int, msg string) {
	s.mu.Lock()
	s.nextID++
	e := Entry{ID: s.nextID, Time: s.now(), Level: level, Issue: issue, Message: msg}
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.limit; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	s.broadcastLocked(Update{Type: UpdateLog, Entry: &e})
	s.mu.Unlock()
}

// RecordError increments the error counter.
func (s *State) RecordError() {
	s.update(func(st *Stats) { st.Errors++ })
}

// Touch marks activity without changing counters.
func (s *State) Touch() {
	s.update(func(*Stats) {})
}

// SetStatus records what the bot is currently doing.
func (s *State) SetStatus(status string) {
	s.mu.Lock()
	s.snap.Status = status
	s.mu.Unlock()
	s.Touch()
}

func (s *State) update(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.snap.Stats)
	s.snap.LastRun = s.now()
	s.snap.Online = true
	snap := s.snap
	s.broadcastLocked(Update{Type: UpdateStats, Snapshot: &snap})
	s.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Entries returns the log, oldest first.
func (s *State) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Subscribe registers a listener. Updates are dropped for a listener whose
// buffer is full. The returned func unregisters and closes the channel.
func (s *State) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of registered listeners.
func (s *State) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *State) broadcastLocked(u Update) {
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
