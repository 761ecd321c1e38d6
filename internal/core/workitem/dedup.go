package workitem

import (
	"time"

	"github.com/hay-kot/issuebot/pkg/kv"
)

// Deduplicator remembers which work item IDs have been admitted during this
// process lifetime. It never evicts and never persists.
type Deduplicator struct {
	seen *kv.Store[int64, time.Time]
	now  func() time.Time
}

// NewDeduplicator returns an empty registry.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: kv.New[int64, time.Time](), now: time.Now}
}

// Admit returns true the first time id is seen and false on every later call,
// including concurrent ones.
func (d *Deduplicator) Admit(id int64) bool {
	return d.seen.SetIfAbsent(id, d.now())
}

// AdmittedAt reports when id was admitted.
func (d *Deduplicator) AdmittedAt(id int64) (time.Time, bool) {
	return d.seen.Get(id)
}

// Len returns the number of admitted IDs.
func (d *Deduplicator) Len() int {
	return d.seen.Len()
}
