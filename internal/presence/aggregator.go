// Package presence tracks the online-user set of one channel. Each
// online_users snapshot replaces the set wholesale; join/leave frames are
// treated as hints between snapshots, with the snapshot staying
// authoritative.
package presence

import (
	"sort"
	"sync"

	"github.com/nftcoinmkt/aibot/internal/models"
)

// ChangeListener receives the sorted online set whenever membership changed.
type ChangeListener func(online []models.PresenceRecord)

type Aggregator struct {
	mu       sync.Mutex
	records  map[int64]models.PresenceRecord
	onChange ChangeListener
}

func NewAggregator() *Aggregator {
	return &Aggregator{records: make(map[int64]models.PresenceRecord)}
}

func (a *Aggregator) SetChangeListener(fn ChangeListener) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// OnSnapshot replaces the entire presence set. No incremental diffing; the
// listener fires only when membership actually changed.
func (a *Aggregator) OnSnapshot(records []models.PresenceRecord) {
	a.mu.Lock()
	next := make(map[int64]models.PresenceRecord, len(records))
	for _, rec := range records {
		next[rec.UserID] = rec
	}
	changed := len(next) != len(a.records)
	if !changed {
		for id := range next {
			if _, ok := a.records[id]; !ok {
				changed = true
				break
			}
		}
	}
	a.records = next
	a.notifyLocked(changed)
	a.mu.Unlock()
}

// ApplyJoin adds one user ahead of the next snapshot.
func (a *Aggregator) ApplyJoin(rec models.PresenceRecord) {
	a.mu.Lock()
	_, known := a.records[rec.UserID]
	a.records[rec.UserID] = rec
	a.notifyLocked(!known)
	a.mu.Unlock()
}

// ApplyLeave removes one user ahead of the next snapshot.
func (a *Aggregator) ApplyLeave(userID int64) {
	a.mu.Lock()
	_, known := a.records[userID]
	delete(a.records, userID)
	a.notifyLocked(known)
	a.mu.Unlock()
}

func (a *Aggregator) CurrentOnlineCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

func (a *Aggregator) IsOnline(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.records[userID]
	return ok
}

// OnlineUsers returns the current set sorted by user id.
func (a *Aggregator) OnlineUsers() []models.PresenceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() []models.PresenceRecord {
	out := make([]models.PresenceRecord, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (a *Aggregator) notifyLocked(changed bool) {
	if changed && a.onChange != nil {
		a.onChange(a.snapshotLocked())
	}
}
