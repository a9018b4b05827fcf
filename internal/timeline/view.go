// Package timeline owns the authoritative in-memory ordered view of a
// channel's messages. It merges three producers: a history page fetched over
// REST, live stream arrivals, and locally originated pending sends. The view
// is newest-first by origin timestamp and stays fully sorted after every
// mutation; a single mutex serializes the producers.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/nftcoinmkt/aibot/internal/models"
)

// dedupWindow is the tolerance for content-based duplicate detection. A
// message the local user just sent can echo back over the stream before the
// REST response confirms it; id-only matching would show both copies. Two
// genuinely distinct rapid-fire identical messages from one sender can be
// collapsed by this heuristic, which is accepted.
const dedupWindow = 2 * time.Second

// ChangeListener receives a snapshot after every mutation that altered the
// view.
type ChangeListener func(channelID int64, messages []models.Message)

// View is the per-channel ordered message view. Created when a channel view
// opens, discarded when it closes; there is no cross-session resume.
type View struct {
	mu        sync.Mutex
	channelID int64
	msgs      []models.Message
	watermark int64
	onChange  ChangeListener
}

func NewView(channelID int64) *View {
	return &View{channelID: channelID}
}

// SetChangeListener registers the single listener notified after mutations.
func (v *View) SetChangeListener(fn ChangeListener) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// LoadHistory replaces the view wholesale. Messages may arrive in any order;
// the view sorts them newest-first and records the highest confirmed id as
// the watermark.
func (v *View) LoadHistory(messages []models.Message) {
	v.mu.Lock()
	v.msgs = make([]models.Message, len(messages))
	copy(v.msgs, messages)
	sort.SliceStable(v.msgs, func(i, j int) bool {
		a, b := v.msgs[i], v.msgs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	v.watermark = 0
	for _, m := range v.msgs {
		v.bumpWatermark(m)
	}
	v.notifyLocked()
	v.mu.Unlock()
}

// Insert adds a message preserving sort order and reports whether it was
// newly added (false when deduplicated).
func (v *View) Insert(msg models.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.insertLocked(msg, true) {
		return false
	}
	v.notifyLocked()
	return true
}

// RemovePending removes a message by placeholder id. Used when a pending
// message is replaced by its confirmed counterparts.
func (v *View) RemovePending(placeholderID int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.removeLocked(placeholderID) {
		return false
	}
	v.notifyLocked()
	return true
}

// Replace atomically removes the placeholder and inserts its confirmed
// counterparts. A single user send can yield the user message plus automated
// replies, so 1..N messages come in. Confirmed counterparts carry
// authoritative server ids and dedup by id only; the content heuristic must
// not match them against an older copy of the same text.
func (v *View) Replace(placeholderID int64, confirmed []models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	changed := v.removeLocked(placeholderID)
	for _, m := range confirmed {
		if v.insertLocked(m, false) {
			changed = true
		}
	}
	if changed {
		v.notifyLocked()
	}
}

// ClearFailed removes failed entries from this sender with the same body.
// A retry of a failed send supersedes its failure marker; without this the
// fresh attempt would dedup against its own failed copy.
func (v *View) ClearFailed(senderID int64, body string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	changed := false
	kept := v.msgs[:0]
	for _, m := range v.msgs {
		if m.Status == models.StatusFailed && m.SenderID == senderID && m.Body == body {
			changed = true
			continue
		}
		kept = append(kept, m)
	}
	v.msgs = kept
	if changed {
		v.notifyLocked()
	}
	return changed
}

// SetStatus mutates the delivery status of an entry in place. A failed send
// is not removed: the user must see the failure marker.
func (v *View) SetStatus(id int64, status models.DeliveryStatus) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.msgs {
		if v.msgs[i].ID == id {
			v.msgs[i].Status = status
			v.notifyLocked()
			return true
		}
	}
	return false
}

// Messages returns a snapshot of the ordered view, newest first.
func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.msgs)
}

// Watermark is the highest confirmed message id observed, used by the session
// to avoid reprocessing after reconnects.
func (v *View) Watermark() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.watermark
}

func (v *View) ChannelID() int64 { return v.channelID }

func (v *View) insertLocked(msg models.Message, contentDedup bool) bool {
	if v.isDuplicateLocked(msg, contentDedup) {
		return false
	}
	idx := len(v.msgs)
	for i, existing := range v.msgs {
		if existing.CreatedAt.Before(msg.CreatedAt) ||
			(existing.CreatedAt.Equal(msg.CreatedAt) && existing.ID < msg.ID) {
			idx = i
			break
		}
	}
	if idx > len(v.msgs) {
		idx = len(v.msgs)
	}
	v.msgs = append(v.msgs, models.Message{})
	copy(v.msgs[idx+1:], v.msgs[idx:])
	v.msgs[idx] = msg
	v.bumpWatermark(msg)
	return true
}

// isDuplicateLocked applies the two-tier policy: exact id match, or, when
// contentDedup is set, same body and sender with timestamps inside the
// tolerance window.
func (v *View) isDuplicateLocked(msg models.Message, contentDedup bool) bool {
	for _, existing := range v.msgs {
		if existing.ID == msg.ID {
			return true
		}
		if contentDedup && existing.Body == msg.Body && existing.SenderID == msg.SenderID {
			delta := existing.CreatedAt.Sub(msg.CreatedAt)
			if delta < 0 {
				delta = -delta
			}
			if delta <= dedupWindow {
				return true
			}
		}
	}
	return false
}

func (v *View) removeLocked(id int64) bool {
	for i := range v.msgs {
		if v.msgs[i].ID == id {
			v.msgs = append(v.msgs[:i], v.msgs[i+1:]...)
			return true
		}
	}
	return false
}

func (v *View) bumpWatermark(msg models.Message) {
	if msg.IsPlaceholder() {
		return
	}
	if msg.ID > v.watermark {
		v.watermark = msg.ID
	}
}

func (v *View) snapshotLocked() []models.Message {
	out := make([]models.Message, len(v.msgs))
	copy(out, v.msgs)
	return out
}

func (v *View) notifyLocked() {
	if v.onChange != nil {
		v.onChange(v.channelID, v.snapshotLocked())
	}
}
