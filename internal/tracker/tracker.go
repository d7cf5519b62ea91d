// Package tracker accumulates an investor's unsubmitted cell edits.
package tracker

import (
	"sync"
	"time"
)

// Mode tells the caller what to do with an edit
type Mode string

const (
	// Direct means the caller writes the cell itself; nothing is recorded.
	Direct Mode = "DIRECT"
	// Tracked means the edit is held until the batch is submitted.
	Tracked Mode = "TRACKED"
)

// RoleAdmin is the role whose edits bypass tracking
const RoleAdmin = "admin"

// Pending is one unsubmitted edit
type Pending struct {
	ItemID    string    `json:"itemId"`
	FieldName string    `json:"fieldName"`
	OldValue  string    `json:"oldValue"`
	NewValue  string    `json:"newValue"`
	Timestamp time.Time `json:"timestamp"`
	UserRole  string    `json:"userRole"`
}

type key struct {
	itemID    string
	fieldName string
}

// Tracker holds at most one pending edit per (itemId, fieldName).
// List order is insertion order; re-editing a key keeps its position.
type Tracker struct {
	mu      sync.Mutex
	order   []key
	entries map[key]*Pending
	now     func() time.Time
}

func New() *Tracker {
	return &Tracker{
		entries: make(map[key]*Pending),
		now:     time.Now,
	}
}

// Track records an edit. The first edit to a key sets oldValue; later
// edits only replace newValue. An edit that lands back on the original
// value, or whose old and new values are equal, removes the entry.
func (t *Tracker) Track(itemID, fieldName, oldValue, newValue, role string) Mode {
	if role == RoleAdmin {
		return Direct
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{itemID: itemID, fieldName: fieldName}
	existing, ok := t.entries[k]

	switch {
	case oldValue == newValue:
		t.remove(k)
	case ok && newValue == existing.OldValue:
		t.remove(k)
	case ok:
		existing.NewValue = newValue
		existing.Timestamp = t.now()
	default:
		t.entries[k] = &Pending{
			ItemID:    itemID,
			FieldName: fieldName,
			OldValue:  oldValue,
			NewValue:  newValue,
			Timestamp: t.now(),
			UserRole:  role,
		}
		t.order = append(t.order, k)
	}

	return Tracked
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// List returns a copy of the pending edits in insertion order
func (t *Tracker) List() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Pending, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, *t.entries[k])
	}
	return out
}

func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.entries = make(map[key]*Pending)
}

func (t *Tracker) remove(k key) {
	if _, ok := t.entries[k]; !ok {
		return
	}
	delete(t.entries, k)
	for i, existing := range t.order {
		if existing == k {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}
