package checkin

import (
	"fmt"
	"sync"
)

// Outbox holds check-ins recorded locally that have not been pushed yet.
// Entries are kept in insertion order.
type Outbox struct {
	mu      sync.Mutex
	entries []CheckIn
	slots   map[string]struct{}
}

// NewOutbox returns an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{slots: make(map[string]struct{})}
}

// Enqueue validates c and appends it. A second pending check-in for the same
// habit and day is rejected with ErrDuplicateCheckIn.
func (o *Outbox) Enqueue(c CheckIn) error {
	if err := c.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.slots[c.key()]; ok {
		return fmt.Errorf("%w: habit %s on %s", ErrDuplicateCheckIn, c.HabitID, c.Day)
	}
	o.slots[c.key()] = struct{}{}
	o.entries = append(o.entries, c)
	return nil
}

// Pending returns up to limit of the oldest entries without removing them.
// A non-positive limit returns every entry.
func (o *Outbox) Pending(limit int) []CheckIn {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]CheckIn, n)
	copy(out, o.entries[:n])
	return out
}

// Ack removes the entries with the given IDs. Unknown IDs are ignored.
func (o *Outbox) Ack(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.entries[:0]
	removed := 0
	for _, c := range o.entries {
		if _, ok := drop[c.ID]; ok {
			delete(o.slots, c.key())
			removed++
			continue
		}
		kept = append(kept, c)
	}
	clear(o.entries[len(kept):])
	o.entries = kept
	return removed
}

// Len returns the number of pending entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
