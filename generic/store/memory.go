// Package store provides in-memory building blocks for generic stores.
package store

import (
	"context"
	"sync"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// MEMORY JOURNAL - In-memory movement log (for testing/dev)
// =============================================================================

// MemoryJournal keeps movements in insertion order.
type MemoryJournal struct {
	mu        sync.RWMutex
	movements []generic.Movement
	ids       map[generic.MovementID]bool
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{ids: make(map[generic.MovementID]bool)}
}

// AppendMovement adds a movement. Append-only.
func (j *MemoryJournal) AppendMovement(_ context.Context, m generic.Movement) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(m)
}

func (j *MemoryJournal) appendLocked(m generic.Movement) error {
	if err := generic.ValidateMovement(m); err != nil {
		return err
	}
	if j.ids[m.ID] {
		return generic.ErrInvalidMovement
	}
	j.movements = append(j.movements, m)
	j.ids[m.ID] = true
	return nil
}

// List returns matching movements newest first, and the total match count.
func (j *MemoryJournal) List(_ context.Context, f generic.MovementFilter) ([]generic.Movement, int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var matched []generic.Movement
	for i := len(j.movements) - 1; i >= 0; i-- {
		if f.Matches(j.movements[i]) {
			matched = append(matched, j.movements[i])
		}
	}
	if f.All {
		return matched, len(matched), nil
	}
	start, end := f.Page.Window(len(matched))
	page := make([]generic.Movement, end-start)
	copy(page, matched[start:end])
	return page, len(matched), nil
}

// Len is the number of movements ever appended.
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.movements)
}

// =============================================================================
// SNAPSHOT / RESTORE - Transaction support
// =============================================================================

// Clone copies the journal so a transaction can write to the copy and the
// caller can swap it in on commit.
func (j *MemoryJournal) Clone() *MemoryJournal {
	j.mu.RLock()
	defer j.mu.RUnlock()

	c := &MemoryJournal{
		movements: append([]generic.Movement(nil), j.movements...),
		ids:       make(map[generic.MovementID]bool, len(j.ids)),
	}
	for k, v := range j.ids {
		c.ids[k] = v
	}
	return c
}
