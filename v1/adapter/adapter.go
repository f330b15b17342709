// Package adapter implements the remote stores that the check-in syncer
// pushes to.
package adapter

import (
	"context"
	"sort"
	"sync"

	"github.com/clearmind/pledge/v1/checkin"
)

var (
	_ checkin.Store = (*InMemoryStore)(nil)
	_ checkin.Store = (*RedisStore)(nil)
)

// InMemoryStore is a checkin.Store backed by maps, keyed by habit then day.
type InMemoryStore struct {
	mu     sync.RWMutex
	habits map[string]map[string]checkin.CheckIn
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{habits: make(map[string]map[string]checkin.CheckIn)}
}

// Push implements checkin.Store.Push. The batch is validated before
// anything is written.
func (s *InMemoryStore) Push(ctx context.Context, batch []checkin.CheckIn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, c := range batch {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range batch {
		days, ok := s.habits[c.HabitID]
		if !ok {
			days = make(map[string]checkin.CheckIn)
			s.habits[c.HabitID] = days
		}
		days[c.Day] = c
	}
	return nil
}

// List implements checkin.Store.List.
func (s *InMemoryStore) List(ctx context.Context, habitID string) ([]checkin.CheckIn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]checkin.CheckIn, 0, len(s.habits[habitID]))
	for _, c := range s.habits[habitID] {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sortByDay(out)
	return out, nil
}

func sortByDay(cs []checkin.CheckIn) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Day < cs[j].Day })
}
