package session

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

// Store persists the session summaries shown in the sidebar, keyed by user email.
type Store interface {
	List(ctx context.Context, email string) ([]chat.SessionSummary, error)
	Get(ctx context.Context, email, id string) (chat.SessionSummary, bool, error)
	Put(ctx context.Context, email string, summary chat.SessionSummary) error
	Delete(ctx context.Context, email, id string) (bool, error)
}

// MemoryStore implements Store with in-process maps. Contents are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]map[string]chat.SessionSummary
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]map[string]chat.SessionSummary)}
}

// List returns the user's sessions, newest first.
func (s *MemoryStore) List(_ context.Context, email string) ([]chat.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.SessionSummary, 0, len(s.items[email]))
	for _, item := range s.items[email] {
		out = append(out, item)
	}
	sortNewestFirst(out)
	return out, nil
}

// Get looks up one session.
func (s *MemoryStore) Get(_ context.Context, email, id string) (chat.SessionSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[email][id]
	return item, ok, nil
}

// Put inserts or replaces a session.
func (s *MemoryStore) Put(_ context.Context, email string, summary chat.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items[email] == nil {
		s.items[email] = make(map[string]chat.SessionSummary)
	}
	s.items[email][summary.ID] = summary
	return nil
}

// Delete removes a session and reports whether it existed.
func (s *MemoryStore) Delete(_ context.Context, email, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[email][id]; !ok {
		return false, nil
	}
	delete(s.items[email], id)
	return true, nil
}

func sortNewestFirst(items []chat.SessionSummary) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].ID > items[j].ID
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
}
