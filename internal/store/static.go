package store

import (
	"context"
	"sync"
	"time"
)

// StaticStore is the db-less directory used when DATABASE_URL is empty and
// in tests. Actors live in memory; the audit trail is kept in-process,
// which is acceptable for single-instance deployments.
type StaticStore struct {
	mu     sync.RWMutex
	actors []Actor
	byID   map[string]Actor
	audit  []AuditEvent
}

func NewStaticStore(actors ...Actor) *StaticStore {
	s := &StaticStore{byID: make(map[string]Actor)}
	for _, a := range actors {
		s.add(a)
	}
	return s
}

func (s *StaticStore) add(actor Actor) {
	if actor.CreatedAt.IsZero() {
		actor.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.byID[actor.ID]; exists {
		return
	}
	s.byID[actor.ID] = actor
	s.actors = append(s.actors, actor)
}

func (s *StaticStore) ListActors(context.Context) ([]Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Actor, len(s.actors))
	copy(out, s.actors)
	return out, nil
}

func (s *StaticStore) GetActor(_ context.Context, id string) (Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actor, ok := s.byID[id]
	if !ok {
		return Actor{}, ErrNotFound
	}
	return actor, nil
}

func (s *StaticStore) EnsureActor(_ context.Context, actor Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(actor)
	return nil
}

func (s *StaticStore) InsertAuditEvent(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, event)
	return nil
}

func (s *StaticStore) ListAuditEvents(_ context.Context, documentID string, limit int) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []AuditEvent
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].DocumentID != documentID {
			continue
		}
		items = append(items, s.audit[i])
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (s *StaticStore) Ping(context.Context) error { return nil }
