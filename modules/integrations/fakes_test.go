package integrations_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/onboardkit/modules/integrations"
)

// memStore is an in-memory Store with the same compare-and-swap
// semantics as the pgx implementation.
type memStore struct {
	mu    sync.Mutex
	items map[string]integrations.Integration
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]integrations.Integration)}
}

func storeKey(userID uuid.UUID, slug string) string {
	return userID.String() + "|" + slug
}

func (s *memStore) Get(_ context.Context, userID uuid.UUID, slug string) (integrations.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.items[storeKey(userID, slug)]
	if !ok {
		return integrations.Integration{}, integrations.ErrIntegrationNotFound
	}
	return i, nil
}

func (s *memStore) Upsert(_ context.Context, integration integrations.Integration) (integrations.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(integration.UserID, integration.ProviderSlug)
	existing, exists := s.items[key]

	now := time.Now().UTC()
	if integration.UpdatedAt.IsZero() {
		if exists {
			return integrations.Integration{}, integrations.ErrConcurrentModification
		}
		if integration.CreatedAt.IsZero() {
			integration.CreatedAt = now
		}
	} else {
		if !exists || !existing.UpdatedAt.Equal(integration.UpdatedAt) {
			return integrations.Integration{}, integrations.ErrConcurrentModification
		}
		// Keep version values strictly increasing even when two writes
		// land within clock resolution.
		if !now.After(existing.UpdatedAt) {
			now = existing.UpdatedAt.Add(time.Microsecond)
		}
	}

	integration.UpdatedAt = now
	s.items[key] = integration
	return integration, nil
}

func (s *memStore) Delete(_ context.Context, userID uuid.UUID, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, storeKey(userID, slug))
	return nil
}

func (s *memStore) ListForUser(_ context.Context, userID uuid.UUID) ([]integrations.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []integrations.Integration
	for _, i := range s.items {
		if i.UserID == userID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *memStore) ListExpiring(_ context.Context, before time.Time) ([]integrations.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []integrations.Integration
	for _, i := range s.items {
		if i.Status != integrations.StatusConnected || i.AuthData.ExpiresAt.IsZero() {
			continue
		}
		if i.AuthData.ExpiresAt.Before(before) {
			out = append(out, i)
		}
	}
	return out, nil
}

// memEventStore is an in-memory EventStore enforcing the
// (source, event_id) uniqueness the real schema provides.
type memEventStore struct {
	mu     sync.Mutex
	events map[string]integrations.WebhookEvent
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: make(map[string]integrations.WebhookEvent)}
}

func eventKey(source, eventID string) string {
	return source + "|" + eventID
}

func (s *memEventStore) Insert(_ context.Context, event integrations.WebhookEvent) (integrations.WebhookEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(event.Source, event.EventID)
	if existing, ok := s.events[key]; ok {
		return existing, false, nil
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	s.events[key] = event
	return event, true, nil
}

func (s *memEventStore) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, event := range s.events {
		if event.ID == id {
			event.Processed = true
			event.ProcessedAt = &at
			s.events[key] = event
			return nil
		}
	}
	return integrations.ErrEventNotFound
}

func (s *memEventStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
