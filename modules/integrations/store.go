package integrations

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence boundary for integration records. It is the
// only part of the subsystem that touches the external database.
type Store interface {
	// Get returns the integration for (userID, slug) or
	// ErrIntegrationNotFound.
	Get(ctx context.Context, userID uuid.UUID, slug string) (Integration, error)

	// Upsert inserts or updates an integration using optimistic
	// concurrency: the write only happens when the stored UpdatedAt still
	// equals integration.UpdatedAt (zero means "must not exist yet").
	// A stale version fails with ErrConcurrentModification; the caller is
	// expected to re-read and decide whether its write still matters.
	Upsert(ctx context.Context, integration Integration) (Integration, error)

	// Delete removes the integration. Deleting a missing record is not an
	// error.
	Delete(ctx context.Context, userID uuid.UUID, slug string) error

	// ListForUser returns all integrations belonging to a user.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Integration, error)

	// ListExpiring returns connected integrations whose access token
	// expires before the given time. Used by the background refresher.
	ListExpiring(ctx context.Context, before time.Time) ([]Integration, error)
}

// EventStore is the append-only webhook event log. The uniqueness of
// (source, event_id) must be enforced by the underlying store, not by
// application locks, because retried deliveries can land on different
// process instances concurrently.
type EventStore interface {
	// Insert persists a new event row with processed=false. When a row
	// with the same (Source, EventID) already exists, the existing row is
	// returned and created is false.
	Insert(ctx context.Context, event WebhookEvent) (stored WebhookEvent, created bool, err error)

	// MarkProcessed flips the processed flag. The row itself is never
	// mutated otherwise.
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// StateStore tracks issued OAuth state nonces so each state is accepted
// exactly once. Entries expire on their own after the state TTL.
type StateStore interface {
	// Save records a freshly issued nonce.
	Save(ctx context.Context, nonce string, ttl time.Duration) error

	// Consume atomically removes the nonce. A missing nonce means the
	// state was already used or never issued: ErrStateAlreadyUsed.
	Consume(ctx context.Context, nonce string) error
}
