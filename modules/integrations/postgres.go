package integrations

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/onboardkit/pkg/pg"
	"github.com/dmitrymomot/onboardkit/pkg/secrets"
)

// PGStore is the pgx-backed Store implementation. Token data is
// encrypted before it reaches the database with a compound key (app
// key + per-user key), and the schema enforces the single record per
// (user_id, provider_slug) invariant.
type PGStore struct {
	pool   *pgxpool.Pool
	appKey []byte
}

// NewPGStore creates a Store over the given pool. appKey must be a
// 32-byte encryption key.
func NewPGStore(pool *pgxpool.Pool, appKey []byte) (*PGStore, error) {
	if len(appKey) != secrets.KeySize {
		return nil, secrets.ErrInvalidAppKey
	}
	return &PGStore{pool: pool, appKey: appKey}, nil
}

// userKey derives the per-user half of the compound encryption key from
// the user id. Combined with the app key through HKDF it gives
// per-user ciphertext separation without another secret to manage.
func userKey(userID uuid.UUID) []byte {
	sum := sha256.Sum256(userID[:])
	return sum[:]
}

func (s *PGStore) encryptAuthData(userID uuid.UUID, data AuthData) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth data: %w", err)
	}
	return secrets.EncryptString(s.appKey, userKey(userID), string(raw))
}

func (s *PGStore) decryptAuthData(userID uuid.UUID, ciphertext string) (AuthData, error) {
	raw, err := secrets.DecryptString(s.appKey, userKey(userID), ciphertext)
	if err != nil {
		return AuthData{}, err
	}
	var data AuthData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return AuthData{}, fmt.Errorf("failed to unmarshal auth data: %w", err)
	}
	return data, nil
}

const integrationColumns = `user_id, provider_slug, auth_data, settings, metadata, status, created_at, updated_at`

func (s *PGStore) scanIntegration(row pgx.Row) (Integration, error) {
	var (
		i       Integration
		authEnc string
		status  string
	)
	if err := row.Scan(&i.UserID, &i.ProviderSlug, &authEnc, &i.Settings, &i.Metadata, &status, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return Integration{}, err
	}
	i.Status = Status(status)

	data, err := s.decryptAuthData(i.UserID, authEnc)
	if err != nil {
		return Integration{}, err
	}
	i.AuthData = data
	return i, nil
}

func (s *PGStore) Get(ctx context.Context, userID uuid.UUID, slug string) (Integration, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = $1 AND provider_slug = $2`,
		userID, slug)

	i, err := s.scanIntegration(row)
	if pg.IsNotFoundError(err) {
		return Integration{}, fmt.Errorf("%w: user %s provider %s", ErrIntegrationNotFound, userID, slug)
	}
	if err != nil {
		return Integration{}, err
	}
	return i, nil
}

func (s *PGStore) Upsert(ctx context.Context, integration Integration) (Integration, error) {
	now := time.Now().UTC()

	authEnc, err := s.encryptAuthData(integration.UserID, integration.AuthData)
	if err != nil {
		return Integration{}, err
	}

	// token_expires_at is duplicated outside the encrypted blob so the
	// refresher can query on it; the expiry itself is not a secret.
	var expiresAt *time.Time
	if !integration.AuthData.ExpiresAt.IsZero() {
		t := integration.AuthData.ExpiresAt.UTC()
		expiresAt = &t
	}

	if integration.UpdatedAt.IsZero() {
		createdAt := integration.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO integrations (user_id, provider_slug, auth_data, token_expires_at, settings, metadata, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			integration.UserID, integration.ProviderSlug, authEnc, expiresAt,
			integration.Settings, integration.Metadata, string(integration.Status), createdAt, now)
		if pg.IsDuplicateKeyError(err) {
			// Someone inserted the same (user, provider) first; caller
			// should re-read and retry with the stored version.
			return Integration{}, ErrConcurrentModification
		}
		if err != nil {
			return Integration{}, err
		}
		integration.CreatedAt = createdAt
		integration.UpdatedAt = now
		return integration, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE integrations
		 SET auth_data = $3, token_expires_at = $4, settings = $5, metadata = $6, status = $7, updated_at = $8
		 WHERE user_id = $1 AND provider_slug = $2 AND updated_at = $9`,
		integration.UserID, integration.ProviderSlug, authEnc, expiresAt,
		integration.Settings, integration.Metadata, string(integration.Status), now, integration.UpdatedAt)
	if err != nil {
		return Integration{}, err
	}
	if tag.RowsAffected() == 0 {
		return Integration{}, ErrConcurrentModification
	}
	integration.UpdatedAt = now
	return integration, nil
}

func (s *PGStore) Delete(ctx context.Context, userID uuid.UUID, slug string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM integrations WHERE user_id = $1 AND provider_slug = $2`,
		userID, slug)
	return err
}

func (s *PGStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]Integration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = $1 ORDER BY provider_slug`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.collectIntegrations(rows)
}

func (s *PGStore) ListExpiring(ctx context.Context, before time.Time) ([]Integration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+integrationColumns+` FROM integrations
		 WHERE status = $1 AND token_expires_at IS NOT NULL AND token_expires_at < $2
		 ORDER BY token_expires_at`,
		string(StatusConnected), before.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.collectIntegrations(rows)
}

func (s *PGStore) collectIntegrations(rows pgx.Rows) ([]Integration, error) {
	var out []Integration
	for rows.Next() {
		i, err := s.scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// PGEventStore is the pgx-backed webhook event log. The UNIQUE
// (source, event_id) constraint in the schema is what makes Insert safe
// against concurrent retried deliveries across process instances.
type PGEventStore struct {
	pool *pgxpool.Pool
}

func NewPGEventStore(pool *pgxpool.Pool) *PGEventStore {
	return &PGEventStore{pool: pool}
}

func (s *PGEventStore) Insert(ctx context.Context, event WebhookEvent) (WebhookEvent, bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	var insertedID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO webhook_events (id, source, event_type, event_id, payload, processed, received_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6)
		 ON CONFLICT (source, event_id) DO NOTHING
		 RETURNING id`,
		event.ID, event.Source, event.EventType, event.EventID, event.Payload, event.ReceivedAt).Scan(&insertedID)
	if err == nil {
		return event, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return WebhookEvent{}, false, err
	}

	// Conflict: a delivery for this (source, event_id) was already
	// recorded; hand back the existing row.
	row := s.pool.QueryRow(ctx,
		`SELECT id, source, event_type, event_id, payload, processed, processed_at, received_at
		 FROM webhook_events WHERE source = $1 AND event_id = $2`,
		event.Source, event.EventID)

	var existing WebhookEvent
	if err := row.Scan(&existing.ID, &existing.Source, &existing.EventType, &existing.EventID,
		&existing.Payload, &existing.Processed, &existing.ProcessedAt, &existing.ReceivedAt); err != nil {
		return WebhookEvent{}, false, err
	}
	return existing, false, nil
}

func (s *PGEventStore) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET processed = true, processed_at = $2 WHERE id = $1`,
		id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}
