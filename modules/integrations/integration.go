package integrations

import (
	"time"

	"github.com/google/uuid"
)

// Status describes the lifecycle of a stored integration.
type Status string

const (
	// StatusConnected means the integration holds a usable token pair.
	StatusConnected Status = "connected"
	// StatusExpired means token refresh failed permanently; the user has
	// to reconnect. The record is kept so the UI can prompt for that.
	StatusExpired Status = "expired"
	// StatusRevoked means the provider or the user revoked the grant.
	StatusRevoked Status = "revoked"
)

// AuthData holds the OAuth token pair for an integration. It is stored
// encrypted at rest and must never appear in logs or API responses.
type AuthData struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Integration is one connected provider account for one user. At most
// one record exists per (UserID, ProviderSlug); the storage schema
// enforces that.
type Integration struct {
	UserID       uuid.UUID      `json:"user_id"`
	ProviderSlug string         `json:"provider_slug"`
	AuthData     AuthData       `json:"-"`
	Settings     map[string]any `json:"settings,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`

	// UpdatedAt doubles as the optimistic concurrency version: Store.Upsert
	// only writes when the stored value still matches.
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenExpiresWithin reports whether the access token expires before
// now+margin. Tokens without a recorded expiry never report as expiring.
func (i Integration) TokenExpiresWithin(now time.Time, margin time.Duration) bool {
	if i.AuthData.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(i.AuthData.ExpiresAt)
}

// WebhookEvent is one inbound delivery attempt from a provider. Rows are
// append-only: only Processed/ProcessedAt ever change after insert, and
// rows are retained for audit. The (Source, EventID) pair is unique,
// which is what makes event processing idempotent across process
// instances and provider retries.
type WebhookEvent struct {
	ID          uuid.UUID  `json:"id"`
	Source      string     `json:"source"`
	EventType   string     `json:"event_type"`
	EventID     string     `json:"event_id"`
	Payload     []byte     `json:"payload"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
}
