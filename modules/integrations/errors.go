package integrations

import "errors"

// Registry and store errors.
var (
	ErrProviderNotFound       = errors.New("integrations: provider not found")
	ErrIntegrationNotFound    = errors.New("integrations: integration not found")
	ErrEventNotFound          = errors.New("integrations: webhook event not found")
	ErrConcurrentModification = errors.New("integrations: integration was modified concurrently")
)

// OAuth state validation errors. Each cause gets a distinct identity so
// callers can tell CSRF attempts from simple expiry.
var (
	ErrStateInvalid          = errors.New("integrations: malformed or tampered state")
	ErrStateExpired          = errors.New("integrations: state expired")
	ErrStateProviderMismatch = errors.New("integrations: state issued for a different provider")
	ErrStateAlreadyUsed      = errors.New("integrations: state already used")
)

// OAuth token lifecycle errors.
var (
	ErrOAuthNotConfigured = errors.New("integrations: oauth client credentials not configured")
	ErrExchangeFailed     = errors.New("integrations: code exchange failed")
	ErrRefreshFailed      = errors.New("integrations: token refresh failed")
)

// Webhook verification errors. Verification fails closed: a provider
// without a configured secret rejects every delivery rather than
// accepting them unverified.
var (
	ErrMissingSignature     = errors.New("integrations: missing signature header")
	ErrMissingTimestamp     = errors.New("integrations: missing or malformed timestamp header")
	ErrTimestampOutOfWindow = errors.New("integrations: request timestamp outside replay window")
	ErrSignatureMismatch    = errors.New("integrations: signature mismatch")
	ErrSecretNotConfigured  = errors.New("integrations: webhook secret not configured")
)

// Event processing errors.
var (
	ErrHandlerFailed  = errors.New("integrations: event handler failed")
	ErrInvalidPayload = errors.New("integrations: invalid webhook payload")
)
