package integrations_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/onboardkit/modules/integrations"
	"github.com/dmitrymomot/onboardkit/pkg/token"
)

// rewriteTransport sends every request to the test server regardless of
// the catalog's real token endpoint host.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

type tokenServer struct {
	srv   *httptest.Server
	calls atomic.Int32
}

// newTokenServer stands in for a provider token endpoint. respond is
// invoked per request after the call counter increments.
func newTokenServer(t *testing.T, respond http.HandlerFunc) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		respond(w, r)
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func respondToken(accessToken, refreshToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"` + accessToken + `","refresh_token":"` + refreshToken + `","token_type":"bearer","expires_in":3600}`))
	}
}

func respondOAuthError(status int, code string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
	}
}

func testConfig() integrations.Config {
	return integrations.Config{
		StateSecret:     "state-signing-secret",
		StateTTL:        10 * time.Minute,
		RefreshMargin:   2 * time.Minute,
		RefreshInterval: time.Minute,
		ExchangeTimeout: 5 * time.Second,
		ExchangeRetries: 2,
		SuccessRedirect: "/settings/integrations?connected=1",
		FailureRedirect: "/settings/integrations",
		Calendly:        integrations.ProviderCredentials{ClientID: "cal-id", ClientSecret: "cal-secret", RedirectURI: "https://app.example.com/integrations/calendly/callback", WebhookSecret: "cal-wh"},
		Docusign:        integrations.ProviderCredentials{ClientID: "doc-id", ClientSecret: "doc-secret", RedirectURI: "https://app.example.com/integrations/docusign/callback", WebhookSecret: "doc-wh"},
		Slack:           integrations.ProviderCredentials{ClientID: "slack-id", ClientSecret: "slack-secret", RedirectURI: "https://app.example.com/integrations/slack/callback", WebhookSecret: "slack-wh"},
	}
}

type connectorEnv struct {
	connector *integrations.Connector
	store     *memStore
	cfg       integrations.Config
	now       *time.Time
}

func newConnectorEnv(t *testing.T, ts *tokenServer) *connectorEnv {
	t.Helper()

	cfg := testConfig()
	registry, err := integrations.NewRegistry(cfg.Credentials())
	require.NoError(t, err)

	store := newMemStore()
	now := time.Now().UTC()
	env := &connectorEnv{store: store, cfg: cfg, now: &now}

	opts := []integrations.ConnectorOption{
		integrations.WithConnectorClock(func() time.Time { return *env.now }),
	}
	if ts != nil {
		target, err := url.Parse(ts.srv.URL)
		require.NoError(t, err)
		opts = append(opts, integrations.WithConnectorHTTPClient(&http.Client{
			Transport: rewriteTransport{target: target},
		}))
	}

	env.connector = integrations.NewConnector(registry, store, integrations.NewMemoryStateStore(), cfg, opts...)
	return env
}

func TestBeginAuthorization(t *testing.T) {
	t.Parallel()

	env := newConnectorEnv(t, nil)
	userID := uuid.New()

	authURL, err := env.connector.BeginAuthorization(context.Background(), "calendly", userID)
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "auth.calendly.com", u.Host)

	q := u.Query()
	assert.Equal(t, "cal-id", q.Get("client_id"))
	assert.Equal(t, "https://app.example.com/integrations/calendly/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.NotEmpty(t, q.Get("state"))
}

func TestBeginAuthorizationUnconfiguredProvider(t *testing.T) {
	t.Parallel()

	env := newConnectorEnv(t, nil)

	// google has no client credentials in the test config.
	_, err := env.connector.BeginAuthorization(context.Background(), "google", uuid.New())
	assert.ErrorIs(t, err, integrations.ErrOAuthNotConfigured)

	_, err = env.connector.BeginAuthorization(context.Background(), "zapier", uuid.New())
	assert.ErrorIs(t, err, integrations.ErrProviderNotFound)
}

func beginAndExtractState(t *testing.T, env *connectorEnv, slug string, userID uuid.UUID) string {
	t.Helper()
	authURL, err := env.connector.BeginAuthorization(context.Background(), slug, userID)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestCompleteAuthorization(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, respondToken("at-1", "rt-1"))
	env := newConnectorEnv(t, ts)
	userID := uuid.New()

	state := beginAndExtractState(t, env, "calendly", userID)

	integration, err := env.connector.CompleteAuthorization(context.Background(), "calendly", "auth-code", state)
	require.NoError(t, err)
	assert.Equal(t, userID, integration.UserID)
	assert.Equal(t, "calendly", integration.ProviderSlug)
	assert.Equal(t, integrations.StatusConnected, integration.Status)
	assert.Equal(t, "at-1", integration.AuthData.AccessToken)
	assert.Equal(t, "rt-1", integration.AuthData.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), integration.AuthData.ExpiresAt, time.Minute)

	stored, err := env.store.Get(context.Background(), userID, "calendly")
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.AuthData.AccessToken)
}

func TestCompleteAuthorizationTamperedState(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, respondToken("at-1", "rt-1"))
	env := newConnectorEnv(t, ts)
	userID := uuid.New()

	state := beginAndExtractState(t, env, "calendly", userID)

	// Re-sign the payload with a different secret to simulate a forged
	// state parameter.
	payload := strings.Split(state, ".")[0]
	forged, err := token.Generate(payload, "attacker-secret")
	require.NoError(t, err)

	_, err = env.connector.CompleteAuthorization(context.Background(), "calendly", "auth-code", forged)
	assert.ErrorIs(t, err, integrations.ErrStateInvalid)

	// Rejection must happen before any token exchange.
	assert.Zero(t, ts.calls.Load())
}

func TestCompleteAuthorizationProviderMismatch(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, respondToken("at-1", "rt-1"))
	env := newConnectorEnv(t, ts)

	state := beginAndExtractState(t, env, "calendly", uuid.New())

	_, err := env.connector.CompleteAuthorization(context.Background(), "docusign", "auth-code", state)
	assert.ErrorIs(t, err, integrations.ErrStateProviderMismatch)
	assert.Zero(t, ts.calls.Load())
}

func TestCompleteAuthorizationExpiredState(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, respondToken("at-1", "rt-1"))
	env := newConnectorEnv(t, ts)

	state := beginAndExtractState(t, env, "calendly", uuid.New())

	*env.now = env.now.Add(env.cfg.StateTTL + time.Second)

	_, err := env.connector.CompleteAuthorization(context.Background(), "calendly", "auth-code", state)
	assert.ErrorIs(t, err, integrations.ErrStateExpired)
	assert.Zero(t, ts.calls.Load())
}

func TestCompleteAuthorizationReplayedState(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, respondToken("at-1", "rt-1"))
	env := newConnectorEnv(t, ts)
	userID := uuid.New()

	state := beginAndExtractState(t, env, "calendly", userID)

	_, err := env.connector.CompleteAuthorization(context.Background(), "calendly", "auth-code", state)
	require.NoError(t, err)

	_, err = env.connector.CompleteAuthorization(context.Background(), "calendly", "auth-code", state)
	assert.ErrorIs(t, err, integrations.ErrStateAlreadyUsed)
}

func TestCompleteAuthorizationExchangeRejected(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, respondOAuthError(http.StatusBadRequest, "invalid_grant"))
	env := newConnectorEnv(t, ts)
	userID := uuid.New()

	state := beginAndExtractState(t, env, "calendly", userID)

	_, err := env.connector.CompleteAuthorization(context.Background(), "calendly", "bad-code", state)
	require.ErrorIs(t, err, integrations.ErrExchangeFailed)
	assert.Contains(t, err.Error(), "invalid_grant")

	// Provider 4xx is permanent: exactly one call, no retries.
	assert.Equal(t, int32(1), ts.calls.Load())

	// And no partial writes.
	_, err = env.store.Get(context.Background(), userID, "calendly")
	assert.ErrorIs(t, err, integrations.ErrIntegrationNotFound)
}

func TestCompleteAuthorizationRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var failures atomic.Int32
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		respondToken("at-1", "rt-1")(w, r)
	})
	env := newConnectorEnv(t, ts)
	userID := uuid.New()

	state := beginAndExtractState(t, env, "calendly", userID)

	integration, err := env.connector.CompleteAuthorization(context.Background(), "calendly", "auth-code", state)
	require.NoError(t, err)
	assert.Equal(t, "at-1", integration.AuthData.AccessToken)
	assert.Equal(t, int32(3), ts.calls.Load())
}

func seedIntegration(t *testing.T, env *connectorEnv, userID uuid.UUID, slug string) integrations.Integration {
	t.Helper()
	stored, err := env.store.Upsert(context.Background(), integrations.Integration{
		UserID:       userID,
		ProviderSlug: slug,
		AuthData: integrations.AuthData{
			AccessToken:  "at-old",
			RefreshToken: "rt-old",
			TokenType:    "bearer",
			ExpiresAt:    time.Now().UTC().Add(time.Minute),
		},
		Status: integrations.StatusConnected,
	})
	require.NoError(t, err)
	return stored
}

func TestRefreshToken(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, respondToken("at-new", "rt-new"))
	env := newConnectorEnv(t, ts)
	userID := uuid.New()

	integration := seedIntegration(t, env, userID, "calendly")

	refreshed, err := env.connector.RefreshToken(context.Background(), integration)
	require.NoError(t, err)
	assert.Equal(t, "at-new", refreshed.AuthData.AccessToken)
	assert.Equal(t, "rt-new", refreshed.AuthData.RefreshToken)
	assert.Equal(t, integrations.StatusConnected, refreshed.Status)
	assert.True(t, refreshed.UpdatedAt.After(integration.UpdatedAt))
}

func TestRefreshTokenLoserDiscardsResult(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, respondToken("at-winner", "rt-winner"))
	env := newConnectorEnv(t, ts)
	userID := uuid.New()

	stale := seedIntegration(t, env, userID, "calendly")

	// First refresh wins and bumps the stored version.
	winner, err := env.connector.RefreshToken(context.Background(), stale)
	require.NoError(t, err)

	// Second refresh still holds the pre-refresh record. Its exchange
	// succeeds, but the compare-and-swap write fails; the result is
	// discarded in favor of the winner's pair.
	result, err := env.connector.RefreshToken(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, winner.AuthData.AccessToken, result.AuthData.AccessToken)
	assert.Equal(t, winner.UpdatedAt, result.UpdatedAt)

	stored, err := env.store.Get(context.Background(), userID, "calendly")
	require.NoError(t, err)
	assert.Equal(t, "at-winner", stored.AuthData.AccessToken)
}

func TestRefreshTokenPermanentFailureMarksExpired(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, respondOAuthError(http.StatusBadRequest, "invalid_grant"))
	env := newConnectorEnv(t, ts)
	userID := uuid.New()

	integration := seedIntegration(t, env, userID, "calendly")

	_, err := env.connector.RefreshToken(context.Background(), integration)
	require.ErrorIs(t, err, integrations.ErrRefreshFailed)

	// The record survives as expired so the user can reconnect.
	stored, err := env.store.Get(context.Background(), userID, "calendly")
	require.NoError(t, err)
	assert.Equal(t, integrations.StatusExpired, stored.Status)
}

func TestEnsureFreshToken(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, respondToken("at-new", "rt-new"))
	env := newConnectorEnv(t, ts)
	userID := uuid.New()

	seedIntegration(t, env, userID, "calendly")

	// Token expires within the refresh margin, so a refresh happens.
	fresh, err := env.connector.EnsureFreshToken(context.Background(), userID, "calendly")
	require.NoError(t, err)
	assert.Equal(t, "at-new", fresh.AuthData.AccessToken)
	assert.Equal(t, int32(1), ts.calls.Load())

	// A second call finds the fresh token and skips the endpoint.
	again, err := env.connector.EnsureFreshToken(context.Background(), userID, "calendly")
	require.NoError(t, err)
	assert.Equal(t, fresh.AuthData.AccessToken, again.AuthData.AccessToken)
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	env := newConnectorEnv(t, nil)
	userID := uuid.New()

	seedIntegration(t, env, userID, "calendly")

	require.NoError(t, env.connector.Disconnect(context.Background(), userID, "calendly"))

	_, err := env.store.Get(context.Background(), userID, "calendly")
	assert.ErrorIs(t, err, integrations.ErrIntegrationNotFound)
}
