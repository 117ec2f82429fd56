package integrations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/dmitrymomot/onboardkit/pkg/logger"
	"github.com/dmitrymomot/onboardkit/pkg/token"
)

// statePayload is what the signed OAuth state parameter carries. The
// nonce makes each state single-use; provider and user bind the
// callback to the request that initiated it.
type statePayload struct {
	Nonce    string    `json:"n"`
	Provider string    `json:"p"`
	UserID   uuid.UUID `json:"u"`
	IssuedAt time.Time `json:"iat"`
}

// Connector drives the OAuth authorization-code flow for all catalog
// providers: authorize URL construction, code-for-token exchange, and
// serialized token refresh. It holds no per-request state; a single
// instance serves all users.
type Connector struct {
	registry   *Registry
	store      Store
	states     StateStore
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
	log        *slog.Logger
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

func WithConnectorLogger(log *slog.Logger) ConnectorOption {
	return func(c *Connector) {
		if log != nil {
			c.log = log
		}
	}
}

// WithConnectorHTTPClient overrides the client used for token endpoint
// calls, mainly for tests.
func WithConnectorHTTPClient(client *http.Client) ConnectorOption {
	return func(c *Connector) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithConnectorClock overrides the time source.
func WithConnectorClock(now func() time.Time) ConnectorOption {
	return func(c *Connector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewConnector creates an OAuth connector with injected dependencies.
func NewConnector(registry *Registry, store Store, states StateStore, cfg Config, opts ...ConnectorOption) *Connector {
	c := &Connector{
		registry: registry,
		store:    store,
		states:   states,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.ExchangeTimeout,
		},
		now: time.Now,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginAuthorization builds the provider authorize URL carrying a
// signed single-use state token. The user agent should be redirected to
// the returned URL.
func (c *Connector) BeginAuthorization(ctx context.Context, slug string, userID uuid.UUID) (string, error) {
	p, err := c.registry.Get(slug)
	if err != nil {
		return "", err
	}
	if p.ClientID == "" || p.ClientSecret == "" {
		return "", fmt.Errorf("%w: provider %q", ErrOAuthNotConfigured, slug)
	}

	nonce := uuid.NewString()
	state, err := token.Generate(statePayload{
		Nonce:    nonce,
		Provider: slug,
		UserID:   userID,
		IssuedAt: c.now().UTC(),
	}, c.cfg.StateSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}

	if err := c.states.Save(ctx, nonce, c.cfg.StateTTL); err != nil {
		return "", fmt.Errorf("failed to store state nonce: %w", err)
	}

	return c.oauthConfig(p).AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// CompleteAuthorization validates the callback state, exchanges the
// authorization code for tokens, and persists the resulting
// integration. No writes happen before the exchange succeeds.
func (c *Connector) CompleteAuthorization(ctx context.Context, slug, code, state string) (Integration, error) {
	p, err := c.registry.Get(slug)
	if err != nil {
		return Integration{}, err
	}

	st, err := token.Parse[statePayload](state, c.cfg.StateSecret)
	if err != nil {
		return Integration{}, errors.Join(ErrStateInvalid, err)
	}
	if st.Provider != slug {
		return Integration{}, fmt.Errorf("%w: state for %q, callback for %q", ErrStateProviderMismatch, st.Provider, slug)
	}
	if c.now().Sub(st.IssuedAt) > c.cfg.StateTTL {
		return Integration{}, ErrStateExpired
	}
	if err := c.states.Consume(ctx, st.Nonce); err != nil {
		return Integration{}, err
	}

	tok, err := c.exchangeWithRetry(ctx, p, func(callCtx context.Context) (*oauth2.Token, error) {
		return c.oauthConfig(p).Exchange(callCtx, code)
	})
	if err != nil {
		return Integration{}, err
	}

	now := c.now().UTC()
	integration := Integration{
		UserID:       st.UserID,
		ProviderSlug: slug,
		AuthData:     authDataFromToken(tok),
		Status:       StatusConnected,
		CreatedAt:    now,
	}

	// Reconnecting replaces the token pair but keeps the original record
	// identity and any provider settings accumulated on it.
	if existing, err := c.store.Get(ctx, st.UserID, slug); err == nil {
		integration.CreatedAt = existing.CreatedAt
		integration.UpdatedAt = existing.UpdatedAt
		integration.Settings = existing.Settings
		integration.Metadata = existing.Metadata
	} else if !errors.Is(err, ErrIntegrationNotFound) {
		return Integration{}, err
	}

	stored, err := c.store.Upsert(ctx, integration)
	if err != nil {
		return Integration{}, err
	}

	c.log.InfoContext(ctx, "integration connected",
		logger.Component("oauth_connector"),
		logger.Provider(slug),
		logger.UserID(st.UserID.String()),
	)

	return stored, nil
}

// RefreshToken exchanges the refresh token for a new pair and persists
// it with a compare-and-swap on UpdatedAt. When a concurrent refresh
// wins the race, this caller's result is discarded and the stored
// record is returned instead, so exactly one token pair survives.
// A permanent provider rejection marks the integration expired rather
// than deleting it.
func (c *Connector) RefreshToken(ctx context.Context, integration Integration) (Integration, error) {
	p, err := c.registry.Get(integration.ProviderSlug)
	if err != nil {
		return Integration{}, err
	}

	if integration.AuthData.RefreshToken == "" {
		return c.markExpired(ctx, integration, fmt.Errorf("%w: no refresh token", ErrRefreshFailed))
	}

	tok, err := c.exchangeWithRetry(ctx, p, func(callCtx context.Context) (*oauth2.Token, error) {
		src := c.oauthConfig(p).TokenSource(callCtx, &oauth2.Token{
			RefreshToken: integration.AuthData.RefreshToken,
		})
		return src.Token()
	})
	if err != nil {
		return c.markExpired(ctx, integration, errors.Join(ErrRefreshFailed, err))
	}

	updated := integration
	updated.AuthData = authDataFromToken(tok)
	if updated.AuthData.RefreshToken == "" {
		// Providers commonly omit the refresh token on rotation; keep the
		// one we already hold.
		updated.AuthData.RefreshToken = integration.AuthData.RefreshToken
	}
	updated.Status = StatusConnected

	stored, err := c.store.Upsert(ctx, updated)
	if errors.Is(err, ErrConcurrentModification) {
		c.log.InfoContext(ctx, "concurrent refresh won the race, discarding result",
			logger.Component("oauth_connector"),
			logger.Provider(integration.ProviderSlug),
			logger.UserID(integration.UserID.String()),
		)
		return c.store.Get(ctx, integration.UserID, integration.ProviderSlug)
	}
	if err != nil {
		return Integration{}, err
	}

	return stored, nil
}

// EnsureFreshToken returns the integration with a token guaranteed to
// outlive the refresh margin, refreshing proactively when needed.
func (c *Connector) EnsureFreshToken(ctx context.Context, userID uuid.UUID, slug string) (Integration, error) {
	integration, err := c.store.Get(ctx, userID, slug)
	if err != nil {
		return Integration{}, err
	}
	if integration.Status != StatusConnected {
		return integration, fmt.Errorf("%w: integration is %s", ErrRefreshFailed, integration.Status)
	}
	if !integration.TokenExpiresWithin(c.now(), c.cfg.RefreshMargin) {
		return integration, nil
	}
	return c.RefreshToken(ctx, integration)
}

// List returns all integrations belonging to a user.
func (c *Connector) List(ctx context.Context, userID uuid.UUID) ([]Integration, error) {
	return c.store.ListForUser(ctx, userID)
}

// Disconnect removes the stored integration for (userID, slug).
func (c *Connector) Disconnect(ctx context.Context, userID uuid.UUID, slug string) error {
	if _, err := c.registry.Get(slug); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, userID, slug); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "integration disconnected",
		logger.Component("oauth_connector"),
		logger.Provider(slug),
		logger.UserID(userID.String()),
	)
	return nil
}

// markExpired transitions the integration to StatusExpired so the user
// can be prompted to reconnect. Losing the status write to a concurrent
// update is fine: whoever won has fresher information.
func (c *Connector) markExpired(ctx context.Context, integration Integration, cause error) (Integration, error) {
	integration.Status = StatusExpired
	if _, err := c.store.Upsert(ctx, integration); err != nil && !errors.Is(err, ErrConcurrentModification) {
		c.log.ErrorContext(ctx, "failed to mark integration expired",
			logger.Component("oauth_connector"),
			logger.Provider(integration.ProviderSlug),
			logger.UserID(integration.UserID.String()),
			logger.Error(err),
		)
	}
	return Integration{}, cause
}

// exchangeWithRetry runs a token endpoint call with a per-attempt
// timeout and bounded retries on transient failures. Provider 4xx
// responses are surfaced immediately: retrying a rejected grant cannot
// succeed.
func (c *Connector) exchangeWithRetry(ctx context.Context, p Provider, call func(ctx context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.ExchangeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.ExchangeTimeout)
		callCtx = context.WithValue(callCtx, oauth2.HTTPClient, c.httpClient)
		tok, err := call(callCtx)
		cancel()

		if err == nil {
			return tok, nil
		}
		lastErr = err

		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
			reason := rerr.ErrorCode
			if reason == "" {
				reason = strings.TrimSpace(string(rerr.Body))
			}
			return nil, fmt.Errorf("%w: provider %s: %s", ErrExchangeFailed, p.Slug, reason)
		}
	}
	return nil, fmt.Errorf("%w: provider %s: %w", ErrExchangeFailed, p.Slug, lastErr)
}

// oauthConfig builds the oauth2 client config for a provider. Providers
// that expect comma-joined scopes get them pre-joined, since the oauth2
// package always joins with spaces.
func (c *Connector) oauthConfig(p Provider) *oauth2.Config {
	scopes := p.Scopes
	if p.ScopeDelimiter != "" && p.ScopeDelimiter != " " {
		scopes = []string{strings.Join(p.Scopes, p.ScopeDelimiter)}
	}
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthorizeURL,
			TokenURL: p.TokenURL,
		},
	}
}

func authDataFromToken(tok *oauth2.Token) AuthData {
	return AuthData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry.UTC(),
	}
}
