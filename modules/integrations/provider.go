package integrations

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Category groups providers by what they do for the product.
type Category string

const (
	CategoryScheduling    Category = "scheduling"
	CategorySignature     Category = "signature"
	CategoryMessaging     Category = "messaging"
	CategoryEmailCalendar Category = "email-calendar"
)

// SignatureScheme selects the webhook verification strategy for a provider.
type SignatureScheme string

const (
	// SchemeHMACHex: signature header carries hex(HMAC-SHA256(body)).
	SchemeHMACHex SignatureScheme = "hmac-sha256-hex"
	// SchemeHMACBase64: base64(HMAC-SHA256(body)), optionally prefixed
	// with "sha256=".
	SchemeHMACBase64 SignatureScheme = "hmac-sha256-base64"
	// SchemeSlackV0: hex(HMAC-SHA256("v0:{ts}:{body}")) prefixed with
	// "v0=", with a 300-second replay window on the timestamp header.
	SchemeSlackV0 SignatureScheme = "slack-v0"
)

// Provider is a static catalog entry describing how to talk OAuth and
// webhooks with one external service. Immutable after registry
// construction.
type Provider struct {
	Slug            string          `yaml:"slug"`
	Category        Category        `yaml:"category"`
	AuthorizeURL    string          `yaml:"authorize_url"`
	TokenURL        string          `yaml:"token_url"`
	Scopes          []string        `yaml:"scopes"`
	ScopeDelimiter  string          `yaml:"scope_delimiter"`
	SignatureScheme SignatureScheme `yaml:"signature_scheme"`
	SignatureHeader string          `yaml:"signature_header"`
	TimestampHeader string          `yaml:"timestamp_header"`

	// Deployment credentials, injected from configuration rather than
	// the catalog file.
	ClientID      string `yaml:"-"`
	ClientSecret  string `yaml:"-"`
	RedirectURI   string `yaml:"-"`
	WebhookSecret string `yaml:"-"`
}

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Providers []Provider `yaml:"providers"`
}

// Registry is the read-only provider catalog. Construct once at startup
// and share freely; lookups never mutate state.
type Registry struct {
	providers map[string]Provider
	order     []string
}

// NewRegistry parses the embedded catalog and merges per-provider
// deployment credentials into it. Credentials for slugs missing from
// the catalog are rejected so a typo in configuration fails startup
// instead of silently configuring nothing.
func NewRegistry(creds map[string]ProviderCredentials) (*Registry, error) {
	var catalog catalogFile
	if err := yaml.Unmarshal(catalogYAML, &catalog); err != nil {
		return nil, fmt.Errorf("integrations: failed to parse provider catalog: %w", err)
	}

	r := &Registry{providers: make(map[string]Provider, len(catalog.Providers))}
	for _, p := range catalog.Providers {
		if p.Slug == "" {
			return nil, errors.New("integrations: catalog entry without slug")
		}
		if _, exists := r.providers[p.Slug]; exists {
			return nil, fmt.Errorf("integrations: duplicate catalog entry %q", p.Slug)
		}
		if c, ok := creds[p.Slug]; ok {
			p.ClientID = c.ClientID
			p.ClientSecret = c.ClientSecret
			p.RedirectURI = c.RedirectURI
			p.WebhookSecret = c.WebhookSecret
		}
		r.providers[p.Slug] = p
		r.order = append(r.order, p.Slug)
	}

	for slug := range creds {
		if _, ok := r.providers[slug]; !ok {
			return nil, fmt.Errorf("%w: credentials configured for unknown provider %q", ErrProviderNotFound, slug)
		}
	}

	return r, nil
}

// Get returns the provider for slug or ErrProviderNotFound. There is no
// default provider.
func (r *Registry) Get(slug string) (Provider, error) {
	p, ok := r.providers[slug]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrProviderNotFound, slug)
	}
	return p, nil
}

// List returns providers in catalog order, optionally filtered by
// category.
func (r *Registry) List(categories ...Category) []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, slug := range r.order {
		p := r.providers[slug]
		if len(categories) > 0 && !slices.Contains(categories, p.Category) {
			continue
		}
		out = append(out, p)
	}
	return out
}
