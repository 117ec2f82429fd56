package integrations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/onboardkit/modules/integrations"
)

func TestRegistryGet(t *testing.T) {
	t.Parallel()

	registry, err := integrations.NewRegistry(map[string]integrations.ProviderCredentials{
		"calendly": {ClientID: "cal-id", ClientSecret: "cal-secret", WebhookSecret: "cal-wh"},
	})
	require.NoError(t, err)

	p, err := registry.Get("calendly")
	require.NoError(t, err)
	assert.Equal(t, integrations.CategoryScheduling, p.Category)
	assert.Equal(t, integrations.SchemeHMACHex, p.SignatureScheme)
	assert.Equal(t, "cal-id", p.ClientID)
	assert.Equal(t, "cal-wh", p.WebhookSecret)
	assert.NotEmpty(t, p.AuthorizeURL)
	assert.NotEmpty(t, p.TokenURL)

	// Providers without configured credentials still resolve; the
	// connector rejects them at authorization time instead.
	p, err = registry.Get("slack")
	require.NoError(t, err)
	assert.Empty(t, p.ClientID)
}

func TestRegistryGetUnknown(t *testing.T) {
	t.Parallel()

	registry, err := integrations.NewRegistry(nil)
	require.NoError(t, err)

	_, err = registry.Get("zapier")
	assert.ErrorIs(t, err, integrations.ErrProviderNotFound)
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	registry, err := integrations.NewRegistry(nil)
	require.NoError(t, err)

	all := registry.List()
	require.Len(t, all, 4)
	// Catalog order is stable.
	assert.Equal(t, "calendly", all[0].Slug)

	scheduling := registry.List(integrations.CategoryScheduling)
	require.Len(t, scheduling, 1)
	assert.Equal(t, "calendly", scheduling[0].Slug)

	multi := registry.List(integrations.CategoryMessaging, integrations.CategorySignature)
	require.Len(t, multi, 2)
}

func TestRegistryRejectsUnknownCredentialSlug(t *testing.T) {
	t.Parallel()

	_, err := integrations.NewRegistry(map[string]integrations.ProviderCredentials{
		"calendlyy": {ClientID: "typo"},
	})
	assert.ErrorIs(t, err, integrations.ErrProviderNotFound)
}

func TestProviderSignatureSchemes(t *testing.T) {
	t.Parallel()

	registry, err := integrations.NewRegistry(nil)
	require.NoError(t, err)

	docusign, err := registry.Get("docusign")
	require.NoError(t, err)
	assert.Equal(t, integrations.SchemeHMACBase64, docusign.SignatureScheme)

	slack, err := registry.Get("slack")
	require.NoError(t, err)
	assert.Equal(t, integrations.SchemeSlackV0, slack.SignatureScheme)
	assert.Equal(t, "X-Slack-Request-Timestamp", slack.TimestampHeader)
}
