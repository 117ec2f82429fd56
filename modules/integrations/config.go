package integrations

import "time"

// ProviderCredentials holds per-provider deployment secrets. All values
// come from the environment; nothing here is hard-coded.
type ProviderCredentials struct {
	ClientID      string `env:"CLIENT_ID"`
	ClientSecret  string `env:"CLIENT_SECRET"`
	RedirectURI   string `env:"REDIRECT_URI"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

// Config holds integration subsystem settings.
type Config struct {
	// StateSecret signs OAuth state tokens. Required: without it the
	// callback cannot distinguish our redirects from forged ones.
	StateSecret string        `env:"INTEGRATIONS_STATE_SECRET,required"`
	StateTTL    time.Duration `env:"INTEGRATIONS_STATE_TTL" envDefault:"10m"`

	// RefreshMargin is how long before expiry a token is refreshed;
	// RefreshInterval is the background refresher's tick period.
	RefreshMargin   time.Duration `env:"INTEGRATIONS_REFRESH_MARGIN" envDefault:"2m"`
	RefreshInterval time.Duration `env:"INTEGRATIONS_REFRESH_INTERVAL" envDefault:"1m"`

	// ExchangeTimeout bounds each token endpoint call; ExchangeRetries is
	// the number of additional attempts after a transient failure.
	ExchangeTimeout time.Duration `env:"INTEGRATIONS_EXCHANGE_TIMEOUT" envDefault:"10s"`
	ExchangeRetries int           `env:"INTEGRATIONS_EXCHANGE_RETRIES" envDefault:"2"`

	// Post-callback redirect targets in the host application.
	SuccessRedirect string `env:"INTEGRATIONS_SUCCESS_REDIRECT" envDefault:"/settings/integrations?connected=1"`
	FailureRedirect string `env:"INTEGRATIONS_FAILURE_REDIRECT" envDefault:"/settings/integrations"`

	Calendly ProviderCredentials `envPrefix:"CALENDLY_"`
	Docusign ProviderCredentials `envPrefix:"DOCUSIGN_"`
	Slack    ProviderCredentials `envPrefix:"SLACK_"`
	Google   ProviderCredentials `envPrefix:"GOOGLE_"`
}

// Credentials maps configured provider credentials by catalog slug,
// ready to pass to NewRegistry.
func (c Config) Credentials() map[string]ProviderCredentials {
	return map[string]ProviderCredentials{
		"calendly": c.Calendly,
		"docusign": c.Docusign,
		"slack":    c.Slack,
		"google":   c.Google,
	}
}
