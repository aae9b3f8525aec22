package config

import "time"

// ProviderCredentials carries the API key and optional endpoint override for
// one upstream provider.
type ProviderCredentials struct {
	// APIKey authenticates against the provider. A variant assigned to a
	// provider without a key fails at provider resolution, not at startup,
	// so deployments may configure only the providers they use.
	APIKey string `env:"API_KEY"`

	// Endpoint overrides the provider's default API base URL.
	Endpoint string `env:"ENDPOINT"`
}

// ProvidersConfig contains credentials and shared HTTP behaviour for the
// LLM provider adapters.
type ProvidersConfig struct {
	OpenAI    ProviderCredentials `envPrefix:"OPENAI_"`
	Anthropic ProviderCredentials `envPrefix:"ANTHROPIC_"`
	Gemini    ProviderCredentials `envPrefix:"GEMINI_"`
	Mistral   ProviderCredentials `envPrefix:"MISTRAL_"`

	// Timeout bounds one completion round-trip including streaming reads.
	Timeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"120s"`

	// MaxRetries bounds request-level retries inside an adapter for
	// network failures and HTTP 429/5xx responses.
	MaxRetries int `env:"PROVIDER_MAX_RETRIES" envDefault:"3"`
}

// Sanitize applies guardrails to provider configuration values.
func (p *ProvidersConfig) Sanitize() {
	if p.Timeout < 5*time.Second {
		p.Timeout = 5 * time.Second
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.MaxRetries > 10 {
		p.MaxRetries = 10
	}
}
