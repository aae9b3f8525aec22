package llm

import (
	"log/slog"

	"github.com/go-resty/resty/v2"

	"github.com/kirbydesk/simplify-engine/config"
	"github.com/kirbydesk/simplify-engine/internal/core"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

// Factory resolves variant model settings into concrete providers. It
// implements the worker's provider resolver contract.
type Factory struct {
	config config.ProvidersConfig
	client *resty.Client
	logger *slog.Logger
}

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	Config config.ProvidersConfig
	Logger *slog.Logger
}

// NewFactory creates a provider factory sharing one HTTP client across all
// adapters.
func NewFactory(opts FactoryOptions) *Factory {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		config: opts.Config,
		client: resty.New().SetTimeout(opts.Config.Timeout),
		logger: logger.With("component", "llm_factory"),
	}
}

// Resolve builds the provider matching the variant's model settings. The
// endpoint precedence is variant override, then environment credential
// override, then the protocol default.
func (f *Factory) Resolve(settings model.ModelSettings) (core.Provider, error) {
	switch settings.Provider {
	case model.ProviderOpenAI:
		creds := f.config.OpenAI
		if creds.APIKey == "" {
			return nil, apperrors.Validationf("no API key configured for provider %s (set OPENAI_API_KEY)", settings.Provider)
		}
		return NewOpenAIProvider(OpenAIProviderOptions{
			Kind:       model.ProviderOpenAI,
			Client:     f.client,
			Endpoint:   resolveEndpoint(settings.Endpoint, creds.Endpoint, DefaultOpenAIEndpoint),
			APIKey:     creds.APIKey,
			MaxRetries: f.config.MaxRetries,
			Logger:     f.logger,
		}), nil
	case model.ProviderMistral:
		creds := f.config.Mistral
		if creds.APIKey == "" {
			return nil, apperrors.Validationf("no API key configured for provider %s (set MISTRAL_API_KEY)", settings.Provider)
		}
		return NewOpenAIProvider(OpenAIProviderOptions{
			Kind:       model.ProviderMistral,
			Client:     f.client,
			Endpoint:   resolveEndpoint(settings.Endpoint, creds.Endpoint, DefaultMistralEndpoint),
			APIKey:     creds.APIKey,
			MaxRetries: f.config.MaxRetries,
			Logger:     f.logger,
		}), nil
	case model.ProviderAnthropic:
		creds := f.config.Anthropic
		if creds.APIKey == "" {
			return nil, apperrors.Validationf("no API key configured for provider %s (set ANTHROPIC_API_KEY)", settings.Provider)
		}
		return NewAnthropicProvider(AnthropicProviderOptions{
			Client:     f.client,
			Endpoint:   resolveEndpoint(settings.Endpoint, creds.Endpoint, DefaultAnthropicEndpoint),
			APIKey:     creds.APIKey,
			MaxRetries: f.config.MaxRetries,
			Logger:     f.logger,
		}), nil
	case model.ProviderGemini:
		creds := f.config.Gemini
		if creds.APIKey == "" {
			return nil, apperrors.Validationf("no API key configured for provider %s (set GEMINI_API_KEY)", settings.Provider)
		}
		return NewGeminiProvider(GeminiProviderOptions{
			Client:     f.client,
			Endpoint:   resolveEndpoint(settings.Endpoint, creds.Endpoint, DefaultGeminiEndpoint),
			APIKey:     creds.APIKey,
			MaxRetries: f.config.MaxRetries,
			Logger:     f.logger,
		}), nil
	default:
		return nil, apperrors.Validationf("unsupported provider kind: %q", settings.Provider)
	}
}

func resolveEndpoint(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
