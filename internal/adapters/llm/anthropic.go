package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

// DefaultAnthropicEndpoint is the base URL for the Anthropic API.
const DefaultAnthropicEndpoint = "https://api.anthropic.com/v1"

// anthropicVersion is the pinned API version header value.
const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the Anthropic messages protocol.
type AnthropicProvider struct {
	client     *resty.Client
	endpoint   string
	apiKey     string
	maxRetries int
	logger     *slog.Logger
}

// AnthropicProviderOptions configures an AnthropicProvider.
type AnthropicProviderOptions struct {
	Client     *resty.Client
	Endpoint   string
	APIKey     string
	MaxRetries int
	Logger     *slog.Logger
}

// NewAnthropicProvider creates a messages-protocol provider.
func NewAnthropicProvider(opts AnthropicProviderOptions) *AnthropicProvider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicProvider{
		client:     opts.Client,
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		maxRetries: opts.MaxRetries,
		logger:     logger.With("component", "llm_anthropic"),
	}
}

// Kind returns the wire protocol this provider speaks.
func (p *AnthropicProvider) Kind() model.ProviderKind {
	return model.ProviderAnthropic
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []model.ChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends one messages request. The protocol keeps system prompts in a
// dedicated top-level field and mandates max_tokens, so requests without an
// output-token cap fail before hitting the wire.
func (p *AnthropicProvider) Complete(ctx context.Context, req *model.CompletionRequest) (*model.CompletionResult, error) {
	if req.MaxTokens <= 0 {
		return nil, apperrors.Validationf("anthropic requires max_output_tokens to be set in the variant model settings (model %s)", req.Model)
	}

	var system []string
	messages := make([]model.ChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == model.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		messages = append(messages, msg)
	}

	payload := anthropicRequest{
		Model:     req.Model,
		System:    strings.Join(system, "\n\n"),
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		payload.Temperature = &t
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	url := p.endpoint + "/messages"
	if err := postJSON(ctx, p.client, url, headers, payload, &resp, p.maxRetries); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, apperrors.Providerf("response contained no text content for model %s", req.Model)
	}

	resultModel := resp.Model
	if resultModel == "" {
		resultModel = req.Model
	}
	return &model.CompletionResult{
		Text:             text.String(),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		Model:            resultModel,
	}, nil
}
