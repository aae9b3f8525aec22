package llm

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

const (
	// DefaultOpenAIEndpoint is the base URL for the OpenAI API.
	DefaultOpenAIEndpoint = "https://api.openai.com/v1"
	// DefaultMistralEndpoint is the base URL for the Mistral API, which
	// speaks the same chat-completions protocol.
	DefaultMistralEndpoint = "https://api.mistral.ai/v1"
)

// gpt4oDatePattern matches dated gpt-4o snapshot identifiers such as
// gpt-4o-2024-08-06.
var gpt4oDatePattern = regexp.MustCompile(`^gpt-4o-(\d{4})-(\d{2})-(\d{2})$`)

// OpenAIProvider speaks the OpenAI chat-completions protocol. It also serves
// Mistral, which exposes the same wire format under a different endpoint.
type OpenAIProvider struct {
	kind       model.ProviderKind
	client     *resty.Client
	endpoint   string
	apiKey     string
	maxRetries int
	logger     *slog.Logger
}

// OpenAIProviderOptions configures an OpenAIProvider.
type OpenAIProviderOptions struct {
	Kind       model.ProviderKind
	Client     *resty.Client
	Endpoint   string
	APIKey     string
	MaxRetries int
	Logger     *slog.Logger
}

// NewOpenAIProvider creates a chat-completions provider for the given kind.
func NewOpenAIProvider(opts OpenAIProviderOptions) *OpenAIProvider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		kind:       opts.Kind,
		client:     opts.Client,
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		maxRetries: opts.MaxRetries,
		logger:     logger.With("component", "llm_"+string(opts.Kind)),
	}
}

// Kind returns the wire protocol this provider speaks.
func (p *OpenAIProvider) Kind() model.ProviderKind {
	return p.kind
}

type openAIRequest struct {
	Model               string              `json:"model"`
	Messages            []model.ChatMessage `json:"messages"`
	MaxTokens           int                 `json:"max_tokens,omitempty"`
	MaxCompletionTokens int                 `json:"max_completion_tokens,omitempty"`
	Temperature         *float64            `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one chat-completions request and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, req *model.CompletionRequest) (*model.CompletionResult, error) {
	payload := openAIRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}
	if req.MaxTokens > 0 {
		if usesMaxCompletionTokens(req.Model) {
			payload.MaxCompletionTokens = req.MaxTokens
		} else {
			payload.MaxTokens = req.MaxTokens
		}
	}
	if req.Temperature != 0 {
		t := req.Temperature
		payload.Temperature = &t
	}

	headers := map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}

	var resp openAIResponse
	url := p.endpoint + "/chat/completions"
	if err := postJSON(ctx, p.client, url, headers, payload, &resp, p.maxRetries); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.Providerf("response contained no choices for model %s", req.Model)
	}

	resultModel := resp.Model
	if resultModel == "" {
		resultModel = req.Model
	}
	return &model.CompletionResult{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Model:            resultModel,
	}, nil
}

// usesMaxCompletionTokens reports whether the model requires the newer
// max_completion_tokens parameter instead of max_tokens: the o1 family,
// chatgpt-4o-latest, and dated gpt-4o snapshots from 2024-08-06 onward.
func usesMaxCompletionTokens(modelID string) bool {
	if strings.HasPrefix(modelID, "o1-") {
		return true
	}
	if modelID == "chatgpt-4o-latest" {
		return true
	}
	m := gpt4oDatePattern.FindStringSubmatch(modelID)
	if m == nil {
		return false
	}
	date := m[1] + m[2] + m[3]
	return date >= "20240806"
}
