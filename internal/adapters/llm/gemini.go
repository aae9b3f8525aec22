package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

// DefaultGeminiEndpoint is the base URL for the Google Gemini API.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider speaks the Gemini generateContent protocol.
type GeminiProvider struct {
	client     *resty.Client
	endpoint   string
	apiKey     string
	maxRetries int
	logger     *slog.Logger
}

// GeminiProviderOptions configures a GeminiProvider.
type GeminiProviderOptions struct {
	Client     *resty.Client
	Endpoint   string
	APIKey     string
	MaxRetries int
	Logger     *slog.Logger
}

// NewGeminiProvider creates a generateContent-protocol provider.
func NewGeminiProvider(opts GeminiProviderOptions) *GeminiProvider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiProvider{
		client:     opts.Client,
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		maxRetries: opts.MaxRetries,
		logger:     logger.With("component", "llm_gemini"),
	}
}

// Kind returns the wire protocol this provider speaks.
func (p *GeminiProvider) Kind() model.ProviderKind {
	return model.ProviderGemini
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Complete sends one generateContent request. Gemini has no dedicated system
// field in this protocol version, so system prompts become a leading user
// turn; assistant turns map to the "model" role.
func (p *GeminiProvider) Complete(ctx context.Context, req *model.CompletionRequest) (*model.CompletionResult, error) {
	var system []string
	contents := make([]geminiContent, 0, len(req.Messages)+1)
	for _, msg := range req.Messages {
		if msg.Role == model.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		role := msg.Role
		if role == model.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	if len(system) > 0 {
		leading := geminiContent{
			Role:  model.RoleUser,
			Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}},
		}
		contents = append([]geminiContent{leading}, contents...)
	}

	payload := geminiRequest{Contents: contents}
	if req.Temperature != 0 || req.MaxTokens > 0 {
		cfg := &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
		if req.Temperature != 0 {
			t := req.Temperature
			cfg.Temperature = &t
		}
		payload.GenerationConfig = cfg
	}

	var resp geminiResponse
	url := p.endpoint + "/models/" + req.Model + ":generateContent?key=" + p.apiKey
	if err := postJSON(ctx, p.client, url, nil, payload, &resp, p.maxRetries); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, apperrors.Providerf("response contained no candidates for model %s", req.Model)
	}

	return &model.CompletionResult{
		Text:             resp.Candidates[0].Content.Parts[0].Text,
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		Model:            req.Model,
	}, nil
}
