package agents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
)

// DefaultOpenAIBaseURL is used when OpenAIConfig.BaseURL is empty.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1/"

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("model returned no text")

// OpenAIConfig configures an OpenAIProvider. BaseURL may point at any
// Responses-compatible endpoint.
type OpenAIConfig struct {
	BaseURL         string
	Model           string
	APIKey          string
	Temperature     float64
	MaxOutputTokens int
	MaxRetries      int
	Timeout         time.Duration
}

// OpenAIProvider calls the OpenAI Responses API.
type OpenAIProvider struct {
	cfg     OpenAIConfig
	service responses.ResponseService
}

// NewOpenAIProvider creates a provider. A nil httpClient uses
// http.DefaultClient.
func NewOpenAIProvider(cfg OpenAIConfig, httpClient *http.Client) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("openai provider requires a model")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultOpenAIBaseURL
	}
	opts = append(opts, option.WithBaseURL(base))
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAIProvider{
		cfg:     cfg,
		service: responses.NewResponseService(opts...),
	}, nil
}

// Name implements LLMProvider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Model returns the configured model.
func (p *OpenAIProvider) Model() string { return p.cfg.Model }

// Generate implements LLMProvider.
func (p *OpenAIProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	params := responses.ResponseNewParams{
		Model: p.cfg.Model,
		Input: responses.ResponseNewParamsInputUnion{OfString: param.NewOpt(prompt)},
	}
	if system != "" {
		params.Instructions = param.NewOpt(system)
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(p.cfg.Temperature)
	}
	if p.cfg.MaxOutputTokens > 0 {
		params.MaxOutputTokens = param.NewOpt(int64(p.cfg.MaxOutputTokens))
	}

	resp, err := p.service.New(ctx, params)
	if err != nil {
		var apiErr *responses.Error
		if errors.As(err, &apiErr) {
			body := strings.TrimSpace(apiErr.RawJSON())
			if body == "" {
				body = err.Error()
			}
			return "", fmt.Errorf("openai status %d: %s", apiErr.StatusCode, body)
		}
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
