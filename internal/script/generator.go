package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultModel   = "deepseek/deepseek-r1-0528:free"
	defaultTimeout = 60 * time.Second

	temperature = 0.8
	topP        = 0.9
	maxTokens   = 2000
)

// GeneratorConfig configures Generator.
type GeneratorConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// AppURL and AppTitle identify the app to OpenRouter-style gateways.
	AppURL     string
	AppTitle   string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Result is a generated script.
type Result struct {
	Script       string `json:"script"`
	Model        string `json:"model"`
	FinishReason string `json:"finishReason,omitempty"`
}

// Generator turns forms into scripts through an OpenAI-compatible chat completion API.
type Generator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGenerator builds a Generator. The API key is required.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("script: LLM API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	headers := http.Header{}
	if cfg.AppURL != "" {
		headers.Set("HTTP-Referer", cfg.AppURL)
	}
	if cfg.AppTitle != "" {
		headers.Set("X-Title", cfg.AppTitle)
	}
	if len(headers) > 0 {
		wrapped := *httpClient
		wrapped.Transport = &headerTransport{base: httpClient.Transport, headers: headers}
		httpClient = &wrapped
	}
	clientConfig.HTTPClient = httpClient

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Generator{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Generate validates the form, applies the subscriber policy and requests a completion.
// Previous-script style mimicry requires an active subscription.
func (g *Generator) Generate(ctx context.Context, form Form, premium bool) (Result, error) {
	if err := form.Validate(); err != nil {
		return Result{}, err
	}
	if form.UsesStyleMimicry() && !premium {
		return Result{}, ErrPremiumRequired
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(form)},
		},
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		g.logger.Warn("completion request failed", "model", g.model, "error", err, "status", apiStatus(err))
		return Result{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: completion returned no choices", ErrGenerationFailed)
	}
	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return Result{}, fmt.Errorf("%w: completion returned empty content", ErrGenerationFailed)
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}
	return Result{Script: text, Model: model, FinishReason: string(choice.FinishReason)}, nil
}

func apiStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	for key, values := range t.headers {
		for _, v := range values {
			clone.Header.Set(key, v)
		}
	}
	return base.RoundTrip(clone)
}
