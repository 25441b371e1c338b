package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Default configuration values.
const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultMaxTokens   = 4096
	defaultTemperature = 0.2
)

// ErrInvalidConfig is returned when a client cannot be built from its config.
var ErrInvalidConfig = errors.New("invalid llm config")

// Config configures an OpenAI-compatible chat client.
type Config struct {
	BaseURL     string
	Model       string
	APIKey      string `json:"-"`
	MaxTokens   int
	// Temperature is the sampling temperature. Nil selects the default; zero
	// is kept.
	Temperature *float64
}

// OpenAIClient completes requests against an OpenAI-compatible endpoint in
// JSON mode.
type OpenAIClient struct {
	llm         llms.Model
	maxTokens   int
	temperature float64
}

// NewOpenAIClient creates a client from cfg.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(model),
		openai.WithResponseFormat(openai.ResponseFormatJSON),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewModelClient(m, cfg), nil
}

// NewModelClient wraps any langchaingo model.
func NewModelClient(m llms.Model, cfg Config) *OpenAIClient {
	c := &OpenAIClient{llm: m, maxTokens: cfg.MaxTokens, temperature: defaultTemperature}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if cfg.Temperature != nil {
		c.temperature = *cfg.Temperature
	}
	return c
}

// Complete sends the system instruction and JSON payload and returns the
// model's JSON object.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, string(req.Payload)),
	}
	resp, err := c.llm.GenerateContent(ctx, msgs,
		llms.WithMaxTokens(c.maxTokens),
		llms.WithTemperature(c.temperature),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Classify(ctxErr)
		}
		return nil, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, Errorf(KindProvider, "empty response for %s", req.TaskID)
	}
	return extractJSON(resp.Choices[0].Content)
}

// extractJSON returns the first JSON object in text, tolerating a fenced
// code block around it.
func extractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, Errorf(KindMalformed, "response is not a JSON object")
	}
	raw := json.RawMessage(s[start : end+1])
	if !json.Valid(raw) {
		return nil, Errorf(KindMalformed, "response is not valid JSON")
	}
	return raw, nil
}
