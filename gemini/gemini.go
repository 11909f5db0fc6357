package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"swipetune/config"
	"swipetune/expansion"
	"swipetune/sentryhelper"
)

const DefaultModel = "gemini-2.0-flash"

var (
	ErrDisabled      = errors.New("gemini: disabled or missing GEMINI_API_KEY")
	ErrEmptyResponse = fmt.Errorf("gemini: empty response: %w", expansion.ErrBlankResponse)
)

// Client generates song suggestions with the Gemini API.
type Client struct {
	genai *genai.Client
	model string
}

type Option func(*genai.ClientConfig)

// WithBaseURL points the client at another API host.
func WithBaseURL(url string) Option {
	return func(c *genai.ClientConfig) { c.HTTPOptions.BaseURL = url }
}

func New(ctx context.Context, cfg config.GeminiConfig, opts ...Option) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, ErrDisabled
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cc)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{genai: client, model: model}, nil
}

// Generate sends prompt with the curator instructions and returns the text
// of the first candidate.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	logger := log.WithFields(log.Fields{
		"module": "gemini",
		"method": "Generate",
		"model":  c.model,
	})

	span := sentryhelper.StartSpan(ctx, "gemini.generate")
	span.Description = c.model
	defer span.Finish()

	resp, err := c.genai.Models.GenerateContent(span.Context(), c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(CuratorPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.9),
	})
	if err != nil {
		logger.Warnf("generate failed: %v", err)
		return "", fmt.Errorf("gemini: generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	logger.Tracef("response: %s", text)
	return text, nil
}
