package cleanup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"medocr/internal/config"
	"medocr/internal/logger"
)

// OpenAIProvider cleans OCR text through the OpenAI chat completions API.
// A custom base URL makes it work against any OpenAI-compatible endpoint,
// including locally hosted models.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

// NewOpenAIProvider creates a provider from configuration.
func NewOpenAIProvider(cfg *config.Config) (*OpenAIProvider, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai provider: API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}

	model := cfg.OpenAIModel
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		log:    logger.WithComponent("cleanup-openai"),
	}, nil
}

// NewOpenAIProviderWithClient creates a provider with an explicit client
// (for testing).
func NewOpenAIProviderWithClient(client *openai.Client, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client: client,
		model:  model,
		log:    logger.WithComponent("cleanup-openai"),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// Clean sends the block texts to the model and parses the corrected array.
func (p *OpenAIProvider) Clean(ctx context.Context, texts []string, domain string) ([]string, error) {
	const op = "Clean"

	prompt, err := buildPrompt(texts, domain)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: completion request failed: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w: no choices", op, ErrBadResponse)
	}

	cleaned, err := parseTexts(resp.Choices[0].Message.Content)
	if err != nil {
		p.log.Warn().
			Err(err).
			Str("model", p.model).
			Msg("Could not parse cleanup response")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return cleaned, nil
}
