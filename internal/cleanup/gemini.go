package cleanup

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"medocr/internal/config"
	"medocr/internal/logger"
)

// GeminiProvider cleans OCR text through the Google Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

// NewGeminiProvider creates a provider from configuration.
func NewGeminiProvider(ctx context.Context, cfg *config.Config) (*GeminiProvider, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini provider: API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini provider: %w", err)
	}

	model := cfg.GeminiModel
	if model == "" {
		model = "gemini-1.5-flash"
	}

	return &GeminiProvider{
		client: client,
		model:  model,
		log:    logger.WithComponent("cleanup-gemini"),
	}, nil
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string { return ProviderGemini }

// Clean sends the block texts to the model and parses the corrected array.
func (p *GeminiProvider) Clean(ctx context.Context, texts []string, domain string) ([]string, error) {
	const op = "Clean"

	prompt, err := buildPrompt(texts, domain)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	model := p.client.GenerativeModel(p.model)
	model.SetTemperature(0.1)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("%s: generation request failed: %w", op, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%s: %w: no candidates", op, ErrBadResponse)
	}

	var reply string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			reply += string(text)
		}
	}

	cleaned, err := parseTexts(reply)
	if err != nil {
		p.log.Warn().
			Err(err).
			Str("model", p.model).
			Msg("Could not parse cleanup response")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return cleaned, nil
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
