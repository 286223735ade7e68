// Package cleanup post-processes merged OCR text with a language model.
// Providers receive the elected block texts for a page and return corrected
// versions; block count and order are preserved so corrections can be mapped
// back onto the merged result.
package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"medocr/internal/config"
	"medocr/internal/ensemble"
)

// Known provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

var (
	// ErrUnknownProvider is returned for a provider name outside the known set.
	ErrUnknownProvider = errors.New("unknown cleanup provider")

	// ErrBadResponse is returned when the model's reply cannot be mapped back
	// onto the input blocks.
	ErrBadResponse = errors.New("unusable model response")
)

// Provider corrects a page's worth of block texts.
type Provider interface {
	Name() string
	Clean(ctx context.Context, texts []string, domain string) ([]string, error)
}

// ApplyToPage runs the provider over a page's elected texts and writes the
// corrections back. A provider failure leaves the page untouched and is
// returned to the caller; the merge result is always usable without cleanup.
func ApplyToPage(ctx context.Context, p Provider, page *ensemble.PageResult, domain string) error {
	if len(page.MergedBlocks) == 0 {
		return nil
	}

	texts := make([]string, len(page.MergedBlocks))
	for i, b := range page.MergedBlocks {
		texts[i] = b.Text
	}

	cleaned, err := p.Clean(ctx, texts, domain)
	if err != nil {
		return err
	}
	if len(cleaned) != len(texts) {
		return fmt.Errorf("%w: got %d texts for %d blocks", ErrBadResponse, len(cleaned), len(texts))
	}

	for i := range page.MergedBlocks {
		if c := strings.TrimSpace(cleaned[i]); c != "" {
			page.MergedBlocks[i].Text = c
		}
	}
	return nil
}

// NewProvider builds the configured provider, or nil when cleanup is
// disabled.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.CleanupProvider {
	case "":
		return nil, nil
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.CleanupProvider)
	}
}

// buildPrompt renders the correction instruction for a page's texts.
func buildPrompt(texts []string, domain string) (string, error) {
	payload, err := json.Marshal(texts)
	if err != nil {
		return "", err
	}

	if domain == "" {
		domain = "prescription"
	}

	return fmt.Sprintf(`You are correcting OCR output from a scanned medical %s document.
The following JSON array contains one string per text block, in reading order:

%s

Fix obvious OCR character errors (for example "1NR" misread for "INR", "0" for "O",
"rng" for "mg") using medical vocabulary, drug names, and dosage conventions.
Do not translate, reorder, merge, split, or invent text. Keep each entry's
meaning and approximate length.

Respond with ONLY a JSON array of the same length containing the corrected strings.`,
		domain, string(payload)), nil
}

// parseTexts decodes the model reply, tolerating markdown code fences.
func parseTexts(response string) ([]string, error) {
	cleaned := strings.TrimSpace(response)

	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var texts []string
	if err := json.Unmarshal([]byte(cleaned), &texts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return texts, nil
}
