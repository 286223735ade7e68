package cleanup

import (
	"context"
	"errors"
	"testing"

	"medocr/internal/config"
	"medocr/internal/ensemble"
)

type fakeProvider struct {
	texts []string
	err   error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Clean(ctx context.Context, texts []string, domain string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.texts, nil
}

func TestApplyToPage(t *testing.T) {
	page := &ensemble.PageResult{
		Page: 1,
		MergedBlocks: []ensemble.MergedBlock{
			{Text: "1NR 2.5", Confidence: 0.8},
			{Text: "Warfarin 5rng", Confidence: 0.9},
		},
	}

	p := &fakeProvider{texts: []string{"INR 2.5", "Warfarin 5mg"}}
	if err := ApplyToPage(context.Background(), p, page, "lab-report"); err != nil {
		t.Fatalf("ApplyToPage() error = %v", err)
	}

	if page.MergedBlocks[0].Text != "INR 2.5" {
		t.Errorf("block 0 = %q", page.MergedBlocks[0].Text)
	}
	if page.MergedBlocks[1].Text != "Warfarin 5mg" {
		t.Errorf("block 1 = %q", page.MergedBlocks[1].Text)
	}
}

func TestApplyToPageLengthMismatch(t *testing.T) {
	page := &ensemble.PageResult{
		MergedBlocks: []ensemble.MergedBlock{{Text: "a"}, {Text: "b"}},
	}

	p := &fakeProvider{texts: []string{"only one"}}
	err := ApplyToPage(context.Background(), p, page, "")
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("ApplyToPage() error = %v, want ErrBadResponse", err)
	}
	if page.MergedBlocks[0].Text != "a" {
		t.Errorf("page mutated on failure: %q", page.MergedBlocks[0].Text)
	}
}

func TestApplyToPageProviderFailureLeavesPage(t *testing.T) {
	page := &ensemble.PageResult{
		MergedBlocks: []ensemble.MergedBlock{{Text: "original"}},
	}

	p := &fakeProvider{err: errors.New("rate limited")}
	if err := ApplyToPage(context.Background(), p, page, ""); err == nil {
		t.Fatal("ApplyToPage() expected error")
	}
	if page.MergedBlocks[0].Text != "original" {
		t.Errorf("page mutated on failure: %q", page.MergedBlocks[0].Text)
	}
}

func TestApplyToPageBlankCorrectionKept(t *testing.T) {
	page := &ensemble.PageResult{
		MergedBlocks: []ensemble.MergedBlock{{Text: "keep me"}},
	}

	p := &fakeProvider{texts: []string{"   "}}
	if err := ApplyToPage(context.Background(), p, page, ""); err != nil {
		t.Fatalf("ApplyToPage() error = %v", err)
	}
	if page.MergedBlocks[0].Text != "keep me" {
		t.Errorf("blank correction should not erase text, got %q", page.MergedBlocks[0].Text)
	}
}

func TestApplyToPageEmptyPage(t *testing.T) {
	page := &ensemble.PageResult{MergedBlocks: []ensemble.MergedBlock{}}

	p := &fakeProvider{err: errors.New("should not be called")}
	if err := ApplyToPage(context.Background(), p, page, ""); err != nil {
		t.Errorf("ApplyToPage() on empty page error = %v", err)
	}
}

func TestParseTexts(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
		wantErr  bool
	}{
		{
			name:     "plain array",
			response: `["INR 2.5", "Warfarin 5mg"]`,
			want:     []string{"INR 2.5", "Warfarin 5mg"},
		},
		{
			name:     "json code fence",
			response: "```json\n[\"a\", \"b\"]\n```",
			want:     []string{"a", "b"},
		},
		{
			name:     "bare code fence",
			response: "```\n[\"a\"]\n```",
			want:     []string{"a"},
		},
		{
			name:     "prose reply",
			response: "Here are the corrections: INR 2.5",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTexts(tt.response)
			if tt.wantErr {
				if !errors.Is(err, ErrBadResponse) {
					t.Fatalf("parseTexts() error = %v, want ErrBadResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTexts() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseTexts() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseTexts()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNewProvider(t *testing.T) {
	if p, err := NewProvider(context.Background(), &config.Config{}); err != nil || p != nil {
		t.Errorf("NewProvider(disabled) = %v, %v; want nil, nil", p, err)
	}

	if _, err := NewProvider(context.Background(), &config.Config{CleanupProvider: "claude"}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("NewProvider(unknown) error = %v, want ErrUnknownProvider", err)
	}

	if _, err := NewProvider(context.Background(), &config.Config{CleanupProvider: ProviderOpenAI}); err == nil {
		t.Error("NewProvider(openai, no key) expected error")
	}
}
