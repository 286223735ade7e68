package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"medocr/internal/ensemble"
)

func writeEnginesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engines.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write engines file: %v", err)
	}
	return path
}

func TestLoadEngines(t *testing.T) {
	path := writeEnginesFile(t, `
overlap_threshold: 0.6
min_bbox_area: 25
engine_priority: [surya, tesseract, easyocr]
engines:
  - id: surya
    kind: http
    url: http://localhost:8091
  - id: tesseract
    url: http://localhost:8089
    languages: [en, de]
  - id: easyocr
    kind: http
    url: http://localhost:8092
    format: easyocr
  - id: gcv
    kind: gcvision
`)

	cfg, err := LoadEngines(path)
	if err != nil {
		t.Fatalf("LoadEngines() error = %v", err)
	}

	if cfg.OverlapThreshold != 0.6 {
		t.Errorf("OverlapThreshold = %v, want 0.6", cfg.OverlapThreshold)
	}
	if cfg.MinBBoxArea != 25 {
		t.Errorf("MinBBoxArea = %v, want 25", cfg.MinBBoxArea)
	}
	if cfg.DefaultConfidence != 1.0 {
		t.Errorf("DefaultConfidence = %v, want default 1.0", cfg.DefaultConfidence)
	}
	if len(cfg.Engines) != 4 {
		t.Fatalf("Engines = %d, want 4", len(cfg.Engines))
	}
	if cfg.Engines[2].Format != "easyocr" {
		t.Errorf("easyocr format = %q", cfg.Engines[2].Format)
	}
	if got := cfg.Engines[1].Languages; len(got) != 2 || got[0] != "en" {
		t.Errorf("tesseract languages = %v", got)
	}
}

func TestLoadEnginesDefaults(t *testing.T) {
	path := writeEnginesFile(t, `
engines:
  - id: tesseract
    url: http://localhost:8089
`)

	cfg, err := LoadEngines(path)
	if err != nil {
		t.Fatalf("LoadEngines() error = %v", err)
	}
	if cfg.OverlapThreshold != ensemble.DefaultOverlapThreshold {
		t.Errorf("OverlapThreshold = %v, want default", cfg.OverlapThreshold)
	}
	if cfg.MinBBoxArea != 0 {
		t.Errorf("MinBBoxArea = %v, want 0", cfg.MinBBoxArea)
	}
}

func TestLoadEnginesValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "threshold above one",
			yaml: `
overlap_threshold: 1.5
engines:
  - {id: a, url: http://localhost:1}
`,
			wantErr: "overlap",
		},
		{
			name: "duplicate priority",
			yaml: `
engine_priority: [a, b, a]
engines:
  - {id: a, url: http://localhost:1}
`,
			wantErr: "duplicate",
		},
		{
			name: "duplicate engine id",
			yaml: `
engines:
  - {id: a, url: http://localhost:1}
  - {id: a, url: http://localhost:2}
`,
			wantErr: "duplicate id",
		},
		{
			name: "missing id",
			yaml: `
engines:
  - {url: http://localhost:1}
`,
			wantErr: "id is required",
		},
		{
			name: "http without url",
			yaml: `
engines:
  - {id: a, kind: http}
`,
			wantErr: "url is required",
		},
		{
			name: "unknown kind",
			yaml: `
engines:
  - {id: a, kind: carrier-pigeon}
`,
			wantErr: "unknown kind",
		},
		{
			name: "negative min area",
			yaml: `
min_bbox_area: -1
engines:
  - {id: a, url: http://localhost:1}
`,
			wantErr: "min",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeEnginesFile(t, tt.yaml)
			_, err := LoadEngines(path)
			if err == nil {
				t.Fatal("LoadEngines() expected error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnginesMissingFile(t *testing.T) {
	if _, err := LoadEngines(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadEngines() expected error for missing file")
	}
}

func TestLoadEnginesThresholdZero(t *testing.T) {
	// A zero threshold is invalid, not "use the default".
	path := writeEnginesFile(t, `
overlap_threshold: 0.0000001
engines:
  - {id: a, url: http://localhost:1}
`)
	if _, err := LoadEngines(path); err != nil {
		t.Errorf("tiny positive threshold should be valid, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty provider", cfg: Config{}},
		{name: "openai with key", cfg: Config{CleanupProvider: "openai", OpenAIAPIKey: "sk-x"}},
		{name: "openai without key", cfg: Config{CleanupProvider: "openai"}, wantErr: true},
		{name: "gemini without key", cfg: Config{CleanupProvider: "gemini"}, wantErr: true},
		{name: "unknown provider", cfg: Config{CleanupProvider: "claude"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadServerAddress(t *testing.T) {
	t.Setenv("MEDOCR_HOST", "127.0.0.1")
	t.Setenv("MEDOCR_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
}

func TestMergeOptionsRoundTrip(t *testing.T) {
	cfg := &EnginesConfig{
		OverlapThreshold:  0.7,
		MinBBoxArea:       10,
		DefaultConfidence: 0.5,
		EnginePriority:    []string{"a", "b"},
	}

	opts := cfg.MergeOptions()
	if opts.OverlapThreshold != 0.7 || opts.MinBBoxArea != 10 || opts.DefaultConfidence != 0.5 {
		t.Errorf("MergeOptions() = %+v", opts)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if !errors.Is(func() error {
		bad := cfg.MergeOptions()
		bad.OverlapThreshold = 2
		return bad.Validate()
	}(), ensemble.ErrInvalidThreshold) {
		t.Error("expected ErrInvalidThreshold for threshold > 1")
	}
}
