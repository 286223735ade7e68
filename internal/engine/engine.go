// Package engine provides adapters for the OCR engine fleet.
//
// Every engine is reached through the same narrow contract: a health probe
// and a recognize call that returns the engine's raw, native output for one
// page. Adapters never interpret that output themselves; parsing into the
// unified block schema belongs to the ensemble normalizers, so one engine's
// odd payload can never break another's.
//
// Three adapter kinds are supported:
//   - http: the local engine services (tesseract, easyocr, paddle, surya,
//     docling, doctr, and friends) behind GET /health + POST /ocr
//   - gcvision: Google Cloud Vision document text detection
//   - documentai: Google Document AI OCR processors
package engine

import (
	"context"
	"fmt"

	"medocr/internal/config"
)

// Document is the input handed to an engine: one scanned document plus the
// page to recognize.
type Document struct {
	// Filename is used for multipart uploads and logging.
	Filename string

	// MimeType of Data (application/pdf, image/png, ...).
	MimeType string

	// Data is the raw document bytes.
	Data []byte

	// Page is the 1-based page to recognize.
	Page int

	// Language is the primary language hint, e.g. "en" or "hi".
	Language string
}

// RawResult is one engine's unparsed output for one page.
type RawResult struct {
	// Engine is the producing engine's id.
	Engine string

	// Page is the 1-based page number.
	Page int

	// Format names the payload's native shape for normalizer selection.
	Format string

	// Payload is the raw engine output.
	Payload []byte
}

// Engine is a single OCR engine adapter.
type Engine interface {
	// Name returns the engine id used in priority lists and block output.
	Name() string

	// Health reports whether the engine is reachable and ready.
	Health(ctx context.Context) error

	// Recognize runs OCR for one page and returns the raw native output.
	Recognize(ctx context.Context, doc Document) (*RawResult, error)
}

// New builds an engine adapter from its fleet configuration entry.
func New(ctx context.Context, spec config.EngineSpec) (Engine, error) {
	switch spec.Kind {
	case config.KindHTTP, "":
		return NewHTTPEngine(spec), nil
	case config.KindVision:
		return NewVisionEngine(ctx, spec)
	case config.KindDocumentAI:
		return NewDocumentAIEngine(ctx, spec)
	default:
		return nil, fmt.Errorf("engine %q: unknown kind %q", spec.ID, spec.Kind)
	}
}

// NewFleet builds all configured engine adapters. A single engine that fails
// to construct does not block the rest; construction errors are returned per
// engine so the caller can log and continue with the healthy subset.
func NewFleet(ctx context.Context, specs []config.EngineSpec) ([]Engine, map[string]error) {
	engines := make([]Engine, 0, len(specs))
	failed := make(map[string]error)
	for _, spec := range specs {
		eng, err := New(ctx, spec)
		if err != nil {
			failed[spec.ID] = err
			continue
		}
		engines = append(engines, eng)
	}
	return engines, failed
}
