package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"medocr/internal/config"
	"medocr/internal/ensemble"
	"medocr/internal/logger"
)

const (
	defaultHealthTimeout    = 5 * time.Second
	defaultRecognizeTimeout = 120 * time.Second

	// MaxUploadBytes guards against unbounded documents; the local engine
	// services reject anything larger anyway.
	MaxUploadBytes = 50 * 1024 * 1024
)

// HTTPEngine talks to one of the local engine services behind the common
// GET /health + POST /ocr contract.
type HTTPEngine struct {
	id      string
	baseURL string
	format  string
	client  *http.Client
	log     zerolog.Logger
}

// healthResponse is the services' health body: {"ok": true, "engine": "..."}.
type healthResponse struct {
	OK     bool   `json:"ok"`
	Engine string `json:"engine,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewHTTPEngine creates an adapter for a local engine service.
func NewHTTPEngine(spec config.EngineSpec) *HTTPEngine {
	format := spec.Format
	if format == "" {
		format = ensemble.FormatBlocks
	}
	return &HTTPEngine{
		id:      spec.ID,
		baseURL: strings.TrimRight(spec.URL, "/"),
		format:  format,
		client:  &http.Client{Timeout: defaultRecognizeTimeout},
		log:     logger.WithComponent("engine-" + spec.ID),
	}
}

// Name returns the engine id.
func (e *HTTPEngine) Name() string { return e.id }

// Health probes GET /health and checks the ok flag.
func (e *HTTPEngine) Health(ctx context.Context) error {
	const op = "Health"

	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return WrapEngineError(op, e.id, err, "")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return WrapEngineError(op, e.id, ErrUnhealthy, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return WrapEngineError(op, e.id, ErrUnhealthy, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return WrapEngineError(op, e.id, ErrUnhealthy, "unparseable health body")
	}
	if !health.OK {
		return WrapEngineError(op, e.id, ErrUnhealthy, health.Error)
	}

	return nil
}

// Recognize posts the document to POST /ocr as a multipart form and returns
// the raw JSON body.
func (e *HTTPEngine) Recognize(ctx context.Context, doc Document) (*RawResult, error) {
	const op = "Recognize"

	if len(doc.Data) > MaxUploadBytes {
		return nil, WrapEngineError(op, e.id, ErrDocumentTooLarge,
			fmt.Sprintf("%d bytes", len(doc.Data)))
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", doc.Filename)
	if err != nil {
		return nil, WrapEngineError(op, e.id, err, "")
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, WrapEngineError(op, e.id, err, "")
	}

	lang := doc.Language
	if lang == "" {
		lang = "en"
	}
	if err := writer.WriteField("lang", lang); err != nil {
		return nil, WrapEngineError(op, e.id, err, "")
	}
	if err := writer.Close(); err != nil {
		return nil, WrapEngineError(op, e.id, err, "")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/ocr", &body)
	if err != nil {
		return nil, WrapEngineError(op, e.id, err, "")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed, err.Error())
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxUploadBytes))
	if err != nil {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(payload, 200)))
	}

	e.log.Debug().
		Str("file", doc.Filename).
		Int("page", doc.Page).
		Int("bytes", len(payload)).
		Dur("duration", time.Since(start)).
		Msg("Engine recognition complete")

	return &RawResult{
		Engine:  e.id,
		Page:    doc.Page,
		Format:  e.format,
		Payload: payload,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
