package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"medocr/internal/config"
	"medocr/internal/ensemble"
	"medocr/internal/logger"
)

const (
	// MaxDocumentAIBytes is the Document AI limit for synchronous processing.
	MaxDocumentAIBytes = 20 * 1024 * 1024

	defaultDocumentAITimeout = 60 * time.Second
)

// DocumentAIConfig holds the processor coordinates for Google Document AI.
type DocumentAIConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

// DocumentAIEngine runs documents through a Google Document AI OCR processor
// and emits block-list payloads compatible with the normalizer.
type DocumentAIEngine struct {
	id     string
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIEngine creates a Document AI engine with credentials from the
// environment.
// Expects: GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS
// Requires: GOOGLE_PROJECT_ID, GOOGLE_PROCESSOR_ID
// Optional: GOOGLE_LOCATION (defaults to "us")
func NewDocumentAIEngine(ctx context.Context, spec config.EngineSpec) (*DocumentAIEngine, error) {
	const op = "NewDocumentAIEngine"

	cfg := DocumentAIConfig{
		ProjectID:   getEnvVar("GOOGLE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
		Location:    getEnvVar("GOOGLE_LOCATION", "GOOGLE_CLOUD_LOCATION"),
		ProcessorID: getEnvVar("GOOGLE_PROCESSOR_ID", "DOCUMENT_AI_PROCESSOR_ID"),
		Timeout:     defaultDocumentAITimeout,
	}

	if cfg.ProjectID == "" {
		return nil, WrapEngineError(op, spec.ID, ErrMissingCredentials, "GOOGLE_PROJECT_ID or GOOGLE_CLOUD_PROJECT is required")
	}
	if cfg.ProcessorID == "" {
		return nil, WrapEngineError(op, spec.ID, ErrMissingCredentials, "GOOGLE_PROCESSOR_ID or DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}

	var clientOptions []option.ClientOption

	// Regional processors need the regional endpoint.
	if cfg.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(credFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, WrapEngineError(op, spec.ID, err,
			fmt.Sprintf("failed to create Document AI client for location: %s", cfg.Location))
	}

	return &DocumentAIEngine{
		id:     spec.ID,
		client: client,
		config: cfg,
		log:    logger.WithComponent("engine-" + spec.ID),
	}, nil
}

// NewDocumentAIEngineWithClient creates a Document AI engine with an explicit
// config and client (for testing).
func NewDocumentAIEngineWithClient(id string, cfg DocumentAIConfig, client *documentai.DocumentProcessorClient) *DocumentAIEngine {
	return &DocumentAIEngine{
		id:     id,
		client: client,
		config: cfg,
		log:    logger.WithComponent("engine-" + id),
	}
}

// Name returns the engine id.
func (e *DocumentAIEngine) Name() string { return e.id }

// Health checks that a client exists. Document AI has no health endpoint;
// processor problems surface on the first Recognize call.
func (e *DocumentAIEngine) Health(ctx context.Context) error {
	if e.client == nil {
		return WrapEngineError("Health", e.id, ErrUnhealthy, "client not initialized")
	}
	return nil
}

// Recognize processes the document and converts the requested page's layout
// blocks to the block-list wire shape.
func (e *DocumentAIEngine) Recognize(ctx context.Context, doc Document) (*RawResult, error) {
	const op = "Recognize"

	if len(doc.Data) > MaxDocumentAIBytes {
		return nil, WrapEngineError(op, e.id, ErrDocumentTooLarge,
			fmt.Sprintf("%d bytes", len(doc.Data)))
	}

	processCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: e.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  doc.Data,
				MimeType: documentMime(doc),
			},
		},
	}

	resp, err := e.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, e.handleProcessingError(op, err)
	}
	if resp.Document == nil {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed, "no document in response")
	}

	blocks, err := e.pageBlocks(resp.Document, doc.Page)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(blocks)
	if err != nil {
		return nil, WrapEngineError(op, e.id, err, "failed to encode blocks")
	}

	e.log.Debug().
		Str("file", doc.Filename).
		Int("page", doc.Page).
		Int("blocks", len(blocks)).
		Msg("Document AI recognition complete")

	return &RawResult{
		Engine:  e.id,
		Page:    doc.Page,
		Format:  ensemble.FormatBlocks,
		Payload: payload,
	}, nil
}

// Close closes the underlying Document AI client.
func (e *DocumentAIEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// processorName constructs the full processor resource name.
func (e *DocumentAIEngine) processorName() string {
	if e.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			e.config.ProjectID, e.config.Location, e.config.ProcessorID, e.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		e.config.ProjectID, e.config.Location, e.config.ProcessorID)
}

// handleProcessingError converts Document AI errors to engine errors.
func (e *DocumentAIEngine) handleProcessingError(op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return WrapEngineError(op, e.id, ErrMissingCredentials, "insufficient permissions for Document AI")
	case strings.Contains(errStr, "NOT_FOUND"):
		return WrapEngineError(op, e.id, ErrRecognitionFailed, fmt.Sprintf("processor not found: %s", e.config.ProcessorID))
	case strings.Contains(errStr, "INVALID_ARGUMENT"):
		return WrapEngineError(op, e.id, ErrRecognitionFailed, "document format not supported or corrupted")
	case strings.Contains(errStr, "DeadlineExceeded") || strings.Contains(errStr, "context deadline exceeded"):
		return WrapEngineError(op, e.id, context.DeadlineExceeded, "processing timeout")
	default:
		return WrapEngineError(op, e.id, ErrRecognitionFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

// pageBlocks converts one page's layout blocks into the block-list wire
// shape. pageNum is 1-based.
func (e *DocumentAIEngine) pageBlocks(doc *documentaipb.Document, pageNum int) ([]visionBlock, error) {
	const op = "pageBlocks"

	idx := pageNum - 1
	if idx < 0 || idx >= len(doc.Pages) {
		return nil, WrapEngineError(op, e.id, ErrPageOutOfRange,
			fmt.Sprintf("page %d of %d", pageNum, len(doc.Pages)))
	}

	page := doc.Pages[idx]
	blocks := []visionBlock{}

	for _, block := range page.Blocks {
		if block.Layout == nil {
			continue
		}
		text := anchorText(doc.Text, block.Layout.TextAnchor)
		if strings.TrimSpace(text) == "" {
			continue
		}
		blocks = append(blocks, visionBlock{
			Text:       text,
			Confidence: float64(block.Layout.Confidence),
			BBox:       boundsOfDocPoly(block.Layout.BoundingPoly),
		})
	}

	return blocks, nil
}

// anchorText resolves a layout's text anchor against the document's full text.
func anchorText(fullText string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}

	var sb strings.Builder
	for _, segment := range anchor.TextSegments {
		start := int(segment.StartIndex)
		end := int(segment.EndIndex)
		if start < 0 || end > len(fullText) || start >= end {
			continue
		}
		sb.WriteString(fullText[start:end])
	}
	return strings.TrimRight(sb.String(), "\n")
}

func boundsOfDocPoly(poly *documentaipb.BoundingPoly) [4]float64 {
	var bbox [4]float64
	if poly == nil {
		return bbox
	}

	// Prefer absolute vertices; fall back to normalized coordinates, which
	// still order correctly for overlap checks within one engine run.
	if len(poly.Vertices) > 0 {
		x0, y0 := float64(poly.Vertices[0].X), float64(poly.Vertices[0].Y)
		x1, y1 := x0, y0
		for _, v := range poly.Vertices[1:] {
			x, y := float64(v.X), float64(v.Y)
			if x < x0 {
				x0 = x
			}
			if y < y0 {
				y0 = y
			}
			if x > x1 {
				x1 = x
			}
			if y > y1 {
				y1 = y
			}
		}
		return [4]float64{x0, y0, x1, y1}
	}

	if len(poly.NormalizedVertices) > 0 {
		x0, y0 := float64(poly.NormalizedVertices[0].X), float64(poly.NormalizedVertices[0].Y)
		x1, y1 := x0, y0
		for _, v := range poly.NormalizedVertices[1:] {
			x, y := float64(v.X), float64(v.Y)
			if x < x0 {
				x0 = x
			}
			if y < y0 {
				y0 = y
			}
			if x > x1 {
				x1 = x
			}
			if y > y1 {
				y1 = y
			}
		}
		return [4]float64{x0, y0, x1, y1}
	}

	return bbox
}

// documentMime picks the mime type for Document AI, defaulting to PDF when
// the header matches and image/png otherwise.
func documentMime(doc Document) string {
	if doc.MimeType != "" {
		return doc.MimeType
	}
	if len(doc.Data) >= 4 && string(doc.Data[:4]) == "%PDF" {
		return "application/pdf"
	}
	return "image/png"
}

// getEnvVar returns the first non-empty value among the named variables.
func getEnvVar(names ...string) string {
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return ""
}
