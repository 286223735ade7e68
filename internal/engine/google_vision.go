package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"medocr/internal/config"
	"medocr/internal/ensemble"
)

const (
	// MaxVisionFileBytes is the Vision API limit for synchronous file requests.
	MaxVisionFileBytes = 20 * 1024 * 1024
)

// VisionEngine runs document text detection through the Google Cloud Vision
// API and emits block-list payloads compatible with the normalizer.
type VisionEngine struct {
	id     string
	client *vision.ImageAnnotatorClient
}

// NewVisionEngine creates a Vision-backed engine with credentials from the
// environment. It expects either GOOGLE_CREDENTIALS JSON or a
// GOOGLE_APPLICATION_CREDENTIALS path; application default credentials are the
// fallback.
func NewVisionEngine(ctx context.Context, spec config.EngineSpec) (*VisionEngine, error) {
	const op = "NewVisionEngine"

	var client *vision.ImageAnnotatorClient
	var err error

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, WrapEngineError(op, spec.ID, err, "failed to create client with GOOGLE_CREDENTIALS")
		}
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(credFile))
		if err != nil {
			return nil, WrapEngineError(op, spec.ID, err, "failed to create client with GOOGLE_APPLICATION_CREDENTIALS")
		}
	} else {
		client, err = vision.NewImageAnnotatorClient(ctx)
		if err != nil {
			return nil, WrapEngineError(op, spec.ID, ErrMissingCredentials, "no credentials found in environment")
		}
	}

	return &VisionEngine{id: spec.ID, client: client}, nil
}

// NewVisionEngineWithClient creates a Vision engine with an explicit client
// (for testing).
func NewVisionEngineWithClient(id string, client *vision.ImageAnnotatorClient) *VisionEngine {
	return &VisionEngine{id: id, client: client}
}

// Name returns the engine id.
func (e *VisionEngine) Name() string { return e.id }

// Health checks that a client exists. The Vision API has no health endpoint;
// credential problems surface on the first Recognize call.
func (e *VisionEngine) Health(ctx context.Context) error {
	if e.client == nil {
		return WrapEngineError("Health", e.id, ErrUnhealthy, "client not initialized")
	}
	return nil
}

// Recognize sends the document through document text detection. PDF and TIFF
// documents go through the file annotation path, everything else is treated
// as a single image.
func (e *VisionEngine) Recognize(ctx context.Context, doc Document) (*RawResult, error) {
	const op = "Recognize"

	if len(doc.Data) > MaxVisionFileBytes {
		return nil, WrapEngineError(op, e.id, ErrDocumentTooLarge,
			fmt.Sprintf("%d bytes", len(doc.Data)))
	}

	var blocks []visionBlock
	var err error
	if isFileMime(doc.MimeType, doc.Data) {
		blocks, err = e.annotateFile(ctx, doc)
	} else {
		blocks, err = e.annotateImage(ctx, doc)
	}
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(blocks)
	if err != nil {
		return nil, WrapEngineError(op, e.id, err, "failed to encode blocks")
	}

	return &RawResult{
		Engine:  e.id,
		Page:    doc.Page,
		Format:  ensemble.FormatBlocks,
		Payload: payload,
	}, nil
}

// Close closes the underlying Vision client.
func (e *VisionEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// visionBlock is the wire shape the normalizer's block-list format expects.
type visionBlock struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

func (e *VisionEngine) annotateFile(ctx context.Context, doc Document) ([]visionBlock, error) {
	const op = "annotateFile"

	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  doc.Data,
					MimeType: fileMime(doc.MimeType, doc.Data),
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := e.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.Responses) == 0 {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed, "no response from Vision API")
	}

	fileResp := resp.Responses[0]
	if fileResp.Error != nil {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed, fmt.Sprintf("Vision API error: %s", fileResp.Error.Message))
	}

	// doc.Page is 1-based; Vision file responses are one entry per page.
	idx := doc.Page - 1
	if idx < 0 || idx >= len(fileResp.Responses) {
		return nil, WrapEngineError(op, e.id, ErrPageOutOfRange,
			fmt.Sprintf("page %d of %d", doc.Page, len(fileResp.Responses)))
	}

	pageResp := fileResp.Responses[idx]
	if pageResp.Error != nil {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed,
			fmt.Sprintf("error on page %d: %s", doc.Page, pageResp.Error.Message))
	}

	return blocksFromAnnotation(pageResp.FullTextAnnotation), nil
}

func (e *VisionEngine) annotateImage(ctx context.Context, doc Document) ([]visionBlock, error) {
	const op = "annotateImage"

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: doc.Data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := e.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.Responses) == 0 {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed, "no response from Vision API")
	}

	imgResp := resp.Responses[0]
	if imgResp.Error != nil {
		return nil, WrapEngineError(op, e.id, ErrRecognitionFailed, fmt.Sprintf("Vision API error: %s", imgResp.Error.Message))
	}

	return blocksFromAnnotation(imgResp.FullTextAnnotation), nil
}

// blocksFromAnnotation walks the full text annotation down to paragraph level
// and emits one block per paragraph with its bounding box and confidence.
func blocksFromAnnotation(annotation *visionpb.TextAnnotation) []visionBlock {
	blocks := []visionBlock{}
	if annotation == nil {
		return blocks
	}

	for _, page := range annotation.Pages {
		for _, block := range page.Blocks {
			for _, paragraph := range block.Paragraphs {
				text := paragraphText(paragraph)
				if strings.TrimSpace(text) == "" {
					continue
				}
				blocks = append(blocks, visionBlock{
					Text:       text,
					Confidence: float64(paragraph.Confidence),
					BBox:       boundsOfPoly(paragraph.BoundingBox),
				})
			}
		}
	}

	return blocks
}

// paragraphText reassembles a paragraph from its symbols, honoring the
// detected break types.
func paragraphText(paragraph *visionpb.Paragraph) string {
	var sb strings.Builder
	for _, word := range paragraph.Words {
		for _, symbol := range word.Symbols {
			sb.WriteString(symbol.Text)
			if symbol.Property != nil && symbol.Property.DetectedBreak != nil {
				switch symbol.Property.DetectedBreak.Type {
				case visionpb.TextAnnotation_DetectedBreak_SPACE,
					visionpb.TextAnnotation_DetectedBreak_SURE_SPACE:
					sb.WriteString(" ")
				case visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE,
					visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
					sb.WriteString("\n")
				}
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func boundsOfPoly(poly *visionpb.BoundingPoly) [4]float64 {
	var bbox [4]float64
	if poly == nil || len(poly.Vertices) == 0 {
		return bbox
	}

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

// isFileMime reports whether the document should use the file annotation path
// (PDF or TIFF) rather than image annotation.
func isFileMime(mimeType string, data []byte) bool {
	switch mimeType {
	case "application/pdf", "image/tiff":
		return true
	}
	return len(data) >= 4 && string(data[:4]) == "%PDF"
}

func fileMime(mimeType string, data []byte) string {
	if mimeType != "" {
		return mimeType
	}
	if len(data) >= 4 && string(data[:4]) == "%PDF" {
		return "application/pdf"
	}
	return "image/tiff"
}
