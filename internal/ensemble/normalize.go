package ensemble

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Output formats produced by the supported engine families.
const (
	// FormatBlocks is the common line-level block list emitted by the
	// tesseract, paddle, surya, doctr and related services: either a bare
	// JSON array of {text, confidence, bbox} objects or that array wrapped
	// in {"engine", "page", "blocks"}.
	FormatBlocks = "blocks"

	// FormatEasyOCR is the [[polygon, text, confidence], ...] triple list
	// produced by easyocr-style readers.
	FormatEasyOCR = "easyocr"

	// FormatText is plain text with no geometry (markdown-oriented engines
	// such as marker or docling). The whole payload becomes one full-page
	// block at the default confidence.
	FormatText = "text"
)

// Default page box for text-only engines that report no geometry
// (US letter at 72 dpi).
var defaultPageBox = Rect{X0: 0, Y0: 0, X1: 612, Y1: 792}

// Normalizer converts one engine's raw output for one page into the unified
// block schema. Implementations are pure transforms: a failed payload yields
// ErrMalformedOutput and must not affect other engines.
type Normalizer interface {
	// Engine returns the id of the engine this normalizer handles.
	Engine() string

	// Normalize parses one page's raw payload into Blocks.
	Normalize(page int, raw []byte) ([]Block, error)
}

// NormalizerFor selects the normalizer implementation for an engine by its
// declared output format.
func NormalizerFor(engine, format string, defaultConfidence float64) (Normalizer, error) {
	switch format {
	case FormatBlocks, "":
		return &blockListNormalizer{engine: engine, defaultConfidence: defaultConfidence}, nil
	case FormatEasyOCR:
		return &easyOCRNormalizer{engine: engine, defaultConfidence: defaultConfidence}, nil
	case FormatText:
		return &textNormalizer{engine: engine, defaultConfidence: defaultConfidence, pageBox: defaultPageBox}, nil
	default:
		return nil, NewEnsembleError("NormalizerFor", engine, ErrUnknownFormat, fmt.Sprintf("format %q", format))
	}
}

// blockListNormalizer parses the common {text, confidence, bbox} block list.
type blockListNormalizer struct {
	engine            string
	defaultConfidence float64
}

// rawBlock mirrors one element of the engine block list. Confidence is a
// pointer so a missing field can fall back to the configured default.
type rawBlock struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
	BBox       *Rect    `json:"bbox"`
	Polygon    []Point  `json:"polygon,omitempty"`
}

// rawEnvelope is the wrapped form {"engine", "page", "blocks": [...]}.
type rawEnvelope struct {
	Engine string          `json:"engine"`
	Page   int             `json:"page"`
	Blocks json.RawMessage `json:"blocks"`
}

func (n *blockListNormalizer) Engine() string { return n.engine }

func (n *blockListNormalizer) Normalize(page int, raw []byte) ([]Block, error) {
	const op = "Normalize"

	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, NewEnsembleError(op, n.engine, ErrMalformedOutput, "empty payload")
	}

	// Unwrap the envelope form if present.
	if payload[0] == '{' {
		var env rawEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, NewEnsembleError(op, n.engine, ErrMalformedOutput, err.Error())
		}
		if len(env.Blocks) == 0 {
			return nil, NewEnsembleError(op, n.engine, ErrMalformedOutput, "missing blocks field")
		}
		payload = env.Blocks
	}

	var rawBlocks []rawBlock
	if err := json.Unmarshal(payload, &rawBlocks); err != nil {
		return nil, NewEnsembleError(op, n.engine, ErrMalformedOutput, err.Error())
	}

	blocks := make([]Block, 0, len(rawBlocks))
	for i, rb := range rawBlocks {
		var bbox Rect
		switch {
		case rb.BBox != nil:
			bbox = rb.BBox.Canon()
		case len(rb.Polygon) > 0:
			bbox = PolygonBounds(rb.Polygon)
		default:
			return nil, NewEnsembleError(op, n.engine, ErrMalformedOutput,
				fmt.Sprintf("block %d has neither bbox nor polygon", i))
		}

		blocks = append(blocks, Block{
			ID:         blockID(n.engine, page, i),
			Engine:     n.engine,
			Page:       page,
			Text:       rb.Text,
			Confidence: normalizeConfidence(rb.Confidence, n.defaultConfidence),
			BBox:       bbox,
			Polygon:    rb.Polygon,
		})
	}

	return blocks, nil
}

// easyOCRNormalizer parses [[polygon, text, confidence], ...] triples.
type easyOCRNormalizer struct {
	engine            string
	defaultConfidence float64
}

func (n *easyOCRNormalizer) Engine() string { return n.engine }

func (n *easyOCRNormalizer) Normalize(page int, raw []byte) ([]Block, error) {
	const op = "Normalize"

	var items [][]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, NewEnsembleError(op, n.engine, ErrMalformedOutput, err.Error())
	}

	blocks := make([]Block, 0, len(items))
	for i, item := range items {
		if len(item) < 2 {
			return nil, NewEnsembleError(op, n.engine, ErrMalformedOutput,
				fmt.Sprintf("detection %d has %d elements, want polygon and text", i, len(item)))
		}

		var polygon []Point
		if err := json.Unmarshal(item[0], &polygon); err != nil {
			return nil, NewEnsembleError(op, n.engine, ErrMalformedOutput,
				fmt.Sprintf("detection %d polygon: %v", i, err))
		}

		var text string
		if err := json.Unmarshal(item[1], &text); err != nil {
			return nil, NewEnsembleError(op, n.engine, ErrMalformedOutput,
				fmt.Sprintf("detection %d text: %v", i, err))
		}

		var confidence *float64
		if len(item) > 2 {
			var conf float64
			if err := json.Unmarshal(item[2], &conf); err != nil {
				return nil, NewEnsembleError(op, n.engine, ErrMalformedOutput,
					fmt.Sprintf("detection %d confidence: %v", i, err))
			}
			confidence = &conf
		}

		blocks = append(blocks, Block{
			ID:         blockID(n.engine, page, i),
			Engine:     n.engine,
			Page:       page,
			Text:       strings.TrimSpace(text),
			Confidence: normalizeConfidence(confidence, n.defaultConfidence),
			BBox:       PolygonBounds(polygon),
			Polygon:    polygon,
		})
	}

	return blocks, nil
}

// textNormalizer handles engines that emit plain text with no geometry.
type textNormalizer struct {
	engine            string
	defaultConfidence float64
	pageBox           Rect
}

func (n *textNormalizer) Engine() string { return n.engine }

func (n *textNormalizer) Normalize(page int, raw []byte) ([]Block, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, nil
	}

	return []Block{{
		ID:         blockID(n.engine, page, 0),
		Engine:     n.engine,
		Page:       page,
		Text:       text,
		Confidence: n.defaultConfidence,
		BBox:       n.pageBox,
	}}, nil
}

// blockID builds the per-(engine, page) unique identifier.
func blockID(engine string, page, index int) string {
	return fmt.Sprintf("%s-p%d-%d", engine, page, index)
}

// normalizeConfidence clamps a reported confidence into [0, 1]. Percentage
// scores (tesseract reports 0-100) are rescaled; a missing score falls back
// to the default.
func normalizeConfidence(conf *float64, fallback float64) float64 {
	if conf == nil {
		return fallback
	}
	c := *conf
	if c > 1.0 {
		c = c / 100.0
	}
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// NormalizedText is the case- and whitespace-insensitive form used for text
// agreement between engines.
func NormalizedText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
