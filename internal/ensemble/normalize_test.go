package ensemble

import (
	"errors"
	"testing"
)

func TestBlockListNormalizer(t *testing.T) {
	n, err := NormalizerFor("tesseract", FormatBlocks, 1.0)
	if err != nil {
		t.Fatalf("NormalizerFor: %v", err)
	}

	payload := []byte(`[
		{"text": "Amoxicillin", "confidence": 0.92, "bbox": [10, 10, 120, 24]},
		{"text": "500mg", "confidence": 0.87, "bbox": [130, 10, 180, 24]}
	]`)

	blocks, err := n.Normalize(1, payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}

	b := blocks[0]
	if b.Engine != "tesseract" || b.Page != 1 {
		t.Errorf("block identity = (%q, %d), want (tesseract, 1)", b.Engine, b.Page)
	}
	if b.ID != "tesseract-p1-0" || blocks[1].ID != "tesseract-p1-1" {
		t.Errorf("ids not unique per (engine, page): %q, %q", b.ID, blocks[1].ID)
	}
	if b.Text != "Amoxicillin" || !almostEqual(b.Confidence, 0.92) {
		t.Errorf("block = %+v", b)
	}
	if b.BBox != (Rect{10, 10, 120, 24}) {
		t.Errorf("bbox = %v", b.BBox)
	}
}

func TestBlockListNormalizerEnvelope(t *testing.T) {
	n, _ := NormalizerFor("paddle", FormatBlocks, 1.0)

	payload := []byte(`{"engine": "paddle", "page": 2, "blocks": [
		{"text": "BP 120/80", "confidence": 0.8, "bbox": [0, 0, 90, 14]}
	]}`)

	blocks, err := n.Normalize(2, payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Page != 2 {
		t.Fatalf("envelope form not unwrapped: %+v", blocks)
	}
}

func TestBlockListNormalizerDefaults(t *testing.T) {
	n, _ := NormalizerFor("marker", FormatBlocks, 0.75)

	// Missing confidence falls back to the configured default; percentage
	// confidences are rescaled; polygon-only blocks derive a bbox.
	payload := []byte(`[
		{"text": "no score", "bbox": [0, 0, 10, 10]},
		{"text": "percent", "confidence": 87, "bbox": [0, 20, 10, 30]},
		{"text": "poly", "confidence": 0.5, "polygon": [[0, 40], [10, 40], [10, 50], [0, 50]]}
	]`)

	blocks, err := n.Normalize(1, payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !almostEqual(blocks[0].Confidence, 0.75) {
		t.Errorf("missing confidence = %v, want default 0.75", blocks[0].Confidence)
	}
	if !almostEqual(blocks[1].Confidence, 0.87) {
		t.Errorf("percentage confidence = %v, want 0.87", blocks[1].Confidence)
	}
	if blocks[2].BBox != (Rect{0, 40, 10, 50}) {
		t.Errorf("polygon bbox = %v, want [0 40 10 50]", blocks[2].BBox)
	}
}

func TestBlockListNormalizerMalformed(t *testing.T) {
	n, _ := NormalizerFor("tesseract", FormatBlocks, 1.0)

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `<html>error</html>`},
		{"empty", ``},
		{"missing geometry", `[{"text": "orphan", "confidence": 0.9}]`},
		{"envelope without blocks", `{"engine": "tesseract", "page": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(1, []byte(tt.payload))
			if !errors.Is(err, ErrMalformedOutput) {
				t.Errorf("Normalize(%q) error = %v, want ErrMalformedOutput", tt.name, err)
			}
		})
	}
}

func TestEasyOCRNormalizer(t *testing.T) {
	n, err := NormalizerFor("easyocr", FormatEasyOCR, 1.0)
	if err != nil {
		t.Fatalf("NormalizerFor: %v", err)
	}

	payload := []byte(`[
		[[[10, 10], [60, 10], [60, 20], [10, 20]], "500mg", 0.83],
		[[[10, 30], [80, 30], [80, 44], [10, 44]], " twice daily ", 0.91]
	]`)

	blocks, err := n.Normalize(1, payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].BBox != (Rect{10, 10, 60, 20}) {
		t.Errorf("bbox from polygon = %v", blocks[0].BBox)
	}
	if blocks[1].Text != "twice daily" {
		t.Errorf("text = %q, want trimmed", blocks[1].Text)
	}
	if len(blocks[0].Polygon) != 4 {
		t.Errorf("polygon not preserved: %v", blocks[0].Polygon)
	}
}

func TestEasyOCRNormalizerMalformed(t *testing.T) {
	n, _ := NormalizerFor("easyocr", FormatEasyOCR, 1.0)

	if _, err := n.Normalize(1, []byte(`[{"text": "wrong shape"}]`)); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("error = %v, want ErrMalformedOutput", err)
	}
	if _, err := n.Normalize(1, []byte(`[[["bad"], "text", 0.5]]`)); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("error = %v, want ErrMalformedOutput", err)
	}
}

func TestTextNormalizer(t *testing.T) {
	n, err := NormalizerFor("docling", FormatText, 0.9)
	if err != nil {
		t.Fatalf("NormalizerFor: %v", err)
	}

	blocks, err := n.Normalize(1, []byte("# Prescription\n\nAmoxicillin 500mg\n"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1 full-page block", len(blocks))
	}
	if blocks[0].BBox.Area() <= 0 {
		t.Error("full-page block must have positive area, or it would be dropped")
	}
	if !almostEqual(blocks[0].Confidence, 0.9) {
		t.Errorf("confidence = %v, want default", blocks[0].Confidence)
	}

	empty, err := n.Normalize(1, []byte("   \n"))
	if err != nil || len(empty) != 0 {
		t.Errorf("blank payload: blocks=%v err=%v, want none", empty, err)
	}
}

func TestNormalizerForUnknownFormat(t *testing.T) {
	if _, err := NormalizerFor("mystery", "hocr", 1.0); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("error = %v, want ErrUnknownFormat", err)
	}
}

func TestNormalizedText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"INR", "inr"},
		{"  Take   Daily ", "take daily"},
		{"500mg\ttwice\ndaily", "500mg twice daily"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizedText(tt.in); got != tt.want {
			t.Errorf("NormalizedText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
