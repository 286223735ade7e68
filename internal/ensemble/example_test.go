package ensemble_test

import (
	"fmt"
	"log"

	"medocr/internal/ensemble"
)

// Example demonstrates reconciling overlapping detections from two engines.
func Example() {
	opts := ensemble.DefaultOptions()
	opts.EnginePriority = []string{"surya", "tesseract"}

	reconciler, err := ensemble.NewReconciler(opts)
	if err != nil {
		log.Fatalf("Failed to create reconciler: %v", err)
	}

	blocks := []ensemble.Block{
		{
			ID:         "surya-p1-0",
			Engine:     "surya",
			Text:       "Amoxicillin 500mg",
			Confidence: 0.95,
			BBox:       ensemble.Rect{X0: 10, Y0: 10, X1: 200, Y1: 30},
		},
		{
			ID:         "tesseract-p1-0",
			Engine:     "tesseract",
			Text:       "Amoxicillin 500mg",
			Confidence: 0.85,
			BBox:       ensemble.Rect{X0: 11, Y0: 10, X1: 201, Y1: 30},
		},
	}

	result := reconciler.ReconcilePage(1, blocks)

	for _, merged := range result.MergedBlocks {
		fmt.Printf("%s (%.2f, %d engines)\n", merged.Text, merged.Confidence, len(merged.Members))
	}
	// Output:
	// Amoxicillin 500mg (0.95, 2 engines)
}

// Example_normalizer demonstrates parsing a raw engine payload into blocks.
func Example_normalizer() {
	normalizer, err := ensemble.NormalizerFor("tesseract", ensemble.FormatBlocks, 1.0)
	if err != nil {
		log.Fatalf("Failed to create normalizer: %v", err)
	}

	payload := []byte(`[{"text": "Take twice daily", "confidence": 0.9, "bbox": [10, 40, 180, 55]}]`)

	blocks, err := normalizer.Normalize(1, payload)
	if err != nil {
		log.Fatalf("Failed to normalize: %v", err)
	}

	for _, b := range blocks {
		fmt.Printf("%s: %q\n", b.Engine, b.Text)
	}
	// Output:
	// tesseract: "Take twice daily"
}

// Example_priorityFallback shows text election falling back to engine
// priority when no majority exists.
func Example_priorityFallback() {
	opts := ensemble.DefaultOptions()
	opts.EnginePriority = []string{"surya", "tesseract", "easyocr"}

	reconciler, err := ensemble.NewReconciler(opts)
	if err != nil {
		log.Fatalf("Failed to create reconciler: %v", err)
	}

	// Three engines, three different readings: no majority, so the
	// highest-priority engine's text wins.
	box := ensemble.Rect{X0: 10, Y0: 10, X1: 60, Y1: 22}
	blocks := []ensemble.Block{
		{ID: "easyocr-p1-0", Engine: "easyocr", Text: "lNR 2.5", Confidence: 0.7, BBox: box},
		{ID: "surya-p1-0", Engine: "surya", Text: "INR 2.5", Confidence: 0.9, BBox: box},
		{ID: "tesseract-p1-0", Engine: "tesseract", Text: "1NR 2.5", Confidence: 0.8, BBox: box},
	}

	result := reconciler.ReconcilePage(1, blocks)
	fmt.Println(result.MergedBlocks[0].Text)
	// Output:
	// INR 2.5
}
