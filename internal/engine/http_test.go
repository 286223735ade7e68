package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"medocr/internal/config"
	"medocr/internal/ensemble"
)

func newTestService(t *testing.T, handler http.Handler) (*httptest.Server, *HTTPEngine) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	eng := NewHTTPEngine(config.EngineSpec{
		ID:     "tesseract",
		Kind:   config.KindHTTP,
		URL:    ts.URL,
		Format: ensemble.FormatBlocks,
	})
	return ts, eng
}

func TestHTTPEngineHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "engine": "tesseract"})
	})

	_, eng := newTestService(t, mux)

	if err := eng.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

func TestHTTPEngineHealthNotOK(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": "model not loaded"})
	})

	_, eng := newTestService(t, mux)

	if err := eng.Health(context.Background()); !errors.Is(err, ErrUnhealthy) {
		t.Errorf("Health() error = %v, want ErrUnhealthy", err)
	}
}

func TestHTTPEngineHealthServerDown(t *testing.T) {
	ts, eng := newTestService(t, http.NewServeMux())
	ts.Close()

	if err := eng.Health(context.Background()); !errors.Is(err, ErrUnhealthy) {
		t.Errorf("Health() error = %v, want ErrUnhealthy", err)
	}
}

func TestHTTPEngineRecognize(t *testing.T) {
	blocks := []map[string]interface{}{
		{"text": "Aspirin 100mg", "confidence": 0.93, "bbox": []float64{10, 10, 120, 25}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ocr", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("image"); err != nil {
			http.Error(w, "missing image", http.StatusBadRequest)
			return
		}
		if lang := r.FormValue("lang"); lang != "de" {
			http.Error(w, "wrong lang: "+lang, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(blocks)
	})

	_, eng := newTestService(t, mux)

	raw, err := eng.Recognize(context.Background(), Document{
		Filename: "rx.png",
		Data:     []byte("fake image"),
		Page:     1,
		Language: "de",
	})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}

	if raw.Engine != "tesseract" {
		t.Errorf("Engine = %q", raw.Engine)
	}
	if raw.Page != 1 {
		t.Errorf("Page = %d, want 1", raw.Page)
	}
	if raw.Format != ensemble.FormatBlocks {
		t.Errorf("Format = %q", raw.Format)
	}

	var got []map[string]interface{}
	if err := json.Unmarshal(raw.Payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if len(got) != 1 || got[0]["text"] != "Aspirin 100mg" {
		t.Errorf("payload = %s", raw.Payload)
	}
}

func TestHTTPEngineRecognizeServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ocr", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine crashed", http.StatusInternalServerError)
	})

	_, eng := newTestService(t, mux)

	_, err := eng.Recognize(context.Background(), Document{Filename: "a.png", Data: []byte("x")})
	if !errors.Is(err, ErrRecognitionFailed) {
		t.Errorf("Recognize() error = %v, want ErrRecognitionFailed", err)
	}
}

func TestHTTPEngineRecognizeTooLarge(t *testing.T) {
	_, eng := newTestService(t, http.NewServeMux())

	_, err := eng.Recognize(context.Background(), Document{
		Filename: "huge.pdf",
		Data:     make([]byte, MaxUploadBytes+1),
	})
	if !errors.Is(err, ErrDocumentTooLarge) {
		t.Errorf("Recognize() error = %v, want ErrDocumentTooLarge", err)
	}
}

func TestNewFleetIsolatesFailures(t *testing.T) {
	specs := []config.EngineSpec{
		{ID: "tesseract", Kind: config.KindHTTP, URL: "http://localhost:8089"},
		{ID: "bogus", Kind: "does-not-exist"},
	}

	engines, failures := NewFleet(context.Background(), specs)

	if len(engines) != 1 || engines[0].Name() != "tesseract" {
		t.Errorf("engines = %v", engines)
	}
	if _, ok := failures["bogus"]; !ok {
		t.Errorf("failures = %v, want entry for bogus", failures)
	}
}
