// Package server exposes the merge pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"medocr/internal/cleanup"
	"medocr/internal/config"
	"medocr/internal/engine"
	"medocr/internal/logger"
	"medocr/internal/pipeline"
	"medocr/internal/store"
)

// MaxUploadSize bounds document uploads.
const MaxUploadSize = 50 * 1024 * 1024

// Server holds the pipeline and its optional collaborators.
type Server struct {
	merger   *pipeline.Merger
	runner   *pipeline.Runner
	engines  []engine.Engine
	cleaner  cleanup.Provider
	store    *store.Store
	domain   string
	log      zerolog.Logger
	httpSrv  *http.Server
	startNow time.Time
}

// New wires up a server. The store and cleaner may be nil.
func New(cfg *config.Config, merger *pipeline.Merger, engines []engine.Engine, cleaner cleanup.Provider, st *store.Store) *Server {
	s := &Server{
		merger:   merger,
		runner:   pipeline.NewRunner(merger, engines),
		engines:  engines,
		cleaner:  cleaner,
		store:    st,
		domain:   cfg.CleanupDomain,
		log:      logger.WithComponent("server"),
		startNow: time.Now(),
	}

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// Routes configures the HTTP routes.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/v1/merge", s.handleMerge).Methods("POST")
	router.HandleFunc("/v1/recognize", s.handleRecognize).Methods("POST")
	router.HandleFunc("/v1/documents", s.handleListDocuments).Methods("GET")
	router.HandleFunc("/v1/documents/{id}", s.handleGetDocument).Methods("GET")

	router.Use(s.requestIDMiddleware)
	return router
}

// ListenAndServe runs the server until the context is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpSrv.Addr).Msg("HTTP server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		next.ServeHTTP(w, r)

		reqLogger := logger.WithRequestID(requestID)
		reqLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// healthResponse reports the server and the per-engine status.
type healthResponse struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Engines map[string]string `json:"engines"`
	Store   bool              `json:"store"`
	Cleanup string            `json:"cleanup,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "healthy",
		Uptime:  time.Since(s.startNow).String(),
		Engines: make(map[string]string, len(s.engines)),
		Store:   s.store != nil,
	}
	if s.cleaner != nil {
		resp.Cleanup = s.cleaner.Name()
	}

	degraded := false
	for _, eng := range s.engines {
		if err := eng.Health(r.Context()); err != nil {
			resp.Engines[eng.Name()] = err.Error()
			degraded = true
		} else {
			resp.Engines[eng.Name()] = "ok"
		}
	}
	if degraded {
		resp.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
}

// mergeRequest is the body of POST /v1/merge: pre-fetched engine outputs for
// one page, to reconcile without contacting any engine.
type mergeRequest struct {
	Page    int            `json:"page"`
	Results []mergeRawItem `json:"results"`
}

type mergeRawItem struct {
	Engine  string          `json:"engine"`
	Format  string          `json:"format,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxUploadSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	raws := make([]*engine.RawResult, 0, len(req.Results))
	for _, item := range req.Results {
		if item.Engine == "" {
			writeError(w, http.StatusBadRequest, "every result needs an engine name")
			return
		}
		raws = append(raws, &engine.RawResult{
			Engine:  item.Engine,
			Page:    req.Page,
			Format:  item.Format,
			Payload: item.Payload,
		})
	}

	report := s.merger.MergePage(req.Page, raws)

	if s.cleaner != nil {
		if err := cleanup.ApplyToPage(r.Context(), s.cleaner, &report.Result, s.domain); err != nil {
			s.log.Warn().Err(err).Msg("Cleanup failed, returning uncorrected text")
		}
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'document' file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	pageCount := 1
	if v := r.FormValue("pages"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &pageCount); err != nil || pageCount < 1 {
			writeError(w, http.StatusBadRequest, "invalid 'pages' value")
			return
		}
	}

	doc := engine.Document{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
		Language: r.FormValue("lang"),
	}

	report, err := s.runner.Run(r.Context(), doc, pageCount)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoEngines) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.cleaner != nil {
		for i := range report.Pages {
			if err := cleanup.ApplyToPage(r.Context(), s.cleaner, &report.Pages[i].Result, s.domain); err != nil {
				s.log.Warn().Err(err).Int("page", i).Msg("Cleanup failed, returning uncorrected text")
			}
		}
	}

	resp := struct {
		ID     string                   `json:"id,omitempty"`
		Report *pipeline.DocumentReport `json:"report"`
	}{Report: report}

	if s.store != nil {
		id, err := s.store.SaveReport(r.Context(), report)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to persist merge report")
		} else {
			resp.ID = id.String()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "no store configured")
		return
	}

	docs, err := s.store.ListRecent(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "no store configured")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := s.store.GetReport(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
