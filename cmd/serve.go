package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"medocr/internal/cleanup"
	"medocr/internal/config"
	"medocr/internal/engine"
	"medocr/internal/logger"
	"medocr/internal/pipeline"
	"medocr/internal/server"
	"medocr/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the merge service as an HTTP server",
	Long: `Start an HTTP server exposing the merge pipeline:

  GET  /health             server and per-engine health
  POST /v1/merge           reconcile pre-fetched engine outputs for one page
  POST /v1/recognize       run an uploaded document through the engine fleet
  GET  /v1/documents       list persisted merge results (requires DATABASE_URL)
  GET  /v1/documents/{id}  fetch one persisted merge result

Host and port come from MEDOCR_HOST and MEDOCR_PORT unless overridden.`,
	Example: `  # Serve on the configured address
  medocr serve

  # Override the port
  medocr serve --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Bind address (overrides MEDOCR_HOST)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides MEDOCR_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}

	engCfg, err := loadEnginesConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	merger, err := pipeline.NewMerger(engCfg)
	if err != nil {
		return fmt.Errorf("invalid merge configuration: %w", err)
	}

	engines, failures := engine.NewFleet(ctx, engCfg.Engines)
	for id, ferr := range failures {
		log.Warn().Str("engine", id).Err(ferr).Msg("Engine unavailable")
	}

	cleaner, err := cleanup.NewProvider(ctx, cfg)
	if err != nil {
		return err
	}

	var st *store.Store
	if cfg.DatabaseURL != "" {
		st, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect store: %w", err)
		}
		defer st.Close()
	}

	log.Info().
		Int("engines", len(engines)).
		Bool("store", st != nil).
		Bool("cleanup", cleaner != nil).
		Msg("Starting merge service")

	return server.New(cfg, merger, engines, cleaner, st).ListenAndServe(ctx)
}
