package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"medocr/internal/cleanup"
	"medocr/internal/config"
	"medocr/internal/engine"
	"medocr/internal/logger"
	"medocr/internal/pipeline"
	"medocr/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run [document-file]",
	Short: "Recognize a document with the engine fleet and merge the results",
	Long: `Send a document to every configured OCR engine, reconcile the per-page
outputs into merged block lists, and print the result as JSON.

Engines that fail are skipped; the merge uses whatever output came back.
With a cleanup provider configured (CLEANUP_PROVIDER=openai or gemini),
the elected texts are additionally corrected with a language model. With
DATABASE_URL set, the report is also persisted.`,
	Example: `  # Recognize a scanned prescription
  medocr run prescription.png

  # A multi-page PDF, merging each page
  medocr run referral.pdf --pages 4 -o merged.json

  # German lab report with a custom timeout
  medocr run befund.pdf --lang de --timeout 600`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	runCmd.Flags().Int("pages", 1, "Number of pages to process")
	runCmd.Flags().String("lang", "en", "Document language hint passed to the engines")
	runCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
	runCmd.Flags().Bool("no-cleanup", false, "Skip language-model text cleanup even when configured")
	runCmd.Flags().Bool("pretty", true, "Indent the JSON output")
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("run")

	outputPath, _ := cmd.Flags().GetString("output")
	pages, _ := cmd.Flags().GetInt("pages")
	lang, _ := cmd.Flags().GetString("lang")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	noCleanup, _ := cmd.Flags().GetBool("no-cleanup")
	pretty, _ := cmd.Flags().GetBool("pretty")

	docPath := args[0]
	data, err := os.ReadFile(docPath)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("document is empty: %s", docPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	engCfg, err := loadEnginesConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(time.Duration(timeoutSecs) * time.Second)
	defer cancel()

	merger, err := pipeline.NewMerger(engCfg)
	if err != nil {
		return fmt.Errorf("invalid merge configuration: %w", err)
	}

	engines, failures := engine.NewFleet(ctx, engCfg.Engines)
	for id, ferr := range failures {
		log.Warn().Str("engine", id).Err(ferr).Msg("Engine unavailable")
	}
	if len(engines) == 0 {
		return fmt.Errorf("no engines could be initialized")
	}

	log.Info().
		Str("file", docPath).
		Int("pages", pages).
		Int("engines", len(engines)).
		Msg("Starting recognition")

	runner := pipeline.NewRunner(merger, engines)
	report, err := runner.Run(ctx, engine.Document{
		Filename: filepath.Base(docPath),
		Data:     data,
		Language: lang,
	}, pages)
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	if !noCleanup {
		cleaner, err := cleanup.NewProvider(ctx, cfg)
		if err != nil {
			return err
		}
		if cleaner != nil {
			for i := range report.Pages {
				if err := cleanup.ApplyToPage(ctx, cleaner, &report.Pages[i].Result, cfg.CleanupDomain); err != nil {
					log.Warn().Err(err).Int("page", i).Msg("Cleanup failed, keeping uncorrected text")
				}
			}
		}
	}

	if cfg.DatabaseURL != "" {
		st, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("Store unavailable, result not persisted")
		} else {
			defer st.Close()
			if id, err := st.SaveReport(ctx, report); err != nil {
				log.Warn().Err(err).Msg("Failed to persist report")
			} else {
				log.Info().Str("id", id.String()).Msg("Report persisted")
			}
		}
	}

	total := 0
	for _, p := range report.Pages {
		total += len(p.Result.MergedBlocks)
	}
	log.Info().
		Int("pages", len(report.Pages)).
		Int("merged_blocks", total).
		Msg("Recognition completed")

	return writeReport(report, outputPath, pretty)
}

// signalContext returns a context canceled by SIGINT/SIGTERM or the timeout.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			sigLogger := logger.GetLogger()
			sigLogger.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
