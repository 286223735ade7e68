package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"medocr/internal/config"
	"medocr/internal/engine"
	"medocr/internal/ensemble"
	"medocr/internal/logger"
	"medocr/internal/pipeline"
)

var mergeCmd = &cobra.Command{
	Use:   "merge [result-file...]",
	Short: "Merge saved engine outputs into one block list",
	Long: `Reconcile raw OCR results that were saved to disk, one JSON file per
engine, without contacting any engine service.

Each file holds one engine's output for a single page. The engine id is
taken from the file name (tesseract.json -> tesseract) unless the file
carries an {"engine": ...} envelope. Formats are looked up in the engines
configuration; unknown engines default to the block-list format.`,
	Example: `  # Merge three engines' saved outputs for one page
  medocr merge tesseract.json surya.json easyocr.json

  # Write the merged result to a file
  medocr merge results/*.json -o merged.json

  # Merge page 3 of a multi-page document
  medocr merge --page 3 tesseract.json surya.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	mergeCmd.Flags().Int("page", 1, "Page number the results belong to (1-based)")
	mergeCmd.Flags().Bool("pretty", true, "Indent the JSON output")
}

func runMerge(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("merge")

	outputPath, _ := cmd.Flags().GetString("output")
	page, _ := cmd.Flags().GetInt("page")
	pretty, _ := cmd.Flags().GetBool("pretty")

	engCfg, err := loadEnginesConfig(cmd)
	if err != nil {
		return err
	}

	merger, err := pipeline.NewMerger(engCfg)
	if err != nil {
		return fmt.Errorf("invalid merge configuration: %w", err)
	}

	formats := make(map[string]string, len(engCfg.Engines))
	for _, spec := range engCfg.Engines {
		formats[spec.ID] = spec.Format
	}

	raws := make([]*engine.RawResult, 0, len(args))
	for _, path := range args {
		payload, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		engineID := engineIDFromFile(path, payload)
		format := formats[engineID]
		if format == "" {
			format = ensemble.FormatBlocks
		}

		raws = append(raws, &engine.RawResult{
			Engine:  engineID,
			Page:    page,
			Format:  format,
			Payload: payload,
		})
	}

	start := time.Now()
	report := merger.MergePage(page, raws)

	log.Info().
		Int("inputs", len(raws)).
		Int("merged_blocks", len(report.Result.MergedBlocks)).
		Int("failures", len(report.Failures)).
		Dur("duration", time.Since(start)).
		Msg("Merge completed")

	for _, f := range report.Failures {
		fmt.Fprintf(os.Stderr, "warning: %s excluded: %s\n", f.Engine, f.Reason)
	}

	return writeReport(report, outputPath, pretty)
}

// engineIDFromFile resolves the engine id for a saved result, preferring an
// explicit envelope over the file name.
func engineIDFromFile(path string, payload []byte) string {
	var envelope struct {
		Engine string `json:"engine"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Engine != "" {
		return envelope.Engine
	}

	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func writeReport(v interface{}, outputPath string, pretty bool) error {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	data = append(data, '\n')

	if outputPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// loadEnginesConfig resolves the engines configuration path from the flag,
// the environment, or the default file.
func loadEnginesConfig(cmd *cobra.Command) (*config.EnginesConfig, error) {
	path, _ := cmd.Flags().GetString("engines-config")
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		path = cfg.EnginesConfigPath
	}

	engCfg, err := config.LoadEngines(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load engines configuration from %s: %w", path, err)
	}
	return engCfg, nil
}
