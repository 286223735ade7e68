package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"medocr/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "medocr",
	Short: "medocr - multi-engine OCR merging for medical documents",
	Long: `medocr runs scanned medical documents through a fleet of OCR engines
and reconciles their outputs into a single result. Overlapping detections
from different engines are grouped by bounding-box overlap, a text is
elected by majority vote with priority fallback, and confidences are
aggregated with an agreement bonus.

Engines are described in a YAML configuration file; local HTTP services,
Google Cloud Vision, and Google Document AI are supported.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("medocr - multi-engine OCR merging")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
	rootCmd.PersistentFlags().String("engines-config", "", "Path to the engines YAML configuration (default: MEDOCR_ENGINES_CONFIG or engines.yaml)")
}
