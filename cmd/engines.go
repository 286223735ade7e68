package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"medocr/internal/engine"
	"medocr/internal/logger"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List the configured engines and check their health",
	Long: `Read the engines configuration, initialize each engine adapter, and
probe its health endpoint. Engines that cannot be initialized or do not
respond are reported but do not fail the command.`,
	Example: `  # Check the default configuration
  medocr engines

  # Check a specific fleet
  medocr engines --engines-config deploy/engines.yaml`,
	Args: cobra.NoArgs,
	RunE: runEngines,
}

func init() {
	rootCmd.AddCommand(enginesCmd)

	enginesCmd.Flags().Int("timeout", 15, "Health check timeout in seconds")
}

func runEngines(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("engines")

	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	engCfg, err := loadEnginesConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	engines, failures := engine.NewFleet(ctx, engCfg.Engines)

	type status struct {
		id   string
		kind string
		err  error
	}
	statuses := make([]status, 0, len(engCfg.Engines))

	// Probe the healthy constructions concurrently.
	var mu sync.Mutex
	var wg sync.WaitGroup
	health := make(map[string]error, len(engines))
	for _, eng := range engines {
		eng := eng
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := eng.Health(ctx)
			mu.Lock()
			health[eng.Name()] = err
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, spec := range engCfg.Engines {
		if ferr, ok := failures[spec.ID]; ok {
			statuses = append(statuses, status{id: spec.ID, kind: spec.Kind, err: ferr})
			continue
		}
		statuses = append(statuses, status{id: spec.ID, kind: spec.Kind, err: health[spec.ID]})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENGINE\tKIND\tSTATUS")
	healthy := 0
	for _, s := range statuses {
		if s.err == nil {
			fmt.Fprintf(w, "%s\t%s\tok\n", s.id, s.kind)
			healthy++
		} else {
			fmt.Fprintf(w, "%s\t%s\t%v\n", s.id, s.kind, s.err)
		}
	}
	w.Flush()

	log.Info().
		Int("healthy", healthy).
		Int("total", len(statuses)).
		Msg("Engine health check completed")

	fmt.Printf("\n%d/%d engines healthy (priority: %v)\n", healthy, len(statuses), engCfg.EnginePriority)
	return nil
}
