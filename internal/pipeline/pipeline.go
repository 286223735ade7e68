// Package pipeline connects the engine fleet to the ensemble core. It fans a
// document out to every configured engine, normalizes whatever comes back,
// and reconciles each page into a single merged block list.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"medocr/internal/config"
	"medocr/internal/engine"
	"medocr/internal/ensemble"
	"medocr/internal/logger"
)

// DefaultPageConcurrency bounds how many pages are merged in parallel.
const DefaultPageConcurrency = 4

// EngineFailure records why one engine's output was excluded from a merge.
type EngineFailure struct {
	Engine string `json:"engine"`
	Reason string `json:"reason"`
}

// MergeReport is the outcome of merging one page: the reconciled blocks plus
// the engines whose output had to be discarded.
type MergeReport struct {
	Result   ensemble.PageResult `json:"result"`
	Failures []EngineFailure     `json:"failures,omitempty"`
}

// DocumentReport is the outcome of merging a whole document.
type DocumentReport struct {
	Filename string        `json:"filename,omitempty"`
	Pages    []MergeReport `json:"pages"`
	Engines  []string      `json:"engines"`
}

// Merger holds the reconciliation options and per-engine normalizers.
type Merger struct {
	opts        ensemble.Options
	reconciler  *ensemble.Reconciler
	normalizers map[string]ensemble.Normalizer
	log         zerolog.Logger
}

// NewMerger builds a Merger from the engines configuration. Option validation
// fails fast; a bad threshold or duplicate priority entry is a deployment
// mistake, not a per-request condition.
func NewMerger(cfg *config.EnginesConfig) (*Merger, error) {
	opts := cfg.MergeOptions()

	reconciler, err := ensemble.NewReconciler(opts)
	if err != nil {
		return nil, err
	}

	normalizers := make(map[string]ensemble.Normalizer, len(cfg.Engines))
	for _, spec := range cfg.Engines {
		format := spec.Format
		if format == "" {
			format = ensemble.FormatBlocks
		}
		n, err := ensemble.NormalizerFor(spec.ID, format, cfg.DefaultConfidence)
		if err != nil {
			return nil, fmt.Errorf("engine %q: %w", spec.ID, err)
		}
		normalizers[spec.ID] = n
	}

	return &Merger{
		opts:        opts,
		reconciler:  reconciler,
		normalizers: normalizers,
		log:         logger.WithComponent("pipeline"),
	}, nil
}

// MergePage normalizes the raw payloads for one page and reconciles them.
// A payload the normalizer rejects excludes only that engine; the merge
// proceeds with whatever parsed.
func (m *Merger) MergePage(page int, raws []*engine.RawResult) MergeReport {
	var blocks []ensemble.Block
	var failures []EngineFailure

	for _, raw := range raws {
		if raw == nil {
			continue
		}

		n, ok := m.normalizers[raw.Engine]
		if !ok {
			// Payloads from engines outside the configuration still
			// carry a format; normalize them ad hoc.
			var err error
			n, err = ensemble.NormalizerFor(raw.Engine, raw.Format, m.opts.DefaultConfidence)
			if err != nil {
				failures = append(failures, EngineFailure{Engine: raw.Engine, Reason: err.Error()})
				continue
			}
		}

		engineBlocks, err := n.Normalize(page, raw.Payload)
		if err != nil {
			m.log.Warn().
				Str("engine", raw.Engine).
				Int("page", page).
				Err(err).
				Msg("Engine output excluded from merge")
			failures = append(failures, EngineFailure{Engine: raw.Engine, Reason: err.Error()})
			continue
		}
		blocks = append(blocks, engineBlocks...)
	}

	return MergeReport{
		Result:   m.reconciler.ReconcilePage(page, blocks),
		Failures: failures,
	}
}

// MergePages merges multiple pages concurrently. Page order in the returned
// slice matches the ascending page numbers of the input map.
func (m *Merger) MergePages(ctx context.Context, pages map[int][]*engine.RawResult) ([]MergeReport, error) {
	pageNums := make([]int, 0, len(pages))
	for p := range pages {
		pageNums = append(pageNums, p)
	}
	sort.Ints(pageNums)

	reports := make([]MergeReport, len(pageNums))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultPageConcurrency)

	for i, p := range pageNums {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			reports[i] = m.MergePage(p, pages[p])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// Runner drives a document through the engine fleet and into the merger.
type Runner struct {
	merger  *Merger
	engines []engine.Engine
	log     zerolog.Logger
}

// NewRunner wires a fleet of engines to a merger.
func NewRunner(merger *Merger, engines []engine.Engine) *Runner {
	return &Runner{
		merger:  merger,
		engines: engines,
		log:     logger.WithComponent("runner"),
	}
}

// ErrNoEngines is returned when a run is attempted with an empty fleet.
var ErrNoEngines = errors.New("no engines available")

// Run sends the document's pages to every engine concurrently and merges the
// results. Pages are numbered 1 through pageCount. Engines that fail
// recognition are excluded per page; a page where nothing came back simply
// yields no merged blocks.
func (r *Runner) Run(ctx context.Context, doc engine.Document, pageCount int) (*DocumentReport, error) {
	if len(r.engines) == 0 {
		return nil, ErrNoEngines
	}
	if pageCount < 1 {
		pageCount = 1
	}

	type pageRaw struct {
		page int
		raw  *engine.RawResult
	}

	results := make(chan pageRaw, pageCount*len(r.engines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(r.engines))

	for _, eng := range r.engines {
		eng := eng
		g.Go(func() error {
			for page := 1; page <= pageCount; page++ {
				pageDoc := doc
				pageDoc.Page = page

				raw, err := eng.Recognize(gctx, pageDoc)
				if err != nil {
					// Engine failures are isolated; they surface as a
					// missing contribution, not a run failure.
					r.log.Warn().
						Str("engine", eng.Name()).
						Int("page", page).
						Err(err).
						Msg("Engine recognition failed")
					continue
				}
				select {
				case results <- pageRaw{page: page, raw: raw}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	pages := make(map[int][]*engine.RawResult, pageCount)
	for page := 1; page <= pageCount; page++ {
		pages[page] = nil
	}
	for pr := range results {
		pages[pr.page] = append(pages[pr.page], pr.raw)
	}

	reports, err := r.merger.MergePages(ctx, pages)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(r.engines))
	for _, eng := range r.engines {
		names = append(names, eng.Name())
	}

	return &DocumentReport{
		Filename: doc.Filename,
		Pages:    reports,
		Engines:  names,
	}, nil
}
