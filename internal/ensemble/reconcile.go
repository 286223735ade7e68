package ensemble

import (
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"medocr/internal/logger"
)

// DefaultOverlapThreshold is the IoU above which two blocks from different
// engines are considered the same region.
const DefaultOverlapThreshold = 0.5

// Options configures the reconciler. All knobs are explicit; there are no
// implicit defaults buried in the merge itself.
type Options struct {
	// OverlapThreshold is the minimum IoU for two blocks from different
	// engines to be grouped. Must be in (0, 1]. 1.0 means exact-match only.
	OverlapThreshold float64

	// EnginePriority orders engines for member ranking and tie-breaking.
	// Engines absent from the list participate with confidence-only
	// ordering; a warning is recorded, not an error.
	EnginePriority []string

	// MinBBoxArea drops blocks smaller than this area before grouping.
	// 0 accepts any positive area. Zero-area blocks are always dropped.
	MinBBoxArea float64

	// DefaultConfidence is assigned to blocks from engines that report no
	// confidence of their own. Must be in [0, 1].
	DefaultConfidence float64
}

// DefaultOptions returns the stock merge configuration.
func DefaultOptions() Options {
	return Options{
		OverlapThreshold:  DefaultOverlapThreshold,
		DefaultConfidence: 1.0,
	}
}

// Validate checks the configuration. It is called before any page is
// processed so invalid configuration fails fast at startup.
func (o Options) Validate() error {
	const op = "Validate"

	if o.OverlapThreshold <= 0 || o.OverlapThreshold > 1 {
		return NewEnsembleError(op, "", ErrInvalidThreshold,
			"got "+formatFloat(o.OverlapThreshold))
	}
	if o.MinBBoxArea < 0 {
		return NewEnsembleError(op, "", ErrInvalidMinArea,
			"got "+formatFloat(o.MinBBoxArea))
	}
	if o.DefaultConfidence < 0 || o.DefaultConfidence > 1 {
		return NewEnsembleError(op, "", ErrInvalidConfidence,
			"got "+formatFloat(o.DefaultConfidence))
	}

	seen := make(map[string]bool, len(o.EnginePriority))
	for _, engine := range o.EnginePriority {
		if seen[engine] {
			return NewEnsembleError(op, engine, ErrDuplicateEngine, "")
		}
		seen[engine] = true
	}

	return nil
}

// Reconciler groups blocks from different engines that refer to the same
// physical region and elects one textual result per group. It holds no
// inter-page state; ReconcilePage may be called concurrently for
// independent pages.
type Reconciler struct {
	opts Options
	rank map[string]int
	log  zerolog.Logger
}

// NewReconciler validates the options and builds a reconciler.
func NewReconciler(opts Options) (*Reconciler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	rank := make(map[string]int, len(opts.EnginePriority))
	for i, engine := range opts.EnginePriority {
		rank[engine] = i
	}

	return &Reconciler{
		opts: opts,
		rank: rank,
		log:  logger.WithComponent("reconciler"),
	}, nil
}

// ReconcilePage merges one page's normalized blocks into MergedBlocks.
// A page where no blocks survive filtering yields an empty (non-nil)
// merged list, not an error.
func (r *Reconciler) ReconcilePage(page int, blocks []Block) PageResult {
	kept := r.filter(blocks)
	r.warnUnknownEngines(kept)

	// Pairwise IoU between blocks from different engines; union qualifying
	// pairs into connected components.
	uf := newUnionFind(len(kept))
	for i := 0; i < len(kept); i++ {
		for j := i + 1; j < len(kept); j++ {
			if kept[i].Engine == kept[j].Engine {
				continue
			}
			if kept[i].BBox.IoU(kept[j].BBox) >= r.opts.OverlapThreshold {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]Block)
	for i, b := range kept {
		root := uf.find(i)
		groups[root] = append(groups[root], b)
	}

	merged := make([]MergedBlock, 0, len(groups))
	for _, members := range groups {
		merged = append(merged, r.mergeGroup(members))
	}

	// Reading order of the representative bbox keeps output deterministic
	// across runs.
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].BBox.Y0 != merged[j].BBox.Y0 {
			return merged[i].BBox.Y0 < merged[j].BBox.Y0
		}
		if merged[i].BBox.X0 != merged[j].BBox.X0 {
			return merged[i].BBox.X0 < merged[j].BBox.X0
		}
		return merged[i].Members[0].ID < merged[j].Members[0].ID
	})

	return PageResult{Page: page, MergedBlocks: merged}
}

// filter drops zero-area and below-minimum blocks. Discards are logged, not
// errors.
func (r *Reconciler) filter(blocks []Block) []Block {
	kept := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		area := b.BBox.Area()
		if area <= 0 || area < r.opts.MinBBoxArea {
			r.log.Warn().
				Str("engine", b.Engine).
				Str("block_id", b.ID).
				Float64("area", area).
				Msg("Discarding block with degenerate bbox")
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

// warnUnknownEngines records engines missing from the priority list. Their
// blocks still participate, ordered by confidence only.
func (r *Reconciler) warnUnknownEngines(blocks []Block) {
	if len(r.rank) == 0 {
		return
	}
	warned := make(map[string]bool)
	for _, b := range blocks {
		if _, ok := r.rank[b.Engine]; !ok && !warned[b.Engine] {
			warned[b.Engine] = true
			r.log.Warn().
				Str("engine", b.Engine).
				Msg("Engine not in priority list, ordering its blocks by confidence only")
		}
	}
}

// mergeGroup orders a group's members, elects the text, and aggregates
// confidence.
func (r *Reconciler) mergeGroup(members []Block) MergedBlock {
	sort.SliceStable(members, func(i, j int) bool {
		ri, rj := r.engineRank(members[i].Engine), r.engineRank(members[j].Engine)
		if ri != rj {
			return ri < rj
		}
		if members[i].Confidence != members[j].Confidence {
			return members[i].Confidence > members[j].Confidence
		}
		return members[i].ID < members[j].ID
	})

	text := r.electText(members)

	return MergedBlock{
		Text:       text,
		Confidence: AggregateConfidence(members, text),
		BBox:       members[0].BBox,
		Members:    members,
	}
}

// engineRank returns the priority index of an engine, or a rank after all
// configured engines when it is absent from the priority list.
func (r *Reconciler) engineRank(engine string) int {
	if rank, ok := r.rank[engine]; ok {
		return rank
	}
	return len(r.rank)
}

// electText applies the majority-vote-with-fallback policy: if at least half
// the members agree on identical normalized text, that text wins; otherwise
// the highest-priority member's text does. The elected string is taken
// verbatim from the highest-priority agreeing member.
func (r *Reconciler) electText(members []Block) string {
	if len(members) == 1 {
		return members[0].Text
	}

	counts := make(map[string]int, len(members))
	for _, m := range members {
		counts[NormalizedText(m.Text)]++
	}

	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}

	// Majority by count: ties between equally common texts resolve to the
	// one held by the higher-priority member, since members are already
	// priority-ordered.
	if best*2 >= len(members) {
		for _, m := range members {
			if counts[NormalizedText(m.Text)] == best {
				return m.Text
			}
		}
	}

	return members[0].Text
}

// unionFind is a plain disjoint-set over block indices.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]] // path halving
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri != rj {
		u.parent[rj] = ri
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
