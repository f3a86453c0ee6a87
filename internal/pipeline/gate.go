package pipeline

import (
	"curator/internal/core"
)

// Gate decides which items are eligible for each stage and governs how stage
// output is written back. Eligibility is expressed purely via the presence
// or absence of the item's storage path references, so two runs against the
// same stores agree on what work remains.
type Gate struct {
	store MetadataStore
}

// NewGate creates a stage gate over the metadata store.
func NewGate(store MetadataStore) *Gate {
	return &Gate{store: store}
}

// ProcessEligible returns items ready for markdown processing: HTML stored,
// markdown not yet produced. With overwrite, already-processed items are
// included again.
func (g *Gate) ProcessEligible(overwrite bool, limit int) ([]*core.ContentItem, error) {
	filter := core.ItemFilter{HasHTML: core.Bool(true), Limit: limit}
	if !overwrite {
		filter.HasMarkdown = core.Bool(false)
	}
	return g.store.Scan(filter)
}

// SummarizeEligible returns items ready for summarization: markdown stored,
// classified worth summarizing, and missing at least one of the requested
// summary variants. With overwrite, every worth-summarizing item with
// markdown qualifies. The variant check cannot be expressed as a single
// store predicate, so it is applied here after the scan.
func (g *Gate) SummarizeEligible(types []core.SummaryType, overwrite bool, limit int) ([]*core.ContentItem, error) {
	candidates, err := g.store.Scan(core.ItemFilter{HasMarkdown: core.Bool(true)})
	if err != nil {
		return nil, err
	}

	var out []*core.ContentItem
	for _, it := range candidates {
		if limit > 0 && len(out) == limit {
			break
		}
		if !it.ToBeSummarized.Bool() {
			continue
		}
		if overwrite || missingAny(it, types) {
			out = append(out, it)
		}
	}
	return out, nil
}

func missingAny(it *core.ContentItem, types []core.SummaryType) bool {
	for _, t := range types {
		if !it.HasSummary(t) {
			return true
		}
	}
	return false
}

// CurateEligible returns items ready for newsletter inclusion: the requested
// summary variant exists and the item has not been distributed yet. With
// overwrite, already-distributed items are eligible again.
func (g *Gate) CurateEligible(summaryType core.SummaryType, overwrite bool, limit int) ([]*core.ContentItem, error) {
	filter := core.ItemFilter{Limit: limit}
	if summaryType == core.SummaryBrief {
		filter.HasShortSummary = core.Bool(true)
	} else {
		filter.HasSummary = core.Bool(true)
	}
	if !overwrite {
		filter.Distributed = core.Bool(false)
	}
	return g.store.Scan(filter)
}

// Persist writes a stage's field updates back to the store. The default path
// is the merge contract: only the update's set fields replace stored values,
// so a fetch refresh can never clobber a summary reference written by an
// earlier run. With overwrite the whole record is replaced.
func (g *Gate) Persist(update *core.ContentItem, overwrite bool) (*core.ContentItem, error) {
	if overwrite {
		update.Touch()
		if err := g.store.Put(update); err != nil {
			return nil, err
		}
		return update, nil
	}
	return g.store.MergeUpdate(update)
}
