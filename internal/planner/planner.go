// Package planner expands a bulk selection into the ordered item refs fed to
// the scheduler. Planning is a pure query over the lead store; it creates
// nothing and never touches job state.
package planner

import (
	"context"
	"fmt"

	"lead-agent-orchestrator/internal/leads"
)

// Selection describes which leads a bulk request targets. Exactly one mode
// applies: an explicit ID list when IDs is non-empty, a filter when Filter is
// set, otherwise every unqualified lead (or every lead at all when
// IncludeAlreadyProcessed is set).
type Selection struct {
	IDs                     []string      `json:"ids,omitempty"`
	Filter                  *leads.Filter `json:"filter,omitempty"`
	IncludeAlreadyProcessed bool          `json:"include_already_processed,omitempty"`
}

// Planner resolves selections against the tenant's lead set.
type Planner struct {
	leads leads.Store
}

func New(ls leads.Store) *Planner {
	return &Planner{leads: ls}
}

// Plan returns the ordered, deduplicated item refs for the selection. An
// empty result is returned as an empty slice; the scheduler turns that into
// its no-work error.
func (p *Planner) Plan(ctx context.Context, tenantID string, sel Selection) ([]string, error) {
	if len(sel.IDs) > 0 {
		return dedupe(sel.IDs), nil
	}

	filter := leads.Filter{}
	if sel.Filter != nil {
		filter = *sel.Filter
	} else if !sel.IncludeAlreadyProcessed {
		unqualified := false
		filter.Qualified = &unqualified
	}

	rows, err := p.leads.List(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	refs := make([]string, 0, len(rows))
	for _, l := range rows {
		refs = append(refs, l.ID)
	}
	return refs, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
