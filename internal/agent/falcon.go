package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lead-agent-orchestrator/internal/models"
)

// Falcon is the default lead qualifier. It scores a lead from the record
// itself with no outbound calls and writes the result back to the lead store.
type Falcon struct {
	tenantID string
	apiKey   string
	deps     Deps
}

// NewFalcon constructs a falcon agent. The bundle must carry an api_key.
func NewFalcon(_ context.Context, bundle models.CredentialBundle, deps Deps) (Agent, error) {
	key, ok := bundle.Secrets["api_key"]
	if !ok || key == "" {
		return nil, errors.New("bundle missing api_key")
	}
	return &Falcon{tenantID: bundle.TenantID, apiKey: key, deps: deps}, nil
}

var freeMailDomains = map[string]struct{}{
	"gmail.com":   {},
	"yahoo.com":   {},
	"hotmail.com": {},
	"outlook.com": {},
}

func (f *Falcon) ProcessItem(ctx context.Context, itemRef string) error {
	lead, err := f.deps.Leads.Get(ctx, f.tenantID, itemRef)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", itemRef, err)
	}
	if lead.Email == "" {
		return fmt.Errorf("lead %s has no email", itemRef)
	}

	score := 50
	if at := strings.LastIndex(lead.Email, "@"); at >= 0 {
		domain := strings.ToLower(lead.Email[at+1:])
		if _, free := freeMailDomains[domain]; !free {
			score += 20
		}
	}
	if lead.Company != "" {
		score += 15
	}
	if lead.Industry != "" {
		score += 15
	}
	if score > 100 {
		score = 100
	}

	if err := f.deps.Leads.SetQualification(ctx, f.tenantID, itemRef, score); err != nil {
		return fmt.Errorf("record qualification for %s: %w", itemRef, err)
	}
	return nil
}
