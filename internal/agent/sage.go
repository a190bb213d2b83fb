package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"lead-agent-orchestrator/internal/models"
)

// Sage qualifies leads through an external enrichment service. The endpoint
// and key come from the tenant's bundle, so two tenants never share quota.
type Sage struct {
	tenantID string
	apiKey   string
	endpoint string
	client   *http.Client
	deps     Deps
}

// NewSage constructs a sage agent from the bundle's api_key and endpoint.
func NewSage(_ context.Context, bundle models.CredentialBundle, deps Deps) (Agent, error) {
	key, ok := bundle.Secrets["api_key"]
	if !ok || key == "" {
		return nil, errors.New("bundle missing api_key")
	}
	endpoint, _ := bundle.Config["endpoint"].(string)
	if endpoint == "" {
		return nil, errors.New("bundle missing enrichment endpoint")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid enrichment endpoint: %w", err)
	}
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Sage{
		tenantID: bundle.TenantID,
		apiKey:   key,
		endpoint: endpoint,
		client:   client,
		deps:     deps,
	}, nil
}

type enrichmentResponse struct {
	Score int `json:"score"`
}

func (s *Sage) ProcessItem(ctx context.Context, itemRef string) error {
	lead, err := s.deps.Leads.Get(ctx, s.tenantID, itemRef)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", itemRef, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("build enrichment request: %w", err)
	}
	q := req.URL.Query()
	q.Set("email", lead.Email)
	q.Set("company", lead.Company)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("enrichment call for %s: %w", itemRef, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("enrichment for %s: status %d", itemRef, resp.StatusCode)
	}
	var er enrichmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("decode enrichment for %s: %w", itemRef, err)
	}

	if err := s.deps.Leads.SetQualification(ctx, s.tenantID, itemRef, er.Score); err != nil {
		return fmt.Errorf("record qualification for %s: %w", itemRef, err)
	}
	return nil
}
