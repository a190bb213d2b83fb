package models

// CredentialBundle is a tenant's decrypted credential set for one agent type.
// It is produced by the vault adapter, lives only in process memory, and is
// read-only to this subsystem.
type CredentialBundle struct {
	TenantID  string            `json:"tenant_id"`
	AgentType string            `json:"agent_type"`
	Enabled   bool              `json:"enabled"`
	Secrets   map[string]string `json:"secrets"`
	Config    map[string]any    `json:"config,omitempty"`
}
