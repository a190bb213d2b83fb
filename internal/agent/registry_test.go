package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"lead-agent-orchestrator/internal/entitlement"
	"lead-agent-orchestrator/internal/models"
)

func TestResolveUnknownType(t *testing.T) {
	reg := NewRegistry(entitlement.NewStatic(), discardLogger())
	_, err := reg.Resolve("ghost")
	require.ErrorIs(t, err, ErrUnknownAgentType)
}

func TestResolveRegisteredType(t *testing.T) {
	reg := NewRegistry(entitlement.NewStatic(), discardLogger())
	reg.Register("falcon", NewFalcon)
	ctor, err := reg.Resolve("falcon")
	require.NoError(t, err)
	require.NotNil(t, ctor)
	require.ElementsMatch(t, []string{"falcon"}, reg.Types())
}

func TestCheckEntitlementFailsClosed(t *testing.T) {
	ent := entitlement.NewStatic()
	reg := NewRegistry(ent, discardLogger())

	require.False(t, reg.CheckEntitlement(context.Background(), "t1", "falcon"))

	ent.Grant("t1", "falcon")
	require.True(t, reg.CheckEntitlement(context.Background(), "t1", "falcon"))

	ent.FailWith(errors.New("lookup timeout"))
	require.False(t, reg.CheckEntitlement(context.Background(), "t1", "falcon"))
}

func TestFalconRequiresAPIKey(t *testing.T) {
	_, err := NewFalcon(context.Background(), models.CredentialBundle{
		TenantID: "t1", AgentType: "falcon", Enabled: true,
	}, Deps{})
	require.Error(t, err)
}
