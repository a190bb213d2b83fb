package vault

import (
	"context"
	"encoding/hex"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"lead-agent-orchestrator/internal/models"
)

func testKeyHex() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return hex.EncodeToString(key)
}

func TestRedisVaultRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	v, err := NewRedis(client, testKeyHex())
	require.NoError(t, err)

	bundle := models.CredentialBundle{
		TenantID:  "t1",
		AgentType: "falcon",
		Enabled:   true,
		Secrets:   map[string]string{"api_key": "sk-123"},
	}
	require.NoError(t, v.PutCredentialBundle(ctx, bundle))

	got, err := v.GetCredentialBundle(ctx, "t1", "falcon")
	require.NoError(t, err)
	require.Equal(t, bundle, got)

	// Stored value must not contain the plaintext secret.
	raw, err := mr.Get("vault:t1:falcon")
	require.NoError(t, err)
	require.NotContains(t, raw, "sk-123")
}

func TestRedisVaultMissingBundle(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	v, err := NewRedis(client, testKeyHex())
	require.NoError(t, err)

	_, err = v.GetCredentialBundle(context.Background(), "t1", "sage")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisVaultRejectsBadKey(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	_, err = NewRedis(client, "zz")
	require.Error(t, err)
	_, err = NewRedis(client, "abcd")
	require.Error(t, err)
}
