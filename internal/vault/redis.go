package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"

	"lead-agent-orchestrator/internal/models"
)

const keyPrefix = "vault:"

// Redis stores bundles sealed with ChaCha20-Poly1305 under vault:{tenant}:{agent}.
type Redis struct {
	client *redis.Client
	aead   interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewRedis builds a vault over an existing Redis client. keyHex must decode
// to a 32-byte key.
func NewRedis(client *redis.Client, keyHex string) (*Redis, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode vault key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init vault cipher: %w", err)
	}
	return &Redis{client: client, aead: aead}, nil
}

func bundleKey(tenantID, agentType string) string {
	return keyPrefix + tenantID + ":" + agentType
}

func (v *Redis) GetCredentialBundle(ctx context.Context, tenantID, agentType string) (models.CredentialBundle, error) {
	sealed, err := v.client.Get(ctx, bundleKey(tenantID, agentType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CredentialBundle{}, ErrNotFound
	}
	if err != nil {
		return models.CredentialBundle{}, fmt.Errorf("read bundle: %w", err)
	}
	if len(sealed) < chacha20poly1305.NonceSize {
		return models.CredentialBundle{}, errors.New("sealed bundle too short")
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return models.CredentialBundle{}, fmt.Errorf("unseal bundle: %w", err)
	}
	var bundle models.CredentialBundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return models.CredentialBundle{}, fmt.Errorf("decode bundle: %w", err)
	}
	return bundle, nil
}

func (v *Redis) PutCredentialBundle(ctx context.Context, bundle models.CredentialBundle) error {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	sealed := append(nonce, v.aead.Seal(nil, nonce, plaintext, nil)...)
	if err := v.client.Set(ctx, bundleKey(bundle.TenantID, bundle.AgentType), sealed, 0).Err(); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	return nil
}
