package secrets

import (
	"context"
	"fmt"
	"strconv"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/kevin07696/escrow-service/internal/adapters/ports"
)

// VaultConfig tunes the HashiCorp Vault backend. TLS and namespace settings
// come from the standard VAULT_* environment variables, which the Vault
// client reads on its own.
type VaultConfig struct {
	Address   string
	MountPath string // KV v2 mount, usually "secret"

	// Token auth. Takes precedence when set.
	Token string

	// AppRole auth, for deployments where a token cannot be injected.
	RoleID   string
	SecretID string
}

type vaultSecretSource struct {
	kv *vault.KVv2
}

// NewVaultSecretSource connects to Vault and authenticates with a token or
// an AppRole, whichever the configuration carries.
func NewVaultSecretSource(ctx context.Context, cfg VaultConfig, logger *zap.Logger) (ports.SecretSource, error) {
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("new vault client: %w", err)
	}

	method, err := authenticateVault(ctx, client, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Authenticated to Vault",
		zap.String("address", cfg.Address),
		zap.String("auth_method", method),
		zap.String("mount_path", cfg.MountPath),
	)

	return &vaultSecretSource{kv: client.KVv2(cfg.MountPath)}, nil
}

func authenticateVault(ctx context.Context, client *vault.Client, cfg VaultConfig) (string, error) {
	switch {
	case cfg.Token != "":
		client.SetToken(cfg.Token)
		return "token", nil

	case cfg.RoleID != "" && cfg.SecretID != "":
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return "", fmt.Errorf("approle login: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return "", fmt.Errorf("approle login returned no auth token")
		}
		client.SetToken(resp.Auth.ClientToken)
		return "approle", nil

	default:
		return "", fmt.Errorf("vault auth requires a token or an approle role_id/secret_id pair")
	}
}

// GetSecret reads the latest KV v2 version at path. The secret value lives
// under the "value" key, which is the convention the provisioning scripts
// write.
func (s *vaultSecretSource) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	kvSecret, err := s.kv.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read vault secret %q: %w", path, err)
	}

	value, ok := kvSecret.Data["value"].(string)
	if !ok || value == "" {
		return nil, fmt.Errorf("vault secret %q: no string under key %q", path, "value")
	}

	secret := &ports.Secret{Value: value}
	if kvSecret.VersionMetadata != nil {
		secret.Version = strconv.Itoa(kvSecret.VersionMetadata.Version)
	}
	return secret, nil
}
