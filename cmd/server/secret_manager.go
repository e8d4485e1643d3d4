package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kevin07696/escrow-service/internal/adapters/ports"
	"github.com/kevin07696/escrow-service/internal/adapters/secrets"
	"github.com/kevin07696/escrow-service/internal/config"
)

// initSecretSource builds the secret backend named by SECRETS_BACKEND:
//   - aws:   AWS Secrets Manager, credentials from the default chain
//   - vault: HashiCorp Vault KV v2, token or AppRole auth
//   - local: plain files under SECRETS_LOCAL_DIR (development default)
func initSecretSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.SecretSource, error) {
	switch cfg.Secrets.Backend {
	case config.SecretsBackendAWS:
		logger.Info("Using AWS Secrets Manager",
			zap.String("region", cfg.Secrets.AWSRegion),
		)
		return secrets.NewAWSSecretSource(ctx, secrets.AWSConfig{
			Region:  cfg.Secrets.AWSRegion,
			Profile: cfg.Secrets.AWSProfile,
		})

	case config.SecretsBackendVault:
		return secrets.NewVaultSecretSource(ctx, secrets.VaultConfig{
			Address:   cfg.Secrets.VaultAddress,
			MountPath: cfg.Secrets.VaultMountPath,
			Token:     cfg.Secrets.VaultToken,
			RoleID:    cfg.Secrets.VaultRoleID,
			SecretID:  cfg.Secrets.VaultSecretID,
		}, logger)

	default:
		logger.Warn("Using local file secrets - not for production",
			zap.String("dir", cfg.Secrets.LocalDir),
		)
		return secrets.NewLocalSecretSource(cfg.Secrets.LocalDir), nil
	}
}

// resolveCredentials fills the configuration values that may be backed by
// the secret source: the database password, the hook signing secret, and the
// sandbox webhook secret.
func resolveCredentials(ctx context.Context, cfg *config.Config, source ports.SecretSource, logger *zap.Logger) error {
	password, err := resolveSecret(ctx, source, logger, "database password", cfg.Database.Password, cfg.Database.PasswordSecretPath)
	if err != nil {
		return err
	}
	cfg.Database.Password = password

	signing, err := resolveSecret(ctx, source, logger, "hook signing secret", cfg.Hooks.SigningSecret, cfg.Hooks.SigningSecretPath)
	if err != nil {
		return err
	}
	cfg.Hooks.SigningSecret = signing

	webhook, err := resolveSecret(ctx, source, logger, "sandbox webhook secret", cfg.Providers.SandboxWebhookSecret, cfg.Providers.SandboxWebhookSecretPath)
	if err != nil {
		return err
	}
	cfg.Providers.SandboxWebhookSecret = webhook

	return nil
}

// resolveSecret returns the direct value when set, otherwise fetches the
// secret at path. Both empty yields an empty string without error so callers
// can treat unset optional secrets as absent.
func resolveSecret(ctx context.Context, source ports.SecretSource, logger *zap.Logger, name, direct, path string) (string, error) {
	if direct != "" {
		return direct, nil
	}
	if path == "" {
		return "", nil
	}

	secret, err := source.GetSecret(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}

	logger.Info("Credential resolved",
		zap.String("credential", name),
		zap.String("path", path),
		zap.String("version", secret.Version),
	)
	return secret.Value, nil
}
