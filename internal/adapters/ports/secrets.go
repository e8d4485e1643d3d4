package ports

import "context"

// Secret is a resolved secret value plus the backend version that produced
// it. Startup logs record the version so operators can tell which rotation a
// running process picked up.
type Secret struct {
	Value   string
	Version string
}

// SecretSource resolves the credentials the service boots with: the ledger
// database password, the hook signing secret, and the sandbox webhook
// secret. Backends exist for AWS Secrets Manager, HashiCorp Vault, and a
// local directory for development. The port is read-only; writing and
// rotating secrets belongs to infrastructure tooling, and a rotated value is
// picked up on the next restart.
type SecretSource interface {
	// GetSecret resolves the secret at path. The path format depends on the
	// backend:
	//   - AWS:   a secret name ("escrow-service/db-password") or a full ARN
	//   - Vault: a KV v2 path relative to the configured mount
	//   - local: a file path relative to the configured base directory
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
