package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Secret manager backends selectable via SECRETS_BACKEND.
const (
	SecretsBackendLocal = "local"
	SecretsBackendAWS   = "aws"
	SecretsBackendVault = "vault"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Providers  ProvidersConfig
	Hooks      HooksConfig
	Secrets    SecretsConfig
	Reconciler ReconcilerConfig
	Logger     LoggerConfig
}

// ServerConfig holds process-level settings
type ServerConfig struct {
	MetricsPort     int
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration. The password may be given
// directly or resolved at startup from the secret manager via
// PasswordSecretPath; exactly one of the two must be set.
type DatabaseConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	PasswordSecretPath string
	Database           string
	SSLMode            string
	MaxConns           int32
	MinConns           int32
}

// ProvidersConfig holds payment provider settings. The assembly registers the
// sandbox provider; real gateway adapters register through the same registry.
type ProvidersConfig struct {
	SandboxName              string
	SandboxWebhookSecret     string
	SandboxWebhookSecretPath string
}

// HooksConfig holds outbound webhook delivery settings. Endpoints is parsed
// from a comma-separated URL list; all endpoints share one signing secret.
type HooksConfig struct {
	Endpoints         []string
	SigningSecret     string
	SigningSecretPath string
	Workers           int
	QueueSize         int
	MaxAttempts       int
	RequestTimeout    time.Duration
	RatePerSecond     float64
	Burst             int
}

// SecretsConfig selects and tunes the secret backend. Vault auth accepts a
// token or an AppRole role/secret pair; the token wins when both are set.
type SecretsConfig struct {
	Backend        string // local, aws, vault
	LocalDir       string
	AWSRegion      string
	AWSProfile     string
	VaultAddress   string
	VaultToken     string
	VaultRoleID    string
	VaultSecretID  string
	VaultMountPath string
}

// ReconcilerConfig tunes the background sweep that re-verifies payments stuck
// in payment_initiated against their provider.
type ReconcilerConfig struct {
	Enabled    bool
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int32
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			MetricsPort:     getEnvAsInt("METRICS_PORT", 9090),
			ShutdownTimeout: getEnvAsSeconds("SHUTDOWN_TIMEOUT_SECONDS", 30),
		},
		Database: databaseFromEnv(),
		Providers: ProvidersConfig{
			SandboxName:              getEnv("SANDBOX_PROVIDER_NAME", "sandbox"),
			SandboxWebhookSecret:     getEnv("SANDBOX_WEBHOOK_SECRET", ""),
			SandboxWebhookSecretPath: getEnv("SANDBOX_WEBHOOK_SECRET_PATH", ""),
		},
		Hooks: HooksConfig{
			Endpoints:         getEnvAsList("HOOK_ENDPOINTS"),
			SigningSecret:     getEnv("HOOK_SIGNING_SECRET", ""),
			SigningSecretPath: getEnv("HOOK_SIGNING_SECRET_PATH", ""),
			Workers:           getEnvAsInt("HOOK_WORKERS", 4),
			QueueSize:         getEnvAsInt("HOOK_QUEUE_SIZE", 256),
			MaxAttempts:       getEnvAsInt("HOOK_MAX_ATTEMPTS", 5),
			RequestTimeout:    getEnvAsSeconds("HOOK_REQUEST_TIMEOUT_SECONDS", 10),
			RatePerSecond:     getEnvAsFloat("HOOK_RATE_PER_SECOND", 10),
			Burst:             getEnvAsInt("HOOK_BURST", 20),
		},
		Secrets: SecretsConfig{
			Backend:        getEnv("SECRETS_BACKEND", SecretsBackendLocal),
			LocalDir:       getEnv("SECRETS_LOCAL_DIR", "./secrets"),
			AWSRegion:      getEnv("AWS_REGION", ""),
			AWSProfile:     getEnv("AWS_PROFILE", ""),
			VaultAddress:   getEnv("VAULT_ADDR", ""),
			VaultToken:     getEnv("VAULT_TOKEN", ""),
			VaultRoleID:    getEnv("VAULT_ROLE_ID", ""),
			VaultSecretID:  getEnv("VAULT_SECRET_ID", ""),
			VaultMountPath: getEnv("VAULT_MOUNT_PATH", "secret"),
		},
		Reconciler: ReconcilerConfig{
			Enabled:    getEnvAsBool("RECONCILER_ENABLED", true),
			Interval:   getEnvAsSeconds("RECONCILER_INTERVAL_SECONDS", 300),
			StaleAfter: getEnvAsSeconds("RECONCILER_STALE_AFTER_SECONDS", 900),
			BatchSize:  int32(getEnvAsInt("RECONCILER_BATCH_SIZE", 50)),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if cfg.Database.Password == "" && cfg.Database.PasswordSecretPath == "" {
		return nil, fmt.Errorf("DB_PASSWORD or DB_PASSWORD_SECRET_PATH is required")
	}
	if len(cfg.Hooks.Endpoints) > 0 && cfg.Hooks.SigningSecret == "" && cfg.Hooks.SigningSecretPath == "" {
		return nil, fmt.Errorf("HOOK_SIGNING_SECRET or HOOK_SIGNING_SECRET_PATH is required when HOOK_ENDPOINTS is set")
	}
	switch cfg.Secrets.Backend {
	case SecretsBackendLocal:
	case SecretsBackendAWS:
		if cfg.Secrets.AWSRegion == "" {
			return nil, fmt.Errorf("AWS_REGION is required when SECRETS_BACKEND=aws")
		}
	case SecretsBackendVault:
		if cfg.Secrets.VaultAddress == "" {
			return nil, fmt.Errorf("VAULT_ADDR is required when SECRETS_BACKEND=vault")
		}
		if cfg.Secrets.VaultToken == "" && (cfg.Secrets.VaultRoleID == "" || cfg.Secrets.VaultSecretID == "") {
			return nil, fmt.Errorf("VAULT_TOKEN or a VAULT_ROLE_ID/VAULT_SECRET_ID pair is required when SECRETS_BACKEND=vault")
		}
	default:
		return nil, fmt.Errorf("unknown SECRETS_BACKEND %q (expected local, aws, or vault)", cfg.Secrets.Backend)
	}

	return cfg, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:               getEnv("DB_HOST", "localhost"),
		Port:               getEnvAsInt("DB_PORT", 5432),
		User:               getEnv("DB_USER", "postgres"),
		Password:           getEnv("DB_PASSWORD", ""),
		PasswordSecretPath: getEnv("DB_PASSWORD_SECRET_PATH", ""),
		Database:           getEnv("DB_NAME", "escrow_service"),
		SSLMode:            getEnv("DB_SSL_MODE", "disable"),
		MaxConns:           int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		MinConns:           int32(getEnvAsInt("DB_MIN_CONNS", 5)),
	}
}

// LoadDatabaseFromEnv loads only the database settings, for tooling that
// connects without the rest of the runtime. No secret manager runs during
// migrations, so the password must be given directly.
func LoadDatabaseFromEnv() (*DatabaseConfig, error) {
	cfg := databaseFromEnv()
	if cfg.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	return &cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}

// getEnvAsList splits a comma-separated value, trimming whitespace and
// dropping empty entries.
func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
