package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kevin07696/escrow-service/internal/adapters/ports"
)

// localSecretSource reads secrets from plain files under a base directory,
// one file per secret. Development and tests only.
type localSecretSource struct {
	baseDir string
}

// NewLocalSecretSource serves secrets from files under baseDir.
func NewLocalSecretSource(baseDir string) ports.SecretSource {
	return &localSecretSource{baseDir: baseDir}
}

// GetSecret reads the file at path relative to the base directory. Trailing
// newlines are stripped so files written with echo or a text editor resolve
// to the intended value. The file's modification time doubles as the
// version.
func (s *localSecretSource) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	filePath := filepath.Join(s.baseDir, path)

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("secret not found: %s", path)
		}
		return nil, fmt.Errorf("stat secret %q: %w", path, err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read secret %q: %w", path, err)
	}

	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return nil, fmt.Errorf("secret %q is empty", path)
	}

	return &ports.Secret{
		Value:   value,
		Version: info.ModTime().UTC().Format(time.RFC3339),
	}, nil
}
