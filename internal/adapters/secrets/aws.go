package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/kevin07696/escrow-service/internal/adapters/ports"
)

// AWSConfig tunes the AWS Secrets Manager backend.
type AWSConfig struct {
	Region  string
	Profile string // shared-config profile; empty uses the default chain

	// Endpoint overrides the service URL, for LocalStack in integration
	// environments.
	Endpoint string
}

type awsSecretSource struct {
	client *secretsmanager.Client
}

// NewAWSSecretSource builds a Secrets Manager client from the default AWS
// credential chain (environment, shared config, instance role).
func NewAWSSecretSource(ctx context.Context, cfg AWSConfig) (ports.SecretSource, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &awsSecretSource{client: client}, nil
}

// GetSecret reads the current version of the secret named by path. Binary
// secrets are rejected; every credential this service reads is a string.
func (s *awsSecretSource) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %q: %w", path, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %q has no string value", path)
	}

	return &ports.Secret{
		Value:   aws.ToString(out.SecretString),
		Version: aws.ToString(out.VersionId),
	}, nil
}
