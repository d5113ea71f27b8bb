package secrets

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// secretsManagerAPI is the slice of the Secrets Manager client we use.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider resolves tool credentials from AWS Secrets Manager. The secret
// name is derived from the tool: gateway/cred/<tool>. Wrap it in Cached to
// avoid a round trip per request.
type AWSProvider struct {
	client secretsManagerAPI
	prefix string
	logger *slog.Logger
}

// NewAWSProvider builds a provider against the given region using the default
// AWS credential chain.
func NewAWSProvider(ctx context.Context, region string, logger *slog.Logger) (*AWSProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWSProvider{
		client: secretsmanager.NewFromConfig(cfg),
		prefix: "gateway/cred/",
		logger: logger,
	}, nil
}

func (p *AWSProvider) Get(ctx context.Context, tool string) (string, error) {
	name := p.prefix + tool
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("%w: secretsmanager %s: %v", ErrNotFound, name, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("%w: secret %s has no string value", ErrNotFound, name)
	}
	if p.logger != nil {
		p.logger.Debug("resolved credential from secrets manager", "tool", tool)
	}
	return *out.SecretString, nil
}
