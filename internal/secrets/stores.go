package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// --- AWS Secrets Manager ---

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerStore reads the bundle from a Secrets Manager secret.
type SecretsManagerStore struct {
	Client SecretsManagerAPI
}

// NewSecretsManagerStore wraps a Secrets Manager client.
func NewSecretsManagerStore(cfg aws.Config) *SecretsManagerStore {
	return &SecretsManagerStore{Client: secretsmanager.NewFromConfig(cfg)}
}

func (s *SecretsManagerStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	out, err := s.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return nil, fmt.Errorf("secretsmanager:GetSecretValue: %w", err)
	}
	if out.SecretString != nil {
		return []byte(aws.ToString(out.SecretString)), nil
	}
	if len(out.SecretBinary) > 0 {
		return out.SecretBinary, nil
	}
	return nil, fmt.Errorf("secret %s has no value", id)
}

// --- AWS SSM Parameter Store ---

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParameterStore reads the bundle from a (usually SecureString) SSM parameter
// holding the same JSON document.
type ParameterStore struct {
	Client SSMAPI
}

// NewParameterStore wraps an SSM client.
func NewParameterStore(cfg aws.Config) *ParameterStore {
	return &ParameterStore{Client: ssm.NewFromConfig(cfg)}
}

func (s *ParameterStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	out, err := s.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(id),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("ssm:GetParameter: %w", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("parameter %s has no value", id)
	}
	return []byte(aws.ToString(out.Parameter.Value)), nil
}

// --- Environment ---

// envKeys are the bundle keys read by EnvStore.
var envKeys = []string{
	"SLACK_SIGNING_SECRET",
	"SLACK_SIGNING_VERSION",
	"SLACK_TOKEN",
	"SLACK_CLIENT_ID",
	"SLACK_CLIENT_SECRET",
}

// EnvStore builds the bundle from process environment variables. It is meant
// for local runs; the id is ignored.
type EnvStore struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

func (s EnvStore) Fetch(_ context.Context, _ string) ([]byte, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	doc := make(map[string]string, len(envKeys))
	for _, k := range envKeys {
		if v, ok := lookup(k); ok && v != "" {
			doc[k] = v
		}
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("none of %v are set", envKeys)
	}
	return json.Marshal(doc)
}

// --- File ---

// FileStore reads the JSON document from a local file named by the id.
type FileStore struct{}

func (FileStore) Fetch(_ context.Context, id string) ([]byte, error) {
	data, err := os.ReadFile(id)
	if err != nil {
		return nil, fmt.Errorf("read secret file: %w", err)
	}
	return data, nil
}
