package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSecretsManager struct {
	gotID string
	out   *secretsmanager.GetSecretValueOutput
	err   error
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.gotID = aws.ToString(in.SecretId)
	return f.out, f.err
}

type fakeSSM struct {
	in  *ssm.GetParameterInput
	out *ssm.GetParameterOutput
	err error
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestSecretsManagerStore_Fetch(t *testing.T) {
	client := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(bundleJSON)}}
	s := &SecretsManagerStore{Client: client}

	data, err := s.Fetch(context.Background(), "prod/slack")
	if err != nil {
		t.Fatal(err)
	}
	if client.gotID != "prod/slack" {
		t.Errorf("expected secret id prod/slack, got %s", client.gotID)
	}
	if string(data) != bundleJSON {
		t.Errorf("unexpected data %s", data)
	}
}

func TestSecretsManagerStore_Binary(t *testing.T) {
	client := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte(bundleJSON)}}
	s := &SecretsManagerStore{Client: client}

	data, err := s.Fetch(context.Background(), "prod/slack")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != bundleJSON {
		t.Errorf("unexpected data %s", data)
	}
}

func TestSecretsManagerStore_Error(t *testing.T) {
	s := &SecretsManagerStore{Client: &fakeSecretsManager{err: errors.New("access denied")}}
	if _, err := s.Fetch(context.Background(), "prod/slack"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParameterStore_Fetch(t *testing.T) {
	client := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(bundleJSON)}}}
	s := &ParameterStore{Client: client}

	data, err := s.Fetch(context.Background(), "/slack/bundle")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != bundleJSON {
		t.Errorf("unexpected data %s", data)
	}
	if aws.ToString(client.in.Name) != "/slack/bundle" {
		t.Errorf("unexpected parameter name %s", aws.ToString(client.in.Name))
	}
	if !aws.ToBool(client.in.WithDecryption) {
		t.Error("parameter must be read with decryption")
	}
}

func TestParameterStore_NoValue(t *testing.T) {
	s := &ParameterStore{Client: &fakeSSM{out: &ssm.GetParameterOutput{}}}
	if _, err := s.Fetch(context.Background(), "/slack/bundle"); err == nil {
		t.Fatal("expected error for empty parameter")
	}
}

func TestEnvStore_Fetch(t *testing.T) {
	env := map[string]string{
		"SLACK_SIGNING_SECRET": "shh",
		"SLACK_TOKEN":          "xoxb-1",
	}
	s := EnvStore{Lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	data, err := s.Fetch(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["SLACK_SIGNING_SECRET"] != "shh" || doc["SLACK_TOKEN"] != "xoxb-1" {
		t.Errorf("unexpected document %v", doc)
	}
	if _, ok := doc["SLACK_CLIENT_ID"]; ok {
		t.Error("unset keys should be omitted")
	}
}

func TestEnvStore_Empty(t *testing.T) {
	s := EnvStore{Lookup: func(string) (string, bool) { return "", false }}
	if _, err := s.Fetch(context.Background(), ""); err == nil {
		t.Fatal("expected error when nothing is set")
	}
}

func TestFileStore_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(bundleJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	data, err := FileStore{}.Fetch(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != bundleJSON {
		t.Errorf("unexpected data %s", data)
	}
}
