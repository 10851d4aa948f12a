package domain

import "context"

// DefaultSigningVersion is the request-signing scheme Slack uses today.
const DefaultSigningVersion = "v0"

// SecretBundle holds the Slack credentials used by the gateway and consumer.
// Field names follow the keys of the JSON document kept in the secret store.
type SecretBundle struct {
	SigningSecret  string `json:"SLACK_SIGNING_SECRET"`
	SigningVersion string `json:"SLACK_SIGNING_VERSION,omitempty"`
	BotToken       string `json:"SLACK_TOKEN"`
	ClientID       string `json:"SLACK_CLIENT_ID,omitempty"`
	ClientSecret   string `json:"SLACK_CLIENT_SECRET,omitempty"`
}

// Version returns the signing version, defaulting to v0.
func (b SecretBundle) Version() string {
	if b.SigningVersion == "" {
		return DefaultSigningVersion
	}
	return b.SigningVersion
}

// SecretStore fetches the raw JSON secret document identified by id.
type SecretStore interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// SecretSource is satisfied by the process-wide secret cache.
type SecretSource interface {
	Get(ctx context.Context) (SecretBundle, error)
}
