package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name below.
const EnvPrefix = "SLACKGATE_"

// Config is the root configuration for slackgate.
type Config struct {
	Log      LogConfig      `json:"log" yaml:"log"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Secrets  SecretsConfig  `json:"secrets" yaml:"secrets"`
	Publish  PublishConfig  `json:"publish" yaml:"publish"`
	OAuth    OAuthConfig    `json:"oauth" yaml:"oauth"`
	Consumer ConsumerConfig `json:"consumer" yaml:"consumer"`
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Store    StoreConfig    `json:"store" yaml:"store"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`    // debug | info | warn | error
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"` // text | json
}

type HTTPConfig struct {
	Addr     string `json:"addr" yaml:"addr" env:"HTTP_ADDR"`
	BasePath string `json:"basePath,omitempty" yaml:"basePath,omitempty" env:"BASE_PATH"`
}

type AuthConfig struct {
	ReplayWindowSeconds int `json:"replayWindowSeconds" yaml:"replayWindowSeconds" env:"REPLAY_WINDOW_SECONDS"`
}

// SecretsConfig selects where the Slack secret bundle is read from.
type SecretsConfig struct {
	Backend string `json:"backend" yaml:"backend" env:"SECRETS_BACKEND"` // secretsmanager | ssm | env | file
	ID      string `json:"id" yaml:"id" env:"SECRET_ID"`
}

type PublishConfig struct {
	Transport   string `json:"transport" yaml:"transport" env:"PUBLISH_TRANSPORT"` // sns | pubsub | memory
	TopicPrefix string `json:"topicPrefix" yaml:"topicPrefix" env:"TOPIC_PREFIX"`
	Encoding    string `json:"encoding" yaml:"encoding" env:"PUBLISH_ENCODING"` // json | base64
	GCPProject  string `json:"gcpProject,omitempty" yaml:"gcpProject,omitempty" env:"GCP_PROJECT"`
}

type OAuthConfig struct {
	// RedirectURL, when set, replaces the workspace URL users land on after install.
	RedirectURL        string   `json:"redirectURL,omitempty" yaml:"redirectURL,omitempty" env:"OAUTH_REDIRECT"`
	ErrorURL           string   `json:"errorURL,omitempty" yaml:"errorURL,omitempty" env:"OAUTH_ERROR_URL"`
	RedirectURI        string   `json:"redirectURI,omitempty" yaml:"redirectURI,omitempty" env:"OAUTH_REDIRECT_URI"`
	Scopes             []string `json:"scopes,omitempty" yaml:"scopes,omitempty" env:"OAUTH_SCOPES" envSeparator:","`
	UserScopes         []string `json:"userScopes,omitempty" yaml:"userScopes,omitempty" env:"OAUTH_USER_SCOPES" envSeparator:","`
	VerifyState        bool     `json:"verifyState" yaml:"verifyState" env:"OAUTH_VERIFY_STATE"`
	StateMaxAgeSeconds int      `json:"stateMaxAgeSeconds" yaml:"stateMaxAgeSeconds" env:"OAUTH_STATE_MAX_AGE_SECONDS"`
}

type ConsumerConfig struct {
	Concurrency    int     `json:"concurrency" yaml:"concurrency" env:"CONSUMER_CONCURRENCY"`
	TimeoutSeconds int     `json:"timeoutSeconds" yaml:"timeoutSeconds" env:"CONSUMER_TIMEOUT_SECONDS"`
	RatePerSecond  float64 `json:"ratePerSecond" yaml:"ratePerSecond" env:"CONSUMER_RATE_PER_SECOND"` // 0 disables limiting
	Burst          int     `json:"burst" yaml:"burst" env:"CONSUMER_BURST"`
	// LocalTopics are replayed to Slack by `serve` when the memory transport is used.
	LocalTopics []string `json:"localTopics,omitempty" yaml:"localTopics,omitempty" env:"CONSUMER_LOCAL_TOPICS" envSeparator:","`
}

type SlackConfig struct {
	APIURL         string `json:"apiURL,omitempty" yaml:"apiURL,omitempty" env:"SLACK_API_URL"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds" env:"SLACK_TIMEOUT_SECONDS"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
}

// StoreConfig configures installation persistence. An empty path disables it.
type StoreConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty" env:"STORE_PATH"`
}

// ReplayWindow returns the signature replay window.
func (c *Config) ReplayWindow() time.Duration {
	return time.Duration(c.Auth.ReplayWindowSeconds) * time.Second
}

// ConsumerTimeout returns the per-call Slack timeout for the consumer.
func (c *Config) ConsumerTimeout() time.Duration {
	return time.Duration(c.Consumer.TimeoutSeconds) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.slackgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slackgate"
	}
	return filepath.Join(home, ".slackgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads a JSON or YAML config file over the defaults, applies the
// SLACKGATE_ environment overlay and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// FromEnv builds the config from defaults and the environment only. Lambda
// entry points use it.
func FromEnv() (*Config, error) {
	return finish(Defaults())
}

func finish(cfg *Config) (*Config, error) {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}
	cfg.Store.Path = ExpandPath(cfg.Store.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. Unknown
// variables without a default are left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if def != "" {
			return def
		}
		return match
	})
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
	backends   = []string{"secretsmanager", "ssm", "env", "file"}
	transports = []string{"sns", "pubsub", "memory"}
	encodings  = []string{"json", "base64"}
)

// Validate checks that the config has valid values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []string

	oneOf := func(field, val string, allowed []string) {
		if slices.Contains(allowed, val) {
			return
		}
		errs = append(errs, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
	}

	oneOf("log.level", cfg.Log.Level, logLevels)
	oneOf("log.format", cfg.Log.Format, logFormats)
	oneOf("secrets.backend", cfg.Secrets.Backend, backends)
	oneOf("publish.transport", cfg.Publish.Transport, transports)
	oneOf("publish.encoding", cfg.Publish.Encoding, encodings)

	if cfg.Secrets.ID == "" && cfg.Secrets.Backend != "env" {
		errs = append(errs, "secrets.id is required for the "+cfg.Secrets.Backend+" backend")
	}
	if cfg.Publish.Transport == "pubsub" && cfg.Publish.GCPProject == "" {
		errs = append(errs, "publish.gcpProject is required for the pubsub transport")
	}
	if cfg.HTTP.BasePath != "" && !strings.HasPrefix(cfg.HTTP.BasePath, "/") {
		errs = append(errs, "http.basePath must start with /")
	}
	if cfg.Auth.ReplayWindowSeconds < 1 || cfg.Auth.ReplayWindowSeconds > 3600 {
		errs = append(errs, "auth.replayWindowSeconds must be between 1 and 3600")
	}

	if cfg.Consumer.Concurrency < 1 || cfg.Consumer.Concurrency > 256 {
		errs = append(errs, "consumer.concurrency must be between 1 and 256")
	}
	if cfg.Consumer.TimeoutSeconds < 1 {
		errs = append(errs, "consumer.timeoutSeconds must be >= 1")
	}
	if cfg.Consumer.RatePerSecond < 0 {
		errs = append(errs, "consumer.ratePerSecond must be >= 0")
	}
	if cfg.Consumer.RatePerSecond > 0 && cfg.Consumer.Burst < 1 {
		errs = append(errs, "consumer.burst must be >= 1 when rate limiting is enabled")
	}
	if cfg.Slack.TimeoutSeconds < 1 {
		errs = append(errs, "slack.timeoutSeconds must be >= 1")
	}
	if cfg.Slack.APIURL != "" && !strings.HasSuffix(cfg.Slack.APIURL, "/") {
		errs = append(errs, "slack.apiURL must end with /")
	}

	for field, raw := range map[string]string{
		"oauth.redirectURL": cfg.OAuth.RedirectURL,
		"oauth.errorURL":    cfg.OAuth.ErrorURL,
		"oauth.redirectURI": cfg.OAuth.RedirectURI,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, field+" must be an absolute URL")
		}
	}

	if len(errs) > 0 {
		// Map iteration above is unordered; keep the message stable.
		slices.Sort(errs)
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
