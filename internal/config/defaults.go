package config

func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Auth: AuthConfig{
			ReplayWindowSeconds: 300,
		},
		Secrets: SecretsConfig{
			Backend: "secretsmanager",
			ID:      "slack",
		},
		Publish: PublishConfig{
			Transport:   "sns",
			TopicPrefix: "slack_",
			Encoding:    "json",
		},
		OAuth: OAuthConfig{
			Scopes:             []string{"chat:write", "commands"},
			StateMaxAgeSeconds: 600,
		},
		Consumer: ConsumerConfig{
			Concurrency:    8,
			TimeoutSeconds: 10,
			RatePerSecond:  20,
			Burst:          5,
		},
		Slack: SlackConfig{
			TimeoutSeconds: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
