package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slackgate/internal/auth"
	"slackgate/internal/config"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "slackgate",
		Short: "slackgate: Slack webhook ingest gateway",
		Long: "slackgate verifies Slack webhooks, publishes them to per-type topics and " +
			"delivers outbound messages from those topics back to Slack.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config.yaml or config.json (default: ~/.slackgate/config.yaml, falling back to env only)")

	root.AddCommand(serveCmd())
	root.AddCommand(lambdaCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installationsCmd())
	root.AddCommand(signCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file when one exists. Without --config and
// without a default file, the config comes from the environment alone.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	if configPath == "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.FromEnv()
		}
	}
	return config.Load(path)
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("slackgate " + version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
		Long:  "Show the configuration after defaults, the config file and SLACKGATE_ environment overrides are applied.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. publish.topicPrefix)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List every config key path with its value",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(cfg)
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

// signCmd prints the headers Slack would send for a body, for use with curl.
func signCmd() *cobra.Command {
	var (
		secret    string
		body      string
		sigVer    string
		timestamp int64
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Compute Slack request signature headers for a body",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("SLACK_SIGNING_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or SLACK_SIGNING_SECRET is required")
			}
			if body == "-" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read body: %w", err)
				}
				body = string(data)
			}
			if timestamp == 0 {
				timestamp = time.Now().Unix()
			}
			ts := strconv.FormatInt(timestamp, 10)
			fmt.Printf("%s: %s\n", auth.HeaderTimestamp, ts)
			fmt.Printf("%s: %s\n", auth.HeaderSignature, auth.Sign(secret, sigVer, ts, []byte(body)))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default: $SLACK_SIGNING_SECRET)")
	cmd.Flags().StringVar(&body, "body", "-", "raw request body, - reads stdin")
	cmd.Flags().StringVar(&sigVer, "version", "v0", "signature version")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "unix timestamp (default: now)")
	return cmd
}
