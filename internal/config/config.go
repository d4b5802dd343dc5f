package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 30 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

type Config struct {
	UserAddress string `yaml:"user_address"`

	RelayerURL   string `yaml:"relayer_url"`
	RelayerToken string `yaml:"relayer_token"`

	OracleProvider  string `yaml:"oracle_provider"`
	OracleModel     string `yaml:"oracle_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	ConfigSyncURL   string `yaml:"config_sync_url"`
	ConfigSyncToken string `yaml:"config_sync_token"`

	WatchFeedURL string `yaml:"watch_feed_url"`
	PollSchedule string `yaml:"poll_schedule"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	DBPath string `yaml:"db_path"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.UserAddress, "USER_ADDRESS")
	envOverride(&cfg.RelayerURL, "RELAYER_URL")
	envOverride(&cfg.RelayerToken, "RELAYER_TOKEN")
	envOverride(&cfg.OracleProvider, "ORACLE_PROVIDER")
	envOverride(&cfg.OracleModel, "ORACLE_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.ConfigSyncURL, "CONFIG_SYNC_URL")
	envOverride(&cfg.ConfigSyncToken, "CONFIG_SYNC_TOKEN")
	envOverride(&cfg.WatchFeedURL, "WATCH_FEED_URL")
	envOverride(&cfg.PollSchedule, "POLL_SCHEDULE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")

	// Defaults
	if cfg.OracleProvider == "" {
		cfg.OracleProvider = "anthropic"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./voteagent.db"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}

	// Validate required fields
	required := map[string]string{
		"user_address":  cfg.UserAddress,
		"relayer_url":   cfg.RelayerURL,
		"relayer_token": cfg.RelayerToken,
	}
	for name, val := range required {
		if val == "" {
			log.Fatalf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}

	switch cfg.OracleProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when oracle_provider=anthropic")
		}
	default:
		log.Fatalf("oracle_provider must be 'anthropic', got '%s'", cfg.OracleProvider)
	}

	if cfg.WatchFeedURL == "" && cfg.PollSchedule == "" {
		log.Fatalf("at least one of watch_feed_url or poll_schedule must be set")
	}
	if cfg.PollSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.PollSchedule); err != nil {
			log.Fatalf("invalid poll_schedule '%s': %v", cfg.PollSchedule, err)
		}
	}

	if cfg.SlackBotToken != "" && cfg.SlackChannelID == "" {
		log.Fatalf("slack_channel_id is required when slack_bot_token is set")
	}

	if cfg.ExternalHTTPTimeoutSeconds < 1 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 1", cfg.ExternalHTTPTimeoutSeconds)
	}

	return cfg
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != ""
}

func (c Config) ConfigSyncConfigured() bool {
	return c.ConfigSyncURL != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
