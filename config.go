package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LangSmithAPIKey  string `yaml:"langsmith_api_key"`
	LangSmithBaseURL string `yaml:"langsmith_base_url"`
	ProjectName      string `yaml:"project_name"`

	DBPath             string `yaml:"db_path"`
	SyncBatchSize      int    `yaml:"sync_batch_size"`
	RequestDelayMS     int    `yaml:"request_delay_ms"`
	MaxRetries         int    `yaml:"max_retries"`
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds"`
	SyncSchedule       string `yaml:"sync_schedule"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	ReportChannelID string `yaml:"report_channel_id"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	LLMModel        string `yaml:"llm_model"`

	ListenAddr string `yaml:"listen_addr"`
	Timezone   string `yaml:"timezone"`

	Location *time.Location `yaml:"-"`
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
	envOverride(&cfg.LangSmithAPIKey, "LANGSMITH_API_KEY")
	envOverride(&cfg.LangSmithBaseURL, "LANGSMITH_BASE_URL")
	envOverride(&cfg.ProjectName, "PROJECT_NAME")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideInt(&cfg.SyncBatchSize, "SYNC_BATCH_SIZE")
	envOverrideInt(&cfg.RequestDelayMS, "REQUEST_DELAY_MS")
	envOverrideInt(&cfg.MaxRetries, "MAX_RETRIES")
	envOverrideInt(&cfg.HTTPTimeoutSeconds, "HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.SyncSchedule, "SYNC_SCHEDULE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.Timezone, "TIMEZONE")

	// Defaults
	if cfg.LangSmithBaseURL == "" {
		cfg.LangSmithBaseURL = "https://api.smith.langchain.com"
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = "evaluators"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./evalwatch.db"
	}
	if cfg.SyncBatchSize == 0 {
		cfg.SyncBatchSize = 100
	}
	if cfg.RequestDelayMS == 0 {
		cfg.RequestDelayMS = 100
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.HTTPTimeoutSeconds == 0 {
		cfg.HTTPTimeoutSeconds = 30
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "claude-sonnet-4-5-20250929"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	// Validate required fields
	if cfg.LangSmithAPIKey == "" {
		log.Fatalf("Required config 'langsmith_api_key' is not set (via config.yaml or env var)")
	}
	if cfg.SyncBatchSize < 1 {
		log.Fatalf("invalid sync_batch_size '%d': must be >= 1", cfg.SyncBatchSize)
	}
	if cfg.RequestDelayMS < 0 {
		log.Fatalf("invalid request_delay_ms '%d': must be >= 0", cfg.RequestDelayMS)
	}
	if cfg.MaxRetries < 1 {
		log.Fatalf("invalid max_retries '%d': must be >= 1", cfg.MaxRetries)
	}

	if cfg.Timezone == "Local" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	return cfg
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

// NewClientFromConfig builds the fetch client with the configured delay and
// retry policy.
func NewClientFromConfig(cfg Config) *Client {
	c := NewClient(cfg.LangSmithAPIKey, cfg.LangSmithBaseURL)
	c.RequestDelay = time.Duration(cfg.RequestDelayMS) * time.Millisecond
	c.MaxAttempts = cfg.MaxRetries
	return c
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.ReportChannelID != ""
}

func (c Config) DigestConfigured() bool {
	return c.AnthropicAPIKey != ""
}
