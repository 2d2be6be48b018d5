// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"nurture-engine/internal/common/errors"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like OPENAI_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	// 1️⃣ LOAD BASE CONFIG
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// 2️⃣ LOAD ENV CONFIG
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig() // ignore error if not found

	// 3️⃣ EXPAND ENV PLACEHOLDERS
	expandEnvVars(viper.GetViper())

	// 4️⃣ Unmarshal final config
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	// 5️⃣ DIRECT OVERRIDE IF STILL EMPTY
	overrideEmptyConfig(&cfg)

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Load .env from multiple possible locations
func loadEnvFile() {
	// Try multiple paths (for running from different directories)
	possiblePaths := []string{
		".env",          // Current directory
		"../.env",       // Parent directory
		"../../.env",    // Two levels up (for tests in test/e2e/)
		"../../../.env", // Three levels up
	}

	// Also try to find project root by looking for go.mod
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				fmt.Printf("✅ Loaded .env from: %s\n", path)
				return
			}
		}
	}

	fmt.Printf("⚠️  .env file not found in any location, using system environment variables\n")
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Walk up directories looking for go.mod
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}

// Improved environment variable expansion
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		// Only process string values
		if strVal, ok := val.(string); ok {
			// Check if it contains environment variable pattern
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	// LLM API
	if cfg.LLM.APIKey == "" {
		if val := os.Getenv("OPENAI_API_KEY"); val != "" {
			cfg.LLM.APIKey = val
		}
	}
	if cfg.LLM.BaseURL == "" {
		if val := os.Getenv("OPENAI_BASE_URL"); val != "" {
			cfg.LLM.BaseURL = val
		}
	}

	// Slack
	if cfg.Integrations.Slack.BotToken == "" {
		if val := os.Getenv("SLACK_BOT_TOKEN"); val != "" {
			cfg.Integrations.Slack.BotToken = val
		}
	}

	// Agentverse
	if cfg.Agentverse.APIKey == "" {
		if val := os.Getenv("AGENTVERSE_API_KEY"); val != "" {
			cfg.Agentverse.APIKey = val
		}
	}
	if cfg.Agentverse.BaseURL == "" {
		if val := os.Getenv("AGENTVERSE_URL"); val != "" {
			cfg.Agentverse.BaseURL = val
		}
	}

	// Tracking
	if cfg.Tracking.PublicBaseURL == "" {
		if val := os.Getenv("TRACKING_DOMAIN"); val != "" {
			cfg.Tracking.PublicBaseURL = val
		}
	}

	// Database overrides
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile() // Load env file first

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Expand environment variables before unmarshal
	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Scheduler defaults
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = 15000
	}
	if cfg.Scheduler.MisfireGrace == 0 {
		cfg.Scheduler.MisfireGrace = 3600000 // 1 hour
	}
	if cfg.Scheduler.WorkerCount == 0 {
		cfg.Scheduler.WorkerCount = 4
	}
	if cfg.Scheduler.ClaimBatch == 0 {
		cfg.Scheduler.ClaimBatch = 20
	}
	if cfg.Scheduler.LockLease == 0 {
		cfg.Scheduler.LockLease = 30000
	}
	if cfg.Scheduler.LockWait == 0 {
		cfg.Scheduler.LockWait = 5000
	}

	// Engagement defaults
	if cfg.Engagement.MinOpenRate == 0 {
		cfg.Engagement.MinOpenRate = 0.3
	}
	if cfg.Engagement.MinReplyRate == 0 {
		cfg.Engagement.MinReplyRate = 0.1
	}
	if len(cfg.Engagement.NegativeKeywords) == 0 {
		cfg.Engagement.NegativeKeywords = []string{"unsubscribe", "not interested", "stop"}
	}
	if cfg.Engagement.NegativeKeywordWindow == 0 {
		cfg.Engagement.NegativeKeywordWindow = 5
	}
	if cfg.Engagement.ConversionCooldownDays == 0 {
		cfg.Engagement.ConversionCooldownDays = 30
	}
	if cfg.Engagement.RateWindowDays == 0 {
		cfg.Engagement.RateWindowDays = 90
	}

	// Planner defaults
	if cfg.Planner.FallbackTemplate == "" {
		cfg.Planner.FallbackTemplate = "general_followup"
	}
	if cfg.Planner.FallbackDelayDays == 0 {
		cfg.Planner.FallbackDelayDays = 7
	}
	if cfg.Planner.SpacingMultiplier == 0 {
		cfg.Planner.SpacingMultiplier = 1.5
	}

	// LLM defaults: the completion deadline stays inside the 10-30s band
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-3.5-turbo"
	}
	if cfg.LLM.EmbeddingModel == "" {
		cfg.LLM.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 20000
	}
	if cfg.LLM.Timeout < 10000 {
		cfg.LLM.Timeout = 10000
	}
	if cfg.LLM.Timeout > 30000 {
		cfg.LLM.Timeout = 30000
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 2
	}

	// Template store defaults
	if cfg.Templates.Collection == "" {
		cfg.Templates.Collection = "templates"
	}
	if cfg.Templates.RegistryPath == "" {
		cfg.Templates.RegistryPath = "configs/templates.json"
	}

	// Slack defaults
	if cfg.Integrations.Slack.APIBaseURL == "" {
		cfg.Integrations.Slack.APIBaseURL = "https://slack.com/api"
	}
	if cfg.Integrations.Slack.DefaultChannel == "" {
		cfg.Integrations.Slack.DefaultChannel = "#sales"
	}

	// Tracking defaults
	if cfg.Tracking.ListenAddr == "" {
		cfg.Tracking.ListenAddr = ":8085"
	}
	if cfg.Tracking.PixelTTLHours == 0 {
		cfg.Tracking.PixelTTLHours = 720 // 30 days
	}

	// Metrics defaults
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":2112"
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	// Elasticsearch URL fallback
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields. Failures here are
// fatal at startup, never per-operation.
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return errors.NewConfigurationError("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return errors.NewConfigurationError("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return errors.NewConfigurationError("database.postgres.user is required")
	}

	if len(cfg.Database.Elasticsearch.Addresses) == 0 && cfg.Database.Elasticsearch.URL == "" {
		return errors.NewConfigurationError("database.elasticsearch.addresses or url is required")
	}

	if cfg.Database.Redis.Address == "" {
		return errors.NewConfigurationError("database.redis.address is required")
	}

	if cfg.LLM.Enabled && cfg.LLM.APIKey == "" {
		return errors.NewConfigurationError("llm.api_key is required when llm.enabled is true")
	}
	if cfg.LLM.Enabled && cfg.LLM.BaseURL == "" {
		return errors.NewConfigurationError("llm.base_url is required when llm.enabled is true")
	}

	if cfg.Integrations.AWS.SES.Enabled && cfg.Integrations.AWS.SES.FromEmail == "" {
		return errors.NewConfigurationError("integrations.aws.ses.from_email is required when SES is enabled")
	}
	if cfg.Integrations.AWS.SNS.Enabled && cfg.Integrations.AWS.SNS.EscalationTopicARN == "" {
		return errors.NewConfigurationError("integrations.aws.sns.escalation_topic_arn is required when SNS is enabled")
	}
	if cfg.Integrations.Slack.Enabled && cfg.Integrations.Slack.BotToken == "" {
		return errors.NewConfigurationError("integrations.slack.bot_token is required when Slack is enabled")
	}

	if cfg.Agentverse.Enabled && cfg.Agentverse.BaseURL == "" {
		return errors.NewConfigurationError("agentverse.base_url is required when agentverse is enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
