// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig         `mapstructure:"app"`
	Database     DatabaseConfig    `mapstructure:"database"`
	Scheduler    SchedulerConfig   `mapstructure:"scheduler"`
	Engagement   EngagementConfig  `mapstructure:"engagement"`
	Planner      PlannerConfig     `mapstructure:"planner"`
	LLM          LLMConfig         `mapstructure:"llm"`
	Templates    TemplatesConfig   `mapstructure:"templates"`
	Integrations IntegrationConfig `mapstructure:"integrations"`
	Tracking     TrackingConfig    `mapstructure:"tracking"`
	Agentverse   AgentverseConfig  `mapstructure:"agentverse"`
	Metrics      MetricsConfig     `mapstructure:"metrics"`
	Logging      LoggingConfig     `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Nurture Pipeline Sections ---

// SchedulerConfig holds settings for the job due-poller.
type SchedulerConfig struct {
	PollInterval  int `mapstructure:"poll_interval"`  // milliseconds
	MisfireGrace  int `mapstructure:"misfire_grace"`  // milliseconds
	WorkerCount   int `mapstructure:"worker_count"`
	ClaimBatch    int `mapstructure:"claim_batch"`
	LockLease     int `mapstructure:"lock_lease"`     // milliseconds, per-lead lock
	LockWait      int `mapstructure:"lock_wait"`      // milliseconds, acquire budget
}

// EngagementConfig holds skip/escalation thresholds.
type EngagementConfig struct {
	MinOpenRate            float64  `mapstructure:"min_open_rate"`
	MinReplyRate           float64  `mapstructure:"min_reply_rate"`
	NegativeKeywords       []string `mapstructure:"negative_keywords"`
	NegativeKeywordWindow  int      `mapstructure:"negative_keyword_window"` // last N interactions
	ConversionCooldownDays int      `mapstructure:"conversion_cooldown_days"`
	RateWindowDays         int      `mapstructure:"rate_window_days"`
}

// PlannerConfig holds plan generation settings.
type PlannerConfig struct {
	FallbackTemplate  string  `mapstructure:"fallback_template"`
	FallbackDelayDays int     `mapstructure:"fallback_delay_days"`
	SpacingMultiplier float64 `mapstructure:"spacing_multiplier"`
}

// LLMConfig holds settings for the text-generation service.
type LLMConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Temperature    float64 `mapstructure:"temperature"`
	Timeout        int     `mapstructure:"timeout"` // milliseconds, clamped to 10-30s
	MaxRetries     int     `mapstructure:"max_retries"`
}

// TemplatesConfig holds the template store and seed registry settings.
type TemplatesConfig struct {
	PersistPath  string `mapstructure:"persist_path"`
	Collection   string `mapstructure:"collection"`
	RegistryPath string `mapstructure:"registry_path"`
	SeedOnStart  bool   `mapstructure:"seed_on_start"`
}

// IntegrationConfig holds settings for delivery and alerting services.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			EscalationTopicARN string `mapstructure:"escalation_topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`

	Slack struct {
		Enabled        bool   `mapstructure:"enabled"`
		BotToken       string `mapstructure:"bot_token"`
		DefaultChannel string `mapstructure:"default_channel"`
		APIBaseURL     string `mapstructure:"api_base_url"`
	} `mapstructure:"slack"`
}

// TrackingConfig holds the pixel/webhook HTTP server settings.
type TrackingConfig struct {
	ListenAddr    string `mapstructure:"listen_addr"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	PixelTTLHours int    `mapstructure:"pixel_ttl_hours"`
}

// AgentverseConfig holds discovery network settings.
type AgentverseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	BaseURL         string `mapstructure:"base_url"`
	APIKey          string `mapstructure:"api_key"`
	AgentName       string `mapstructure:"agent_name"`
	Endpoint        string `mapstructure:"endpoint"`
	RegisterOnStart bool   `mapstructure:"register_on_start"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
