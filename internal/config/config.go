// Package config provides environment-based configuration management
// Values come from defaults, then an optional YAML file (RELAY_CONFIG), then env vars.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFileLinkTemplate is the text sent instead of a file attachment on
// Facebook page inboxes; %s receives the (shortened) download URL
const DefaultFileLinkTemplate = "Puedes descargar el archivo aquí: [Descargar Archivo](%s)"

// DBConfig holds database connection parameters
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Addr     string        `yaml:"addr"` // Format: host:port
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// NATSConfig is optional; an empty URL disables event publishing
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port             int    `yaml:"port"`
	LogLevel         string `yaml:"log_level"`
	PublicURL        string `yaml:"public_url"` // base URL Chatwoot uses to reach the webhook
	WebhookSecret    string `yaml:"webhook_secret"`
	LogStreamSecret  string `yaml:"log_stream_secret"`
	APIKey           string `yaml:"api_key"` // required in X-Api-Key on /api routes when set
	FileLinkTemplate string `yaml:"file_link_template"`
	RegisterOnStart  bool   `yaml:"register_on_start"`
}

// ChatwootConfig holds the Chatwoot account and agent bot settings
type ChatwootConfig struct {
	BaseURL      string        `yaml:"base_url"`
	AccountID    int           `yaml:"account_id"`
	UserAPIKey   string        `yaml:"user_api_key"`
	BotToken     string        `yaml:"bot_token"` // optional, falls back to the token stored at register
	InboxIDs     []int         `yaml:"inbox_ids"`
	AgentBotName string        `yaml:"agent_bot_name"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second, 0 disables
	Timeout      time.Duration `yaml:"timeout"`
}

// WatchdogConfig controls webhook log housekeeping
type WatchdogConfig struct {
	Interval      time.Duration `yaml:"interval"`
	DiskThreshold float64       `yaml:"disk_threshold"` // percent used
	Retention     time.Duration `yaml:"retention"`
	Path          string        `yaml:"path"`
}

// Config aggregates all configuration sections
type Config struct {
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	App      AppConfig      `yaml:"app"`
	Chatwoot ChatwootConfig `yaml:"chatwoot"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		DB: DBConfig{
			Host:     "chatwoot_relay_db",
			Port:     3306,
			User:     "root",
			Database: "chatwoot_relay",
		},
		Redis: RedisConfig{
			Addr:     "chatwoot_relay_redis:6379",
			DedupTTL: 24 * time.Hour,
		},
		NATS: NATSConfig{
			Subject: "bot.incoming",
		},
		App: AppConfig{
			Port:             8080,
			LogLevel:         "info",
			FileLinkTemplate: DefaultFileLinkTemplate,
		},
		Chatwoot: ChatwootConfig{
			AgentBotName: "Chatwoot Relay Bot",
			Timeout:      10 * time.Second,
		},
		Watchdog: WatchdogConfig{
			Interval:      10 * time.Minute,
			DiskThreshold: 70,
			Retention:     7 * 24 * time.Hour,
			Path:          "/",
		},
	}
}

// LoadConfig reads configuration from .env, the optional RELAY_CONFIG file and env vars
// Returns error if critical variables are missing
func LoadConfig() (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	// Database Configuration
	cfg.DB.Host = getEnv("DB_HOST", cfg.DB.Host)
	cfg.DB.Port = getEnvAsInt("DB_PORT", cfg.DB.Port)
	cfg.DB.User = getEnv("DB_USER", cfg.DB.User)
	cfg.DB.Password = getEnv("DB_PASS", cfg.DB.Password)
	cfg.DB.Database = getEnv("DB_NAME", cfg.DB.Database)

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.DedupTTL = getEnvAsDuration("DEDUP_TTL", cfg.Redis.DedupTTL)

	// NATS Configuration
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = getEnv("NATS_SUBJECT", cfg.NATS.Subject)

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.PublicURL = getEnv("PUBLIC_URL", cfg.App.PublicURL)
	cfg.App.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.App.WebhookSecret)
	cfg.App.LogStreamSecret = getEnv("LOG_STREAM_SECRET", cfg.App.LogStreamSecret)
	cfg.App.APIKey = getEnv("RELAY_API_KEY", cfg.App.APIKey)
	cfg.App.FileLinkTemplate = getEnv("FILE_LINK_TEMPLATE", cfg.App.FileLinkTemplate)
	cfg.App.RegisterOnStart = getEnvAsBool("REGISTER_ON_START", cfg.App.RegisterOnStart)

	// Chatwoot Configuration
	cfg.Chatwoot.BaseURL = strings.TrimRight(getEnv("CHATWOOT_BASE_URL", cfg.Chatwoot.BaseURL), "/")
	cfg.Chatwoot.AccountID = getEnvAsInt("CHATWOOT_ACCOUNT_ID", cfg.Chatwoot.AccountID)
	cfg.Chatwoot.UserAPIKey = getEnv("CHATWOOT_USER_API_KEY", cfg.Chatwoot.UserAPIKey)
	cfg.Chatwoot.BotToken = getEnv("CHATWOOT_BOT_TOKEN", cfg.Chatwoot.BotToken)
	cfg.Chatwoot.InboxIDs = getEnvAsIntList("CHATWOOT_INBOX_IDS", cfg.Chatwoot.InboxIDs)
	cfg.Chatwoot.AgentBotName = getEnv("CHATWOOT_AGENT_BOT_NAME", cfg.Chatwoot.AgentBotName)
	cfg.Chatwoot.RateLimit = getEnvAsFloat("CHATWOOT_RATE_LIMIT", cfg.Chatwoot.RateLimit)
	cfg.Chatwoot.Timeout = getEnvAsDuration("CHATWOOT_TIMEOUT", cfg.Chatwoot.Timeout)

	// Watchdog Configuration
	cfg.Watchdog.Interval = getEnvAsDuration("WATCHDOG_INTERVAL", cfg.Watchdog.Interval)
	cfg.Watchdog.DiskThreshold = getEnvAsFloat("WATCHDOG_DISK_THRESHOLD", cfg.Watchdog.DiskThreshold)
	cfg.Watchdog.Retention = getEnvAsDuration("WATCHDOG_RETENTION", cfg.Watchdog.Retention)
	cfg.Watchdog.Path = getEnv("WATCHDOG_PATH", cfg.Watchdog.Path)
}

// Validate checks the variables the relay cannot run without
func (c *Config) Validate() error {
	var errs []error
	if c.Chatwoot.BaseURL == "" {
		errs = append(errs, errors.New("CHATWOOT_BASE_URL environment variable is required"))
	}
	if c.Chatwoot.AccountID <= 0 {
		errs = append(errs, errors.New("CHATWOOT_ACCOUNT_ID environment variable is required"))
	}
	if c.Chatwoot.UserAPIKey == "" {
		errs = append(errs, errors.New("CHATWOOT_USER_API_KEY environment variable is required"))
	}
	if c.DB.Password == "" {
		errs = append(errs, errors.New("DB_PASS environment variable is required"))
	}
	if c.App.RegisterOnStart && c.App.PublicURL == "" {
		errs = append(errs, errors.New("PUBLIC_URL is required when REGISTER_ON_START is set"))
	}
	return errors.Join(errs...)
}

// GetDSN returns MariaDB connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=false",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// WebhookURL is the outgoing_url given to the Chatwoot agent bot
func (c *AppConfig) WebhookURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/webhook/chatwoot"
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s", "24h")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsIntList reads a comma separated list such as "3,7,12"
func getEnvAsIntList(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
