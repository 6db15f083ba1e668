package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Qdrant     QdrantConfig      `mapstructure:"qdrant"`
	Embeddings []EmbeddingConfig `mapstructure:"embeddings"`
	Processor  ProcessorConfig   `mapstructure:"processor"`
	Queue      QueueConfig       `mapstructure:"queue"`
	Search     SearchConfig      `mapstructure:"search"`
	Digest     DigestConfig      `mapstructure:"digest"`
	Security   SecurityConfig    `mapstructure:"security"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // sqlite file path
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

type ProcessorConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	Interval          time.Duration `mapstructure:"interval"`
	ImmediatePriority int           `mapstructure:"immediate_priority"` // priority <= this is processed in-request
	MaxChunkTokens    int           `mapstructure:"max_chunk_tokens"`
}

type QueueConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

type SearchConfig struct {
	ScoreThreshold float32 `mapstructure:"score_threshold"`
	MaxResultLimit int     `mapstructure:"max_result_limit"`
}

type DigestConfig struct {
	GatewayURL    string        `mapstructure:"gateway_url"` // notification gateway endpoint
	GatewayToken  string        `mapstructure:"gateway_token"`
	DispatchLimit int           `mapstructure:"dispatch_limit"` // max recipients per run, 0 = unlimited
	Timeout       time.Duration `mapstructure:"timeout"`
}

type SecurityConfig struct {
	WebhookSigningSecret string `mapstructure:"webhook_signing_secret"`
	CronSecret           string `mapstructure:"cron_secret"`
	AdminToken           string `mapstructure:"admin_token"`
	APIToken             string `mapstructure:"api_token"` // search auth; empty disables auth
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("digest.gateway_url", "NOTIFY_GATEWAY_URL")
	v.BindEnv("digest.gateway_token", "NOTIFY_GATEWAY_TOKEN")
	v.BindEnv("security.webhook_signing_secret", "WEBHOOK_SIGNING_SECRET")
	v.BindEnv("security.cron_secret", "CRON_SECRET")
	v.BindEnv("security.admin_token", "ADMIN_TOKEN")
	v.BindEnv("security.api_token", "API_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/pipeline.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)

	v.SetDefault("processor.batch_size", 10)
	v.SetDefault("processor.interval", "30s")
	v.SetDefault("processor.immediate_priority", 2)
	v.SetDefault("processor.max_chunk_tokens", 480)

	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.backoff_base", "1m")

	v.SetDefault("search.score_threshold", 0.7)
	v.SetDefault("search.max_result_limit", 100)

	v.SetDefault("digest.dispatch_limit", 0)
	v.SetDefault("digest.timeout", "10s")
}
