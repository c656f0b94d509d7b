package configs

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppPort string

	RedisHost string
	RedisPort string
	RedisPass string

	DBHost string
	DBPort string
	DBUser string
	DBPass string
	DBName string

	KafkaBootstrap string
	KafkaTopic     string

	EventQueueSize int
	ReaperInterval time.Duration

	MastodonBaseURL string
	MastodonToken   string
	BlueskyBaseURL  string
	BlueskyToken    string
	TelegramBaseURL string
	TelegramToken   string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppPort: getEnv("SYNC_APP_PORT", ":8090"),

		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),
		RedisPass: getEnv("REDIS_PASS", ""),

		DBHost: getEnv("SYNC_DB_HOST", "localhost"),
		DBPort: getEnv("SYNC_DB_PORT", "5432"),
		DBUser: getEnv("SYNC_DB_USER", "postgres"),
		DBPass: getEnv("SYNC_DB_PASS", "postgres"),
		DBName: getEnv("SYNC_DB_NAME", "sync_db"),

		KafkaBootstrap: getEnv("KAFKA_BOOTSTRAP", "localhost:9092"),
		KafkaTopic:     getEnv("KAFKA_TOPIC_RESULTS", "publish-results"),

		EventQueueSize: getEnvInt("SYNC_EVENT_QUEUE_SIZE", 256),
		ReaperInterval: getEnvDuration("SYNC_CACHE_REAPER_INTERVAL", time.Minute),

		MastodonBaseURL: getEnv("MASTODON_BASE_URL", "https://mastodon.social"),
		MastodonToken:   getEnv("MASTODON_TOKEN", ""),
		BlueskyBaseURL:  getEnv("BLUESKY_BASE_URL", "https://bsky.social"),
		BlueskyToken:    getEnv("BLUESKY_TOKEN", ""),
		TelegramBaseURL: getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
		TelegramToken:   getEnv("TELEGRAM_TOKEN", ""),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("SYNC_EVENT_QUEUE_SIZE must be positive, got %d", c.EventQueueSize)
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("SYNC_CACHE_REAPER_INTERVAL must be positive, got %s", c.ReaperInterval)
	}
	return nil
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName,
	)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
