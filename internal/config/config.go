// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full service configuration. Every field can be set from the
// environment; cmd/server flags override a subset.
type Config struct {
	// Upstream
	RPCEndpoint string `env:"SOLANA_RPC_ENDPOINT"`
	WSEndpoint  string `env:"SOLANA_WS_ENDPOINT"`
	Programs    string `env:"PROGRAMS,default=6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=pumpfun_trades"`
	KafkaGroupID string `env:"KAFKA_GROUP_ID,default=pumpfun-candles"`

	IngestWorkers int `env:"INGEST_WORKERS,default=4"`

	// Storage
	UseMemory     bool          `env:"USE_MEMORY,default=false"`
	PostgresDSN   string        `env:"POSTGRES_DSN"`
	ClickhouseDSN string        `env:"CLICKHOUSE_DSN"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	CacheWindow   time.Duration `env:"CACHE_WINDOW,default=24h"`

	// Aggregation
	EngineShards int           `env:"ENGINE_SHARDS,default=64"`
	LateGrace    time.Duration `env:"LATE_GRACE,default=0s"`

	// Persistence
	WriterShards     int           `env:"WRITER_SHARDS,default=4"`
	WriterQueueSize  int           `env:"WRITER_QUEUE_SIZE,default=10000"`
	WriterMaxRetries int           `env:"WRITER_MAX_RETRIES,default=3"`
	WriterRetryDelay time.Duration `env:"WRITER_RETRY_DELAY,default=200ms"`

	// Distribution
	HubShards           int `env:"HUB_SHARDS,default=32"`
	SubscriberQueueSize int `env:"SUBSCRIBER_QUEUE_SIZE,default=256"`
	MaxConsecutiveDrops int `env:"MAX_CONSECUTIVE_DROPS,default=1024"`
	HistoryBuckets      int `env:"HISTORY_BUCKETS,default=100"`

	// Registry
	MetadataRate      float64       `env:"METADATA_RATE,default=5"`
	MetadataBurst     int           `env:"METADATA_BURST,default=5"`
	TokenWriteQueue   int           `env:"TOKEN_WRITE_QUEUE,default=4096"`
	TokenStoreTimeout time.Duration `env:"TOKEN_STORE_TIMEOUT,default=5s"`

	// HTTP
	HTTPAddr  string `env:"HTTP_ADDR,default=:8080"`
	StaticDir string `env:"STATIC_DIR"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`
}

// Load reads an optional .env file (existing variables win) and decodes the
// environment into a Config.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// Missing files are fine; the process environment is authoritative.
		_ = godotenv.Load(f)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// ProgramList returns the configured program IDs.
func (c *Config) ProgramList() []string {
	return splitList(c.Programs)
}

// KafkaBrokerList returns the configured Kafka brokers.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// Validate checks that the combination of settings can start a server.
func (c *Config) Validate() error {
	if c.WSEndpoint == "" && c.KafkaBrokers == "" {
		return errors.New("no upstream configured: set SOLANA_WS_ENDPOINT or KAFKA_BROKERS")
	}
	if !c.UseMemory && c.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required (set USE_MEMORY=true for in-memory storage)")
	}
	if c.LateGrace < 0 {
		return fmt.Errorf("LATE_GRACE must not be negative, got %v", c.LateGrace)
	}
	if c.HistoryBuckets < 0 {
		return fmt.Errorf("HISTORY_BUCKETS must not be negative, got %d", c.HistoryBuckets)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
