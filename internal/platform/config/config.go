package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Server captures process level configuration.
type Server struct {
	Addr           string        `env:"RECONCILE_ADDR"  envDefault:":8080"`
	Store          string        `env:"RECONCILE_STORE" envDefault:"memory"`
	LogLevel       string        `env:"LOG_LEVEL"       envDefault:"info"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	LockTTL        time.Duration `env:"LOCK_TTL"        envDefault:"10s"`

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// DatabaseConfig configures the PostgreSQL pool and contact transactions.
type DatabaseConfig struct {
	URL          string        `env:"DATABASE_URL"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	TxTimeout    time.Duration `env:"TX_TIMEOUT"        envDefault:"5s"`
	TxMaxRetries int           `env:"TX_MAX_RETRIES"    envDefault:"3"`
}

// RedisConfig configures the optional lock backend. An empty URL disables it.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE"      envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"   envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT"   envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"  envDefault:"3s"`
}

// KafkaConfig configures the optional audit stream. No brokers disables it.
type KafkaConfig struct {
	Brokers     []string `env:"KAFKA_BROKERS"     envSeparator:","`
	AuditTopic  string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"contact-audit"`
	Partitions  int32    `env:"KAFKA_AUDIT_PARTITIONS" envDefault:"3"`
	Replication int16    `env:"KAFKA_AUDIT_REPLICATION" envDefault:"1"`
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func (c Server) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when RECONCILE_STORE=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("unknown RECONCILE_STORE %q (want %s or %s)", c.Store, StoreMemory, StorePostgres)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	return nil
}
