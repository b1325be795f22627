// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is immutable after Load.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Anchor       AnchorConfig
	Verification VerificationConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `env:"AIDTRACE_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"AIDTRACE_READ_TIMEOUT,default=10s"`
	WriteTimeout    time.Duration `env:"AIDTRACE_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"AIDTRACE_SHUTDOWN_TIMEOUT,default=10s"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// DatabaseConfig selects the ledger backend. An empty URL keeps the ledger in memory.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	AutoMigrate     bool          `env:"DATABASE_AUTO_MIGRATE,default=true"`
}

// RedisConfig configures the confirmation cache. An empty URL disables it.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE,default=10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS,default=2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT,default=5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT,default=3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT,default=3s"`
	ConfirmedTTL time.Duration `env:"REDIS_CONFIRMED_TTL,default=24h"`
}

// KafkaConfig configures verification event publishing. Empty brokers disable it.
type KafkaConfig struct {
	Brokers           string `env:"KAFKA_BROKERS"`
	Topic             string `env:"KAFKA_TOPIC,default=aidtrace.verifications"`
	Partitions        int32  `env:"KAFKA_TOPIC_PARTITIONS,default=3"`
	ReplicationFactor int16  `env:"KAFKA_TOPIC_REPLICATION,default=1"`

	DeliveryTimeout time.Duration `env:"KAFKA_DELIVERY_TIMEOUT,default=5s"`
}

// BrokerList splits the comma separated broker list.
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// AnchorConfig configures the ledger anchor. When RPCURL is empty every
// submission is simulated.
type AnchorConfig struct {
	RPCURL           string        `env:"ANCHOR_RPC_URL"`
	ContractHash     string        `env:"ANCHOR_CONTRACT_HASH"`
	PrivateKeyHex    string        `env:"ANCHOR_PRIVATE_KEY"`
	DialTimeout      time.Duration `env:"ANCHOR_DIAL_TIMEOUT,default=5s"`
	CallTimeout      time.Duration `env:"ANCHOR_CALL_TIMEOUT,default=5s"`
	FailureThreshold int           `env:"ANCHOR_BREAKER_FAILURES,default=5"`
	SuccessThreshold int           `env:"ANCHOR_BREAKER_SUCCESSES,default=3"`
	BreakerCooldown  time.Duration `env:"ANCHOR_BREAKER_COOLDOWN,default=30s"`
}

// Enabled reports whether a live anchor is configured.
func (a AnchorConfig) Enabled() bool {
	return a.RPCURL != ""
}

type VerificationConfig struct {
	BatchConcurrency int    `env:"VERIFICATION_BATCH_CONCURRENCY,default=8"`
	RefreshSchedule  string `env:"VERIFICATION_REFRESH_SCHEDULE,default=@every 1m"`
	RefreshBatchSize int    `env:"VERIFICATION_REFRESH_BATCH,default=100"`
	RefreshEnabled   bool   `env:"VERIFICATION_REFRESH_ENABLED,default=true"`
}

// Load reads the given .env files (default ".env") when present, then decodes
// the environment into a Config.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format))
	}
	if c.Anchor.Enabled() && (c.Anchor.ContractHash == "" || c.Anchor.PrivateKeyHex == "") {
		errs = append(errs, errors.New("ANCHOR_CONTRACT_HASH and ANCHOR_PRIVATE_KEY are required when ANCHOR_RPC_URL is set"))
	}
	if c.Anchor.CallTimeout <= 0 {
		errs = append(errs, errors.New("ANCHOR_CALL_TIMEOUT must be positive"))
	}
	if c.Verification.BatchConcurrency <= 0 {
		errs = append(errs, errors.New("VERIFICATION_BATCH_CONCURRENCY must be positive"))
	}
	if c.Verification.RefreshBatchSize <= 0 {
		errs = append(errs, errors.New("VERIFICATION_REFRESH_BATCH must be positive"))
	}
	if c.Kafka.Brokers != "" && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}
