// Package config loads service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/shop-ledger/internal/ledger"
)

// Event sinks.
const (
	EventSinkNone  = "none"
	EventSinkRedis = "redis"
	EventSinkKafka = "kafka"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	DBDriver    string
	DatabaseURL string

	APIAddr      string
	GRPCAddr     string
	MaxBodyBytes int64
	IPAllowlist  []string
	TLSCertFile  string
	TLSKeyFile   string
	TLSCAFile    string

	RedisAddr          string
	RateLimitCapacity  int
	RateLimitRefillSec int

	ClientsFile    string
	SigningKeyFile string
	TokenIssuer    string
	TokenTTL       time.Duration

	EventSink    string
	KafkaBrokers []string
	KafkaTopic   string

	NetCreditPolicy ledger.NetCreditPolicy

	// AuditLogFile receives the audit chain as JSON lines when set.
	AuditLogFile string
}

// Load reads an optional .env file and then the environment. With no path,
// a .env in the working directory is used when present. Variables already
// set in the environment win over the file.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}
	return LoadFromEnv()
}

// LoadFromEnv builds and validates a Config from environment variables only.
func LoadFromEnv() (*Config, error) {
	var errs []error

	maxBody, err := getenvInt("API_MAX_BODY_BYTES", 1<<20)
	errs = append(errs, err)
	capacity, err := getenvInt("API_RATE_LIMIT_CAPACITY", 20)
	errs = append(errs, err)
	refill, err := getenvInt("API_RATE_LIMIT_REFILL_PER_SEC", 10)
	errs = append(errs, err)
	ttl, err := getenvDuration("TOKEN_TTL", 15*time.Minute)
	errs = append(errs, err)
	policy, err := ledger.ParseNetCreditPolicy(os.Getenv("NET_CREDIT_POLICY"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:        os.Getenv("APP_ENV"),
		DBDriver:           getenv("DB_DRIVER", ledger.DriverPostgres),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		APIAddr:            getenv("API_ADDR", ":8443"),
		GRPCAddr:           getenv("GRPC_ADDR", ":50051"),
		MaxBodyBytes:       int64(maxBody),
		IPAllowlist:        splitList(os.Getenv("API_IP_ALLOWLIST")),
		TLSCertFile:        os.Getenv("API_TLS_CERT"),
		TLSKeyFile:         os.Getenv("API_TLS_KEY"),
		TLSCAFile:          os.Getenv("API_TLS_CA"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RateLimitCapacity:  capacity,
		RateLimitRefillSec: refill,
		ClientsFile:        os.Getenv("API_CLIENTS_FILE"),
		SigningKeyFile:     os.Getenv("TOKEN_SIGNING_KEY_FILE"),
		TokenIssuer:        getenv("TOKEN_ISSUER", "shop-ledger"),
		TokenTTL:           ttl,
		EventSink:          strings.ToLower(getenv("EVENT_SINK", EventSinkNone)),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         os.Getenv("KAFKA_TOPIC"),
		NetCreditPolicy:    policy,
		AuditLogFile:       os.Getenv("AUDIT_LOG_FILE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.EventSink == EventSinkRedis && c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if c.EventSink == EventSinkKafka && len(c.KafkaBrokers) == 0 {
		missing = append(missing, "KAFKA_BROKERS")
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	switch c.DBDriver {
	case ledger.DriverPostgres, ledger.DriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER must be %s or %s, got %q", ledger.DriverPostgres, ledger.DriverSQLite, c.DBDriver)
	}
	switch c.EventSink {
	case EventSinkNone, EventSinkRedis, EventSinkKafka:
	default:
		return fmt.Errorf("EVENT_SINK must be none, redis or kafka, got %q", c.EventSink)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("API_TLS_CERT and API_TLS_KEY must be set together")
	}

	if c.IsProduction() {
		if c.ClientsFile == "" {
			missing = append(missing, "API_CLIENTS_FILE")
		}
		if c.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
		if c.SigningKeyFile == "" {
			missing = append(missing, "TOKEN_SIGNING_KEY_FILE")
		}
		if len(missing) > 0 {
			return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(missing, ", "))
		}
		if c.DBDriver == ledger.DriverSQLite {
			return errors.New("DB_DRIVER=sqlite3 is not allowed in " + c.Environment)
		}
	}
	return nil
}

// IsProduction reports whether the stricter production rules apply.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
