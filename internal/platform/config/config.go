package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates all runtime configuration so main stays lean.
type Config struct {
	Server       Server
	Vendor       Vendor
	Ledger       Ledger
	Postgres     Postgres
	Redis        RedisConfig
	Kafka        Kafka
	Provisioning Provisioning
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
}

// Vendor configures the outbound eSIM vendor client.
type Vendor struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	CallbackURL string
}

// Ledger configures the storefront order ledger client.
type Ledger struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// Postgres configures the durable record store. Empty URL means the in-memory
// stores are used (development / tests).
type Postgres struct {
	URL string
}

// RedisConfig configures the Redis client used for webhook dedup markers and
// the distributed provisioning lock. Empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures notification fan-out. Empty broker list disables Kafka.
type Kafka struct {
	Brokers            []string
	NotificationsTopic string
	OpsTopic           string
}

// Provisioning tunes the orchestrator workflow.
type Provisioning struct {
	// MinBalance is the fail-fast threshold checked before any vendor
	// order is placed.
	MinBalance float64
	// GraceDelay precedes the first profile poll; polling immediately
	// after order placement is a certain miss.
	GraceDelay time.Duration
	// PollBaseDelay is doubled each attempt: attempt i waits base * 2^i.
	PollBaseDelay time.Duration
	// PollMaxAttempts bounds the poll loop.
	PollMaxAttempts int
	// ProductSignal marks order line items that need provisioning. Matched
	// case-insensitively against the line item name.
	ProductSignal string
}

// FromEnv builds the full config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envOr("SIMGATE_ADDR", ":8080"),
			JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Vendor: Vendor{
			BaseURL:     envOr("VENDOR_API_URL", "https://api.esim-vendor.example"),
			APIKey:      os.Getenv("VENDOR_API_KEY"),
			Timeout:     envDuration("VENDOR_TIMEOUT", 15*time.Second),
			CallbackURL: os.Getenv("VENDOR_CALLBACK_URL"),
		},
		Ledger: Ledger{
			BaseURL:        os.Getenv("LEDGER_API_URL"),
			ConsumerKey:    os.Getenv("LEDGER_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("LEDGER_CONSUMER_SECRET"),
			Timeout:        envDuration("LEDGER_TIMEOUT", 15*time.Second),
		},
		Postgres: Postgres{
			URL: os.Getenv("POSTGRES_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:            envList("KAFKA_BROKERS"),
			NotificationsTopic: envOr("KAFKA_NOTIFICATIONS_TOPIC", "simgate.notifications"),
			OpsTopic:           envOr("KAFKA_OPS_TOPIC", "simgate.ops"),
		},
		Provisioning: Provisioning{
			MinBalance:      envFloat("PROVISION_MIN_BALANCE", 10),
			GraceDelay:      envDuration("PROVISION_GRACE_DELAY", 5*time.Second),
			PollBaseDelay:   envDuration("PROVISION_POLL_BASE_DELAY", 3*time.Second),
			PollMaxAttempts: envInt("PROVISION_POLL_MAX_ATTEMPTS", 10),
			ProductSignal:   envOr("PROVISION_PRODUCT_SIGNAL", "esim"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
