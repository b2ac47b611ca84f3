package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Outbox   OutboxConfig
	Resolver ResolverConfig
	Policy   *Policy
}

// ServiceConfig identifies the running service in logs.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
	// StoreDriver selects "postgres" or "memory".
	StoreDriver string
	// BootstrapAdmin, when set, is granted the first override role at startup
	// so a fresh deployment has someone who can build the org chart.
	BootstrapAdmin string
	CORSOrigins    []string
}

// ServerConfig holds HTTP and gRPC listener settings.
type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	CommandRate     float64
	CommandBurst    int
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix
}

// DatabaseConfig holds PostgreSQL pool settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
	Migrate     bool
}

// DSN renders a libpq style connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// NATSConfig holds the outbox relay's broker settings.
type NATSConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
}

// OutboxConfig tunes the relay loop.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// ResolverConfig tunes approver resolution caching.
type ResolverConfig struct {
	CacheTTL time.Duration
	MaxDepth int
	// RefreshInterval re-resolves the approvers of pending requests so seat
	// terms that lapse without a hierarchy write still reroute. Zero disables.
	RefreshInterval time.Duration
}

// Load reads configuration from the environment and, when POLICY_FILE is
// set, the workflow policy from YAML. Missing policy falls back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:           getEnv("SERVICE_NAME", "be-hr-workflows"),
			Version:        getEnv("SERVICE_VERSION", "dev"),
			Environment:    getEnv("ENVIRONMENT", "development"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			StoreDriver:    getEnv("STORE_DRIVER", "postgres"),
			BootstrapAdmin: getEnv("BOOTSTRAP_ADMIN", ""),
			CORSOrigins:    strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
		},
		Server: ServerConfig{
			Port:            getEnvInt("HTTP_PORT", 8086),
			GRPCPort:        getEnvInt("GRPC_PORT", 9086),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
			RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			CommandRate:     getEnvFloat("COMMAND_RATE_PER_SECOND", 50),
			CommandBurst:    getEnvInt("COMMAND_RATE_BURST", 100),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			Database:    getEnv("DB_NAME", "hr_workflows"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			HealthCheck: getEnvDuration("DB_HEALTH_CHECK_PERIOD", time.Minute),
			Migrate:     getEnvBool("DB_MIGRATE", true),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			Stream:        getEnv("NATS_STREAM", "NOTIFICATIONS"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "notifications.hr"),
		},
		Outbox: OutboxConfig{
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:  getEnvInt("OUTBOX_MAX_ATTEMPTS", 10),
		},
		Resolver: ResolverConfig{
			CacheTTL:        getEnvDuration("RESOLVER_CACHE_TTL", 30*time.Second),
			MaxDepth:        getEnvInt("RESOLVER_MAX_DEPTH", 32),
			RefreshInterval: getEnvDuration("RESOLVER_REFRESH_INTERVAL", time.Minute),
		},
	}

	proxies, err := ParseTrustedProxies(getEnv("TRUSTED_PROXIES", ""))
	if err != nil {
		return nil, err
	}
	cfg.Server.TrustedProxies = proxies

	policy := DefaultPolicy()
	if path := os.Getenv("POLICY_FILE"); path != "" {
		p, err := LoadPolicyFile(path)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	cfg.Policy = policy

	if cfg.Outbox.BatchSize <= 0 {
		return nil, fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if cfg.Service.StoreDriver != "postgres" && cfg.Service.StoreDriver != "memory" {
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.Service.StoreDriver)
	}
	if cfg.Resolver.MaxDepth <= 0 {
		return nil, fmt.Errorf("RESOLVER_MAX_DEPTH must be positive")
	}
	return cfg, nil
}

// ParseTrustedProxies reads a comma separated list of CIDR prefixes or bare
// addresses.
func ParseTrustedProxies(list string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		out = append(out, prefix.Masked())
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
