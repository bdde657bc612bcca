package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	LogLevel       string
	ServiceName    string

	// EncryptionKeyHex is the hex-encoded 32-byte key used to encrypt
	// vault credentials at rest.
	EncryptionKeyHex string

	// AdminToken guards the privileged catalog mutation endpoints.
	AdminToken string

	// CatalogSeedPath, when set, points at a YAML file of service
	// definitions upserted at startup.
	CatalogSeedPath string

	// Execution pool tuning.
	MaxUnitsPerUser  int
	MaxTotalUnits    int
	UnitIdleTimeout  time.Duration
	PoolSweepEvery   time.Duration
	ExecutionTimeout time.Duration

	// SimulateExecution routes dispatch to the built-in simulated executor
	// instead of spawning connector processes.
	SimulateExecution bool
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", "broker-api"),
		EncryptionKeyHex:  getEnv("ENCRYPTION_KEY", ""),
		AdminToken:        getEnv("ADMIN_TOKEN", ""),
		CatalogSeedPath:   getEnv("CATALOG_SEED_PATH", ""),
		MaxUnitsPerUser:   getEnvInt("POOL_MAX_UNITS_PER_USER", 10),
		MaxTotalUnits:     getEnvInt("POOL_MAX_TOTAL_UNITS", 100),
		UnitIdleTimeout:   getEnvDuration("POOL_IDLE_TIMEOUT", 5*time.Minute),
		PoolSweepEvery:    getEnvDuration("POOL_SWEEP_INTERVAL", time.Minute),
		ExecutionTimeout:  getEnvDuration("EXECUTION_TIMEOUT", 30*time.Second),
		SimulateExecution: getEnvBool("SIMULATE_EXECUTION", false),
	}

	return cfg, nil
}

// Validate checks that the fields required to run the broker API are set.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.EncryptionKeyHex == "" {
		missing = append(missing, "ENCRYPTION_KEY")
	}
	if c.HTTPListenAddr == "" {
		missing = append(missing, "HTTP_LISTEN_ADDR")
	}
	if len(missing) > 0 {
		return &MissingEnvError{Vars: missing}
	}
	return nil
}

// MissingEnvError lists required environment variables that were unset.
type MissingEnvError struct {
	Vars []string
}

func (e *MissingEnvError) Error() string {
	msg := "missing required configuration:"
	for _, v := range e.Vars {
		msg += " " + v
	}
	return msg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
