package config

import "strings"

// StoreBackend names a job store implementation.
type StoreBackend string

const (
	// StoreBackendRedis keeps jobs and results as TTL'd JSON documents in Redis.
	StoreBackendRedis StoreBackend = "redis"
	// StoreBackendPostgres keeps jobs and results in Postgres tables with expiry columns.
	StoreBackendPostgres StoreBackend = "postgres"
)

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Backend StoreBackend `env:"JOB_STORE_BACKEND" envDefault:"redis"`
}

// Sanitize falls back to Redis for unknown backends.
func (s *StoreConfig) Sanitize() {
	s.Backend = StoreBackend(strings.ToLower(strings.TrimSpace(string(s.Backend))))
	if s.Backend != StoreBackendPostgres {
		s.Backend = StoreBackendRedis
	}
}

// IsPostgres reports whether the Postgres backend is selected.
func (s StoreConfig) IsPostgres() bool {
	return s.Backend == StoreBackendPostgres
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"meetings"`
	Password string `env:"PASSWORD"                envDefault:"meetings"`
	Name     string `env:"NAME"                    envDefault:"meetings"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
}
