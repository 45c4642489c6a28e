package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"orderguard"`
	Password string `env:"PASSWORD"                envDefault:"orderguard"`
	Name     string `env:"NAME"                    envDefault:"orderguard"`
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
	// Disabled turns off the decision cache tier and progress publishing.
	Disabled bool `env:"DISABLED" envDefault:"false"`
}

// CacheConfig contains in-process and Redis cache configuration.
type CacheConfig struct {
	// LocalCapacity is the number of decisions kept in the in-process LRU.
	LocalCapacity int `env:"CACHE_LOCAL_CAPACITY" envDefault:"2048"`

	// LocalTTL bounds how long an in-process entry is served.
	LocalTTL time.Duration `env:"CACHE_LOCAL_TTL" envDefault:"1m"`

	// DecisionTTL is the TTL for decisions stored in Redis.
	DecisionTTL time.Duration `env:"CACHE_DECISION_TTL" envDefault:"15m"`

	// RuleSetTTL is how long a compiled tenant rule set is reused before reloading.
	RuleSetTTL time.Duration `env:"CACHE_RULE_SET_TTL" envDefault:"30s"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.LocalCapacity < 0 {
		c.LocalCapacity = 0
	}
	if c.LocalTTL <= 0 {
		c.LocalTTL = time.Minute
	}
	if c.DecisionTTL <= 0 {
		c.DecisionTTL = 15 * time.Minute
	}
	if c.RuleSetTTL < time.Second {
		c.RuleSetTTL = time.Second
	}
}
