package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	LogLevel               string        `mapstructure:"LOG_LEVEL"`
	DataDir                string        `mapstructure:"DATA_DIR"`
	StorageDriver          string        `mapstructure:"STORAGE_DRIVER"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	SessionSecret          string        `mapstructure:"SESSION_SECRET"`
	SessionTTL             time.Duration `mapstructure:"SESSION_TTL"`
	PasswordScheme         string        `mapstructure:"PASSWORD_SCHEME"`
	DefaultPatientPassword string        `mapstructure:"DEFAULT_PATIENT_PASSWORD"`
	LoginRateLimitRPS      float64       `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	LoginRateLimitBurst    int           `mapstructure:"LOGIN_RATE_LIMIT_BURST"`
}

// devSessionSecret signs sessions in development when SESSION_SECRET is unset.
const devSessionSecret = "hms-development-only-secret"

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATA_DIR", "STORAGE_DRIVER", "DATABASE_URL",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "SESSION_SECRET", "SESSION_TTL",
	"PASSWORD_SCHEME", "DEFAULT_PATIENT_PASSWORD",
	"LOGIN_RATE_LIMIT_RPS", "LOGIN_RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_DIR", ".")
	v.SetDefault("STORAGE_DRIVER", DriverFile)
	v.SetDefault("DB_MAX_CONNS", 5)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("SESSION_TTL", "8h")
	v.SetDefault("PASSWORD_SCHEME", "sha256")
	v.SetDefault("DEFAULT_PATIENT_PASSWORD", "default_password")
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 1)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 5)

	// Bind explicitly so Unmarshal sees variables without defaults.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.SessionSecret == "" && cfg.IsDev() {
		cfg.SessionSecret = devSessionSecret
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is usable. Outside development a
// real SESSION_SECRET is mandatory.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverFile, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER is %q", DriverPostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be \"file\", \"postgres\" or \"memory\", got %q", c.StorageDriver)
	}

	if !c.IsDev() && (c.SessionSecret == "" || c.SessionSecret == devSessionSecret) {
		return fmt.Errorf("SESSION_SECRET is required outside development (ENV=%q)", c.Env)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}

	switch c.PasswordScheme {
	case "sha256", "bcrypt":
	default:
		return fmt.Errorf("PASSWORD_SCHEME must be \"sha256\" or \"bcrypt\", got %q", c.PasswordScheme)
	}
	if c.DefaultPatientPassword == "" {
		return fmt.Errorf("DEFAULT_PATIENT_PASSWORD must not be empty")
	}
	if c.LoginRateLimitRPS <= 0 || c.LoginRateLimitBurst <= 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_RPS and LOGIN_RATE_LIMIT_BURST must be positive")
	}
	return nil
}
