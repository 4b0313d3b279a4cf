package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/labstack/gommon/bytes"
	"github.com/spf13/pflag"
)

const EnvPrefix = "FLASHDECK_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"min=1ms"`
	BodyLimit       string        `koanf:"body_limit" validate:"required"`
	ImportLimit     string        `koanf:"import_limit" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1ms"`
}

type DatabaseConfig struct {
	Driver          string        `koanf:"driver" validate:"oneof=postgres sqlite"`
	URL             string        `koanf:"url"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=0,max=65535"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	DBName          string        `koanf:"dbname"`
	SSLMode         string        `koanf:"sslmode"`
	Path            string        `koanf:"path"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"min=1ms"`
}

type AuthConfig struct {
	JWTSecret         string        `koanf:"jwt_secret" validate:"required,min=16"`
	TokenTTL          time.Duration `koanf:"token_ttl" validate:"min=1s"`
	ResetTokenTTL     time.Duration `koanf:"reset_token_ttl" validate:"min=1s"`
	RequireResetToken bool          `koanf:"require_reset_token"`
	BcryptCost        int           `koanf:"bcrypt_cost" validate:"min=4,max=31"`
}

type LogConfig struct {
	Level     string `koanf:"level" validate:"omitempty,oneof=debug info warn warning error"`
	File      string `koanf:"file"`
	Format    string `koanf:"format" validate:"omitempty,oneof=text json"`
	GormLevel string `koanf:"gorm_level" validate:"omitempty,oneof=silent error warn info"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":3000",
			RequestTimeout:  10 * time.Second,
			BodyLimit:       "2M",
			ImportLimit:     "8M",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			DBName:          "flashcards",
			SSLMode:         "disable",
			Path:            "flashdeck.db",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 30 * time.Second,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  2 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:          7 * 24 * time.Hour,
			ResetTokenTTL:     30 * time.Minute,
			RequireResetToken: true,
			BcryptCost:        10,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			GormLevel: "warn",
		},
	}
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"addr":       "server.addr",
	"log-level":  "log.level",
	"log-file":   "log.file",
	"db-driver":  "database.driver",
	"db-url":     "database.url",
	"db-path":    "database.path",
	"jwt-secret": "auth.jwt_secret",
}

// RegisterFlags defines the config override flags on fs. Only flags the user
// actually sets take part in Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "listen address (server.addr)")
	fs.String("log-level", "", "log level: debug, info, warn, error (log.level)")
	fs.String("log-file", "", "also write logs to this file (log.file)")
	fs.String("db-driver", "", "database driver: postgres or sqlite (database.driver)")
	fs.String("db-url", "", "postgres connection URL (database.url)")
	fs.String("db-path", "", "sqlite database file (database.path)")
	fs.String("jwt-secret", "", "token signing secret (auth.jwt_secret)")
}

// Load builds the configuration from, in increasing precedence: defaults, the
// YAML file at path (optional), a .env file next to the working directory,
// FLASHDECK_* environment variables, the legacy DATABASE_URL and JWT_SECRET
// variables, and changed flags in fs (may be nil).
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return cfg, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("failed to load environment: %w", err)
	}

	if v, ok := os.LookupEnv("DATABASE_URL"); ok && v != "" && !k.Exists("database.url") {
		if err := k.Set("database.url", v); err != nil {
			return cfg, err
		}
	}
	if v, ok := os.LookupEnv("JWT_SECRET"); ok && v != "" && !k.Exists("auth.jwt_secret") {
		if err := k.Set("auth.jwt_secret", v); err != nil {
			return cfg, err
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return cfg, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// envKey turns FLASHDECK_DATABASE__MAX_OPEN_CONNS into database.max_open_conns.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	for key, limit := range map[string]string{
		"server.body_limit":   c.Server.BodyLimit,
		"server.import_limit": c.Server.ImportLimit,
	} {
		if _, err := bytes.Parse(limit); err != nil {
			return fmt.Errorf("invalid config: %s: %w", key, err)
		}
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" && c.Database.Host == "" {
			return errors.New("invalid config: database.url or database.host is required for postgres")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("invalid config: database.path is required for sqlite")
		}
	}
	return nil
}

// PostgresDSN returns database.url when set, otherwise a key/value DSN built
// from the individual fields.
func (d DatabaseConfig) PostgresDSN() string {
	if d.URL != "" {
		return d.URL
	}
	parts := []string{
		"host=" + d.Host,
		fmt.Sprintf("port=%d", d.Port),
		"user=" + d.User,
		"dbname=" + d.DBName,
	}
	if d.Password != "" {
		parts = append(parts, "password="+d.Password)
	}
	if d.SSLMode != "" {
		parts = append(parts, "sslmode="+d.SSLMode)
	}
	if d.ConnectTimeout > 0 {
		secs := int(d.ConnectTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}
	return strings.Join(parts, " ")
}
