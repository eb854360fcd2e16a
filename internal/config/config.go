// Package config reads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/validate"

	"github.com/handsomefox/watchwise/internal/env"
	"github.com/handsomefox/watchwise/internal/jikan"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverMemory = "memory"

	defaultPort      = 8080
	defaultDBPath    = "/app/data/watchwise.db"
	defaultImageBase = "https://image.tmdb.org/t/p/w342"
)

type Config struct {
	Env      env.Environment
	Port     int    `validate:"required|min:1|max:65535"`
	LogLevel string `validate:"required|in:debug,info,warn,warning,error"`

	StoreDriver   string `validate:"required|in:sqlite,mongo,memory"`
	DBPath        string
	MongoURI      string
	MongoDatabase string

	JWTSecret string        `validate:"required|minLen:16"`
	TokenTTL  time.Duration `validate:"required|min:1"`

	TMDBAPIKey    string
	TMDBReadToken string
	TMDBImageBase string
	JikanBaseURL  string

	CacheSizeMB int `validate:"min:0|max:4096"`
	CacheTTL    time.Duration

	CORSOrigins    []string
	StaticDir      string
	MetricsEnabled bool
}

func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Load reads the process environment.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, applying defaults for unset keys.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	var errs []error
	atoi := func(key string, fallback int) int {
		raw := get(key, "")
		if raw == "" {
			return fallback
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}
	duration := func(key string, fallback time.Duration) time.Duration {
		raw := get(key, "")
		if raw == "" {
			return fallback
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	boolean := func(key string, fallback bool) bool {
		raw := get(key, "")
		if raw == "" {
			return fallback
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return b
	}

	cfg := Config{
		Env:            env.Parse(get(env.Key, "")),
		Port:           atoi("PORT", defaultPort),
		LogLevel:       strings.ToLower(get("LOG_LEVEL", "info")),
		StoreDriver:    strings.ToLower(get("STORE_DRIVER", DriverSQLite)),
		DBPath:         get("DB_PATH", defaultDBPath),
		MongoURI:       get("MONGO_URI", ""),
		MongoDatabase:  get("MONGO_DATABASE", "watchwise"),
		JWTSecret:      get("JWT_SECRET", ""),
		TokenTTL:       duration("TOKEN_TTL", 7*24*time.Hour),
		TMDBAPIKey:     get("TMDB_API_KEY", ""),
		TMDBReadToken:  get("TMDB_API_READ_TOKEN", ""),
		TMDBImageBase:  get("TMDB_IMAGE_BASE", defaultImageBase),
		JikanBaseURL:   get("JIKAN_BASE_URL", jikan.DefaultBaseURL),
		CacheSizeMB:    atoi("CACHE_SIZE_MB", 32),
		CacheTTL:       duration("CACHE_TTL", 10*time.Minute),
		CORSOrigins:    splitList(get("CORS_ORIGINS", "*")),
		StaticDir:      get("STATIC_DIR", ""),
		MetricsEnabled: boolean("METRICS_ENABLED", true),
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("invalid config: %w", v.Errors)
	}
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("invalid config: DB_PATH is required for the sqlite driver")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("invalid config: MONGO_URI is required for the mongo driver")
		}
		if c.MongoDatabase == "" {
			return errors.New("invalid config: MONGO_DATABASE is required for the mongo driver")
		}
	}
	if c.CacheTTL < 0 {
		return errors.New("invalid config: CACHE_TTL must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
