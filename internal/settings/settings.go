// Package settings resolves runtime configuration from viper keys and the
// environment.
package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/porua/porua/internal/backend"
	"github.com/porua/porua/internal/cache"
	"github.com/porua/porua/internal/tts"
)

// AppName names the config file, the env prefix and the user directories.
const AppName = "porua"

// Config keys
const (
	KeyServerURL        = "server.url"
	KeyServerTimeout    = "server.timeout"
	KeyServerRateLimit  = "server.rate_limit"
	KeyVoice            = "voice"
	KeySpeed            = "speed"
	KeyCoalesce         = "coalesce"
	KeyCacheEnabled     = "cache.enabled"
	KeyCacheDir         = "cache.dir"
	KeyCacheMaxSize     = "cache.max_size"
	KeyCacheCompression = "cache.compression_level"
	KeyCacheTable       = "cache.postgres_table"
	KeyLogLevel         = "log.level"
	KeyListen           = "listen"
)

// Configuration errors
var (
	ErrInvalidSize        = errors.New("invalid cache size")
	ErrInvalidServerURL   = errors.New("invalid server url")
	ErrInvalidCompression = errors.New("compression level must be between 0 and 22")
)

// Env holds secrets and overrides that come from the environment only.
type Env struct {
	APIKey    string `env:"PORUA_API_KEY"`
	ServerURL string `env:"PORUA_SERVER_URL"`
	SentryDSN string `env:"SENTRY_DSN"`
	Debug     bool   `env:"PORUA_DEBUG"`

	CacheDatabaseURL string `env:"PORUA_CACHE_DATABASE_URL"`
	JWTSecret        string `env:"PORUA_JWT_SECRET"`
}

// Cache configures the audio cache.
type Cache struct {
	Enabled          bool
	Dir              string // empty keeps the cache in memory
	MaxSizeBytes     int64
	CompressionLevel int

	// DatabaseURL selects a shared PostgreSQL store over Dir.
	DatabaseURL string
	Table       string
}

// Settings is the resolved configuration.
type Settings struct {
	ServerURL string
	APIKey    string
	Timeout   time.Duration
	RateLimit int // requests per minute, 0 disables limiting

	Voice    string
	Speed    float64
	Coalesce bool

	Cache Cache

	LogLevel  log.Level
	Listen    string
	SentryDSN string
	JWTSecret string // non-empty requires bearer tokens on the HTTP API
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerURL, backend.DefaultURL)
	v.SetDefault(KeyServerTimeout, backend.DefaultTimeout)
	v.SetDefault(KeyServerRateLimit, 0)
	v.SetDefault(KeyVoice, tts.DefaultVoice)
	v.SetDefault(KeySpeed, tts.DefaultSpeed)
	v.SetDefault(KeyCoalesce, true)
	v.SetDefault(KeyCacheEnabled, true)
	v.SetDefault(KeyCacheDir, "")
	v.SetDefault(KeyCacheMaxSize, "100MiB")
	v.SetDefault(KeyCacheCompression, 2)
	v.SetDefault(KeyCacheTable, cache.DefaultPostgresTable)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyListen, "127.0.0.1:8090")
}

// LoadDotEnv adds variables from the given .env files to the environment.
// Variables already set are kept and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("error loading %s: %w", path, err)
		}
	}
	return nil
}

// Load resolves the settings from v and the environment. Environment values
// win over the config file.
func Load(v *viper.Viper) (*Settings, error) {
	e, err := env.ParseAs[Env]()
	if err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}
	return Resolve(v, e)
}

// Resolve builds the settings from v with e applied on top.
func Resolve(v *viper.Viper, e Env) (*Settings, error) {
	maxSize, err := ParseSize(v.GetString(KeyCacheMaxSize))
	if err != nil {
		return nil, err
	}

	dir, err := ExpandPath(v.GetString(KeyCacheDir))
	if err != nil {
		return nil, fmt.Errorf("unable to expand cache dir: %w", err)
	}

	level, err := log.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	s := &Settings{
		ServerURL: v.GetString(KeyServerURL),
		Timeout:   v.GetDuration(KeyServerTimeout),
		RateLimit: v.GetInt(KeyServerRateLimit),
		Voice:     v.GetString(KeyVoice),
		Speed:     v.GetFloat64(KeySpeed),
		Coalesce:  v.GetBool(KeyCoalesce),
		Cache: Cache{
			Enabled:          v.GetBool(KeyCacheEnabled),
			Dir:              dir,
			MaxSizeBytes:     maxSize,
			CompressionLevel: v.GetInt(KeyCacheCompression),
			Table:            v.GetString(KeyCacheTable),
		},
		LogLevel: level,
		Listen:   v.GetString(KeyListen),
	}

	if e.ServerURL != "" {
		s.ServerURL = e.ServerURL
	}
	s.APIKey = e.APIKey
	s.SentryDSN = e.SentryDSN
	s.JWTSecret = e.JWTSecret
	s.Cache.DatabaseURL = e.CacheDatabaseURL
	if e.Debug {
		s.LogLevel = log.DebugLevel
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	u, err := url.Parse(s.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidServerURL, s.ServerURL)
	}
	if s.Speed <= 0 || s.Speed > tts.MaxSpeed {
		return fmt.Errorf("%w: got %.2f", tts.ErrInvalidSpeed, s.Speed)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("server timeout cannot be negative, got %s", s.Timeout)
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("server rate_limit cannot be negative, got %d", s.RateLimit)
	}
	if s.Cache.CompressionLevel < 0 || s.Cache.CompressionLevel > 22 {
		return fmt.Errorf("%w, got %d", ErrInvalidCompression, s.Cache.CompressionLevel)
	}
	return nil
}

// BackendConfig returns the backend client configuration.
func (s *Settings) BackendConfig() backend.Config {
	return backend.Config{
		URL:               s.ServerURL,
		APIKey:            s.APIKey,
		Timeout:           s.Timeout,
		RequestsPerMinute: s.RateLimit,
	}
}

// OpenCache builds the audio cache described by the settings. A disabled
// cache returns nil.
func (s *Settings) OpenCache(logger *log.Logger) (*cache.AudioCache, error) {
	if !s.Cache.Enabled {
		return nil, nil
	}

	var store cache.Store
	switch {
	case s.Cache.DatabaseURL != "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ps, err := cache.OpenPostgresStore(ctx, s.Cache.DatabaseURL, s.Cache.Table, logger)
		if err != nil {
			return nil, err
		}
		store = ps
	case s.Cache.Dir != "":
		ds, err := cache.NewDiskStore(s.Cache.Dir, s.Cache.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("unable to open cache dir: %w", err)
		}
		store = ds
	}

	return cache.NewAudioCache(s.Cache.MaxSizeBytes, store, logger)
}

// ParseSize parses a humanized byte size such as "100MB" or "1.5GiB". A bare
// number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return cache.DefaultMaxSizeBytes, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidSize, s, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("%w %q: must be positive", ErrInvalidSize, s)
	}
	return int64(n), nil
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(os.ExpandEnv(expanded)), nil
}

// DefaultCacheDir returns the per-user cache directory.
func DefaultCacheDir() (string, error) {
	scope := gap.NewScope(gap.User, AppName)
	dir, err := scope.CacheDir()
	if err != nil {
		return "", fmt.Errorf("unable to find cache directory: %w", err)
	}
	return filepath.Join(dir, "audio"), nil
}
