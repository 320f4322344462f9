package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration. Path may be "stdout" or "stderr".
type Config struct {
	Path       string `env:"TTL_CACHE_LOG"`
	Level      string `env:"TTL_CACHE_LOG_LEVEL" envDefault:"info"`
	Format     string `env:"TTL_CACHE_LOG_FORMAT" envDefault:"json"`
	Rotation   bool   `env:"TTL_CACHE_LOG_ROTATE" envDefault:"true"`
	MaxSize    int    `env:"TTL_CACHE_LOG_MAX_SIZE" envDefault:"20"`
	MaxBackups int    `env:"TTL_CACHE_LOG_MAX_BACKUPS" envDefault:"3"`
	MaxAge     int    `env:"TTL_CACHE_LOG_MAX_AGE" envDefault:"14"`
}

var (
	mu            sync.Mutex
	output        io.Closer
	isInitialized bool
)

// InitFromEnv initializes the logger from TTL_CACHE_LOG* variables. Without
// TTL_CACHE_LOG the log goes next to the executable.
func InitFromEnv() error {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("logger: parse environment: %w", err)
	}
	return Init(cfg)
}

// DefaultPath returns ttl-cache.log in the executable's directory, or the
// working directory when that cannot be determined.
func DefaultPath() string {
	if exePath, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exePath), "ttl-cache.log")
	}
	return "./ttl-cache.log"
}

// Init installs the global logger. Later calls are no-ops until Close.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if isInitialized {
		return nil
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer
	switch cfg.Path {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		path := cfg.Path
		if path == "" {
			path = DefaultPath()
		}
		if err := ensureParentDir(path); err != nil {
			return err
		}
		if cfg.Rotation {
			lj := &lumberjack.Logger{
				Filename:   path,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			w, output = lj, lj
		} else {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			w, output = f, f
		}
	}

	if strings.EqualFold(cfg.Format, "text") {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Str("service", "ttl-cache").Logger()
	isInitialized = true
	return nil
}

// Close closes the underlying log file, if open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	isInitialized = false
	if output != nil {
		err := output.Close()
		output = nil
		return err
	}
	return nil
}

// Logger returns the global logger.
func Logger() zerolog.Logger { return log.Logger }

// WithComponent returns a logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// Infof logs informational messages.
func Infof(format string, args ...any) { log.Info().Msgf(format, args...) }

// Warnf logs warnings.
func Warnf(format string, args ...any) { log.Warn().Msgf(format, args...) }

// Errorf logs errors.
func Errorf(format string, args ...any) { log.Error().Msgf(format, args...) }

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
