// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// File additionally writes JSON logs to a rotating file (optional).
	File *FileConfig
}

// FileConfig configures rotating file output.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

var (
	fileMu     sync.Mutex
	fileWriter *lumberjack.Logger
)

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}
	if file := openFile(cfg.File); file != nil {
		output = zerolog.MultiLevelWriter(output, file)
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// openFile swaps the rotating log file. The previous file, if any, is closed.
func openFile(cfg *FileConfig) io.Writer {
	fileMu.Lock()
	defer fileMu.Unlock()

	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
	if cfg == nil || cfg.Path == "" {
		return nil
	}
	fileWriter = &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return fileWriter
}

// Close flushes and closes the rotating log file, if one is open.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache reads and writes (artifact kind, signature, offset)
//   - Page and chunk fetches
//   - Resolver window plans
//
// Info: Normal operation events
//   - Collection started, resumed and completed
//   - Series assembled
//   - Provider cooldown waits
//
// Warn: Warning conditions that don't prevent operation
//   - Corrupt cache artifacts (treated as a miss)
//   - Retry attempts
//   - Short pages re-fetched
//   - Provider 429 responses
//
// Error: Error conditions requiring attention
//   - Fetches that failed after retries
//   - Cache write failures
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (collector, history, polymarket-client)
//   - signature: cache signature of the query
//   - offset, limit, records: page position and size
//   - window: price history window
//   - endpoint, status: provider request details
//   - error_class: client, server, rate_limit, network, decode
