package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog.Logger with file ownership and redaction
type Logger struct {
	logger   zerolog.Logger
	file     *os.File
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string    // debug, info, warn, error
	File      string    // log file path, empty for none
	Console   bool      // enable console output
	Pretty    bool      // human readable console output
	Redaction bool      // mask API keys and tokens
	Out       io.Writer // console destination, stderr when nil
}

// New creates a logger and installs it as the global zerolog logger
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	var writers []io.Writer

	if cfg.Console {
		var consoleWriter io.Writer = out
		if cfg.Pretty {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, consoleWriter)
	}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		writer = redactor.Wrap(writer)
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger

	return &Logger{
		logger:   logger,
		file:     file,
		redactor: redactor,
	}, nil
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }

func (l *Logger) Info() *zerolog.Event { return l.logger.Info() }

func (l *Logger) Warn() *zerolog.Event { return l.logger.Warn() }

func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }

// With creates a child logger context
func (l *Logger) With() zerolog.Context {
	return l.logger.With()
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
	}
}
