package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Global logger instance
	Logger = zerolog.New(io.Discard)
)

// Initialize sets up the global console logger used by every component.
// When logFile is set, JSON lines are also appended to that file.
func Initialize(logLevel, logFile string) error {
	zerolog.TimeFieldFormat = time.RFC3339

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    false,
	}

	if logFile == "" {
		InitializeWithWriter(consoleWriter, logLevel)
		return nil
	}

	file, err := FileWriter(logFile)
	if err != nil {
		InitializeWithWriter(consoleWriter, logLevel)
		return fmt.Errorf("failed to open log file %s: %w", logFile, err)
	}
	InitializeWithWriter(zerolog.MultiLevelWriter(consoleWriter, file), logLevel)
	return nil
}

// InitializeWithWriter installs a global logger writing to w. Tests use it to
// capture output.
func InitializeWithWriter(w io.Writer, logLevel string) {
	Logger = zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()

	zerolog.SetGlobalLevel(ParseLevel(logLevel))

	// Replace standard log with zerolog
	log.Logger = Logger
}

// ParseLevel maps the LOG_LEVEL values accepted by the daemon to zerolog levels.
// Unknown values fall back to info.
func ParseLevel(logLevel string) zerolog.Level {
	switch logLevel {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &Logger
}

// GetForComponent returns a logger with a component field for better filtering
func GetForComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// FileWriter returns a writer to a log file for optional use alongside console logging
func FileWriter(path string) (io.Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	return file, nil
}
