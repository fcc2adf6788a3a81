package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Global logger instance
var (
	Log zerolog.Logger
)

// Initialize sets up the global logger with configuration
func Initialize(level string, pretty bool) {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	// Configure output format
	if pretty {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	// Set global logger
	Log = log.With().
		Str("service", "scanner-gateway").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("Logger initialized")
}

// GetLogger returns the global logger instance
func GetLogger() *zerolog.Logger {
	return &Log
}

// HTTP creates a logger for HTTP request events
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

// WebSocket creates a logger for connection-registry events
func WebSocket() *zerolog.Logger {
	l := Log.With().Str("component", "websocket").Logger()
	return &l
}

// Auth creates a logger for authenticator events
func Auth() *zerolog.Logger {
	l := Log.With().Str("component", "auth").Logger()
	return &l
}

// Redis creates a logger for Redis client events
func Redis() *zerolog.Logger {
	l := Log.With().Str("component", "redis").Logger()
	return &l
}

// Snapshot creates a logger for the snapshot+delta engine
func Snapshot() *zerolog.Logger {
	l := Log.With().Str("component", "snapshot").Logger()
	return &l
}

// Sampler creates a logger for the aggregate sampler
func Sampler() *zerolog.Logger {
	l := Log.With().Str("component", "sampler").Logger()
	return &l
}

// Streams creates a logger for stream consumers
func Streams() *zerolog.Logger {
	l := Log.With().Str("component", "streams").Logger()
	return &l
}

// Upstream creates a logger for the upstream subscription publisher
func Upstream() *zerolog.Logger {
	l := Log.With().Str("component", "upstream").Logger()
	return &l
}

// PubSub creates a logger for the pub/sub listener
func PubSub() *zerolog.Logger {
	l := Log.With().Str("component", "pubsub").Logger()
	return &l
}

// Catalyst creates a logger for the catalyst snapshot recorder
func Catalyst() *zerolog.Logger {
	l := Log.With().Str("component", "catalyst").Logger()
	return &l
}

// Status creates a logger for the status broadcaster
func Status() *zerolog.Logger {
	l := Log.With().Str("component", "status").Logger()
	return &l
}
