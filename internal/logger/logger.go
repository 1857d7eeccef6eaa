// Package logger wraps zerolog into an explicit handle instead of a package
// global. The source this runtime is modeled on exposes a `getLogger()`
// singleton; per the design notes that pattern is deliberately replaced
// here with a constructed *Logger built once in the bootstrap function and
// passed by reference to every component, while keeping zerolog's
// per-component sub-logger convention (Security(), Audit(), RBAC(), ...).
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a constructed logging handle. Build one with New in the
// bootstrap function and pass it to every component that needs to log;
// do not recreate it ad hoc.
type Logger struct {
	base zerolog.Logger
}

// New builds a Logger at the given level ("trace".."error"), pretty
// console output for local development or Unix-time JSON for production.
func New(level string, pretty bool) *Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if pretty {
		base = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	base = base.Level(logLevel).With().Str("service", "agent-runtime").Logger()
	l := &Logger{base: base}
	l.base.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
	return l
}

// Raw returns the underlying zerolog.Logger for call sites that need the
// full zerolog API.
func (l *Logger) Raw() *zerolog.Logger {
	return &l.base
}

func (l *Logger) component(name string) *zerolog.Logger {
	sub := l.base.With().Str("component", name).Logger()
	return &sub
}

// Audit returns the sub-logger for the audit chain (C2).
func (l *Logger) Audit() *zerolog.Logger { return l.component("audit") }

// RBAC returns the sub-logger for the RBAC engine (C3).
func (l *Logger) RBAC() *zerolog.Logger { return l.component("rbac") }

// RateLimit returns the sub-logger for the rate limiter (C4).
func (l *Logger) RateLimit() *zerolog.Logger { return l.component("ratelimit") }

// Auth returns the sub-logger for the auth service (C5).
func (l *Logger) Auth() *zerolog.Logger { return l.component("auth") }

// Executor returns the sub-logger for the task executor (C6).
func (l *Logger) Executor() *zerolog.Logger { return l.component("executor") }

// Gateway returns the sub-logger for the HTTP/WS gateway (C7).
func (l *Logger) Gateway() *zerolog.Logger { return l.component("gateway") }

// Security returns the sub-logger for security-relevant events that cut
// across components (failed auth, permission denials, chain breaks).
func (l *Logger) Security() *zerolog.Logger { return l.component("security") }
