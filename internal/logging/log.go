// Package logging provides the global structured logger the rest of the
// sync core logs through, adapted from cuemby-warren's pkg/log package:
// same Config/Init shape and global zerolog.Logger, with component
// helpers renamed to this domain's identifiers (workspace, connector,
// user) in place of the teacher's cluster-node/service/task ones.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger instance, configured once by Init.
var Logger zerolog.Logger

// Level is a configured log verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration, set from internal/config.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global Logger. Called once at process start.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with a component name
// (e.g. "hub", "connector", "storage").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorkspace returns a child logger tagged with a workspace id.
func WithWorkspace(workspaceID string) zerolog.Logger {
	return Logger.With().Str("workspace_id", workspaceID).Logger()
}

// WithUser returns a child logger tagged with a user id.
func WithUser(userID string) zerolog.Logger {
	return Logger.With().Str("user_id", userID).Logger()
}

// WithConnector returns a child logger tagged with a connector's
// workspace and user, the pair every §4.5 state-transition log needs.
func WithConnector(workspaceID, userID string) zerolog.Logger {
	return Logger.With().Str("workspace_id", workspaceID).Str("user_id", userID).Logger()
}
