package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// STORYREEL_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
func Init() {
	level := os.Getenv("STORYREEL_LOG_LEVEL")
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// StartupInfo collects the run configuration and emits a single structured
// zerolog event summarising how the pipeline was invoked. This makes it easy
// to reconstruct a run's settings from its logs alone.
type StartupInfo struct {
	command  string
	started  time.Time
	config   map[string]string
	features map[string]bool
}

// NewStartupInfo creates a StartupInfo for the given command ("generate", "continue").
func NewStartupInfo(command string) *StartupInfo {
	return &StartupInfo{
		command:  command,
		started:  time.Now(),
		config:   make(map[string]string),
		features: make(map[string]bool),
	}
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupInfo) Config(key, value string) *StartupInfo {
	s.config[key] = value
	return s
}

// Feature registers a boolean feature flag (e.g. "narration", "soundEffects").
func (s *StartupInfo) Feature(name string, enabled bool) *StartupInfo {
	s.features[name] = enabled
	return s
}

// Log emits a single structured INFO event with all collected information.
func (s *StartupInfo) Log() {
	evt := log.Info().
		Str("command", s.command).
		Str("goVersion", runtime.Version()).
		Str("logLevel", os.Getenv("STORYREEL_LOG_LEVEL"))

	if len(s.config) > 0 {
		d := zerolog.Dict()
		for k, v := range s.config {
			d = d.Str(k, v)
		}
		evt = evt.Dict("config", d)
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}

	evt.Msg("Pipeline run starting")
}
