// Package logging builds the zerolog loggers the UPush binaries hand to their components.
// Defaults depend on the profile and may be overridden from the environment.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "UPUSH_LOG_LEVEL"
	EnvLogTimestamp = "UPUSH_LOG_TIMESTAMP"
	EnvLogNoColor   = "UPUSH_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	// interactive peers keep the console for conversation, so only problems are logged
	ProfileConsole
	ProfileTest
)

// Config describes a console logger.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Out       io.Writer
}

// DefaultConfig returns the settings for the given profile, before environment overrides.
func DefaultConfig(profile Profile) Config {
	cfg := Config{Out: os.Stderr, Timestamp: true, Level: zerolog.InfoLevel}
	switch profile {
	case ProfileConsole:
		cfg.Level = zerolog.WarnLevel
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
	}
	return cfg
}

// ApplyEnv overrides cfg from the UPUSH_LOG_* environment variables.
// Unset or unparseable values leave the corresponding setting alone.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if lvl, ok := parseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

// New returns a console logger for the given profile, tagged with role.
func New(profile Profile, role string) *zerolog.Logger {
	cfg := DefaultConfig(profile)
	ApplyEnv(&cfg)
	return cfg.Build(role)
}

// Build returns a console logger configured by cfg and tagged with role.
func (cfg Config) Build(role string) *zerolog.Logger {
	cw := zerolog.ConsoleWriter{
		Out:         cfg.Out,
		NoColor:     cfg.NoColor,
		FieldsOrder: []string{"role"},
		TimeFormat:  "15:04:05",
	}
	if !cfg.Timestamp {
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(cw).With().Str("role", role)
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	l := ctx.Logger().Level(cfg.Level)
	return &l
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "off", "disabled", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return v, true
}
