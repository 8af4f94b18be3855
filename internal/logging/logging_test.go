package logging

import (
	"bytes"
	"strings"
	"testing"

	. "github.com/rflandau/upush/internal/testsupport"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw    string
		want   zerolog.Level
		wantOK bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, true},
		{" WARNING ", zerolog.WarnLevel, true},
		{"Error", zerolog.ErrorLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseLevel(tt.raw)
			if ok != tt.wantOK || got != tt.want {
				t.Fatal(ExpectedActual(tt.want, got), ExpectedActual(tt.wantOK, ok))
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:     "error",
		EnvLogTimestamp: "false",
		EnvLogNoColor:   "not a bool",
	}
	cfg := DefaultConfig(ProfileRuntime)
	applyEnv(&cfg, func(k string) string { return env[k] })
	if cfg.Level != zerolog.ErrorLevel {
		t.Error(ExpectedActual(zerolog.ErrorLevel, cfg.Level))
	}
	if cfg.Timestamp {
		t.Error("timestamp should be disabled")
	}
	if cfg.NoColor {
		t.Error("unparseable value should leave the default")
	}
}

func TestBuild(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig(ProfileTest)
	cfg.Out, cfg.NoColor = &buf, true
	l := cfg.Build("directory")
	l.Debug().Str("name", "alice").Msg("registered")
	l.Trace().Msg("hidden")

	out := buf.String()
	for _, want := range []string{"role=directory", "name=alice", "registered"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q is missing %q", out, want)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("message below the configured level was written")
	}
}
