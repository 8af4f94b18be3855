package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/rflandau/upush/internal/testsupport"
	"github.com/rflandau/upush/pkg/upush"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upush.toml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadServerConfig(t *testing.T) {
	t.Run("defaults survive an empty file", func(t *testing.T) {
		cfg, err := LoadServerConfig(writeFile(t, ""))
		if err != nil {
			t.Fatal(err)
		}
		if cfg != DefaultServerConfig() {
			t.Fatal(ExpectedActual(DefaultServerConfig(), cfg))
		}
		if err := cfg.Validate(); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("every key", func(t *testing.T) {
		cfg, err := LoadServerConfig(writeFile(t, `
address = "127.0.0.1:2100"
stale_after = "45s"
loss_percent = 10
status = "localhost:8080"
`))
		if err != nil {
			t.Fatal(err)
		}
		want := ServerConfig{
			Address:     netip.MustParseAddrPort("127.0.0.1:2100"),
			StaleAfter:  45 * time.Second,
			LossPercent: 10,
			Status:      netip.MustParseAddrPort("127.0.0.1:8080"),
		}
		if cfg != want {
			t.Fatal(ExpectedActual(want, cfg))
		}
	})
	t.Run("rejects", func(t *testing.T) {
		for name, body := range map[string]string{
			"unknown key":       `colour = "red"`,
			"negative duration": `stale_after = "-1s"`,
			"bad duration":      `stale_after = "soon"`,
			"loss too high":     `loss_percent = 101`,
			"bad address":       `address = "nowhere"`,
			"not toml":          `address = `,
		} {
			if _, err := LoadServerConfig(writeFile(t, body)); err == nil {
				t.Errorf("%s: expected an error", name)
			}
		}
	})
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadServerConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestLoadPeerConfig(t *testing.T) {
	t.Run("every key", func(t *testing.T) {
		cfg, err := LoadPeerConfig(writeFile(t, `
nick = " alice "
server = "127.0.0.1:2000"
timeout = "500ms"
heartbeat = "5s"
loss_percent = 20
suppress_duplicates = true
`))
		if err != nil {
			t.Fatal(err)
		}
		want := PeerConfig{
			Nick:              "alice",
			Server:            netip.MustParseAddrPort("127.0.0.1:2000"),
			Timeout:           500 * time.Millisecond,
			HeartbeatInterval: 5 * time.Second,
			LossPercent:       20,
			SuppressDuplicate: true,
		}
		if cfg != want {
			t.Fatal(ExpectedActual(want, cfg))
		}
		if err := cfg.Validate(); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("partial file keeps defaults", func(t *testing.T) {
		cfg, err := LoadPeerConfig(writeFile(t, `nick = "bob"`))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Timeout != upush.DefaultResponseTimeout || cfg.HeartbeatInterval != upush.DefaultHeartbeatInterval {
			t.Fatal("defaults were overwritten", cfg)
		}
		// no server yet
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected validation to fail without a server")
		}
	})
}

func TestPeerConfigValidate(t *testing.T) {
	good := DefaultPeerConfig()
	good.Nick = "alice"
	good.Server = netip.MustParseAddrPort("127.0.0.1:2000")

	tests := []struct {
		name   string
		mutate func(*PeerConfig)
		want   error
	}{
		{"valid", func(*PeerConfig) {}, nil},
		{"zero timeout", func(c *PeerConfig) { c.Timeout = 0 }, ErrBadDuration},
		{"loss", func(c *PeerConfig) { c.LossPercent = 150 }, ErrBadLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := good
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Fatal(ExpectedActual(tt.want, err))
			}
		})
	}
	t.Run("bad nick", func(t *testing.T) {
		cfg := good
		cfg.Nick = "has space"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected an error")
		}
	})
}
