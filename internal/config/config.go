// Package config loads the optional TOML files the server and peer binaries accept.
// Keys left out of a file keep their defaults; command line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rflandau/upush/pkg/upush"
	"github.com/rflandau/upush/pkg/upush/protocol"
)

var (
	ErrBadLoss     = errors.New("loss_percent must be between 0 and 100")
	ErrBadDuration = errors.New("duration must be positive")
)

// ServerConfig configures a directory server.
type ServerConfig struct {
	Address     netip.AddrPort
	StaleAfter  time.Duration
	LossPercent uint8
	// Status is the address of the HTTP status API. Invalid (the zero value) disables it.
	Status netip.AddrPort
}

// PeerConfig configures a peer.
type PeerConfig struct {
	Nick              string
	Server            netip.AddrPort
	Timeout           time.Duration
	HeartbeatInterval time.Duration
	LossPercent       uint8
	SuppressDuplicate bool
}

// DefaultServerConfig returns the server configuration used when no file is given.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:    netip.AddrPortFrom(netip.IPv4Unspecified(), 2000),
		StaleAfter: upush.DefaultStaleAfter,
	}
}

// DefaultPeerConfig returns the peer configuration used when no file is given.
// Nick and Server have no sensible default and must be supplied.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		Timeout:           upush.DefaultResponseTimeout,
		HeartbeatInterval: upush.DefaultHeartbeatInterval,
	}
}

type serverFile struct {
	Address     string `toml:"address"`
	StaleAfter  string `toml:"stale_after"`
	LossPercent int    `toml:"loss_percent"`
	Status      string `toml:"status"`
}

type peerFile struct {
	Nick              string `toml:"nick"`
	Server            string `toml:"server"`
	Timeout           string `toml:"timeout"`
	Heartbeat         string `toml:"heartbeat"`
	LossPercent       int    `toml:"loss_percent"`
	SuppressDuplicate bool   `toml:"suppress_duplicates"`
}

// LoadServerConfig reads the server configuration at path over the defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if err := rejectUndecoded(meta); err != nil {
		return ServerConfig{}, err
	}

	if meta.IsDefined("address") {
		if cfg.Address, err = ParseAddrPort(raw.Address); err != nil {
			return ServerConfig{}, fmt.Errorf("parse address: %w", err)
		}
	}
	if meta.IsDefined("stale_after") {
		if cfg.StaleAfter, err = ParseDuration(raw.StaleAfter); err != nil {
			return ServerConfig{}, fmt.Errorf("parse stale_after: %w", err)
		}
	}
	if meta.IsDefined("loss_percent") {
		if cfg.LossPercent, err = lossPercent(raw.LossPercent); err != nil {
			return ServerConfig{}, err
		}
	}
	if meta.IsDefined("status") && strings.TrimSpace(raw.Status) != "" {
		if cfg.Status, err = ParseAddrPort(raw.Status); err != nil {
			return ServerConfig{}, fmt.Errorf("parse status: %w", err)
		}
	}
	return cfg, nil
}

// LoadPeerConfig reads the peer configuration at path over the defaults.
func LoadPeerConfig(path string) (PeerConfig, error) {
	cfg := DefaultPeerConfig()
	var raw peerFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return PeerConfig{}, fmt.Errorf("load peer config: %w", err)
	}
	if err := rejectUndecoded(meta); err != nil {
		return PeerConfig{}, err
	}

	if meta.IsDefined("nick") {
		cfg.Nick = strings.TrimSpace(raw.Nick)
	}
	if meta.IsDefined("server") {
		if cfg.Server, err = ParseAddrPort(raw.Server); err != nil {
			return PeerConfig{}, fmt.Errorf("parse server: %w", err)
		}
	}
	if meta.IsDefined("timeout") {
		if cfg.Timeout, err = ParseDuration(raw.Timeout); err != nil {
			return PeerConfig{}, fmt.Errorf("parse timeout: %w", err)
		}
	}
	if meta.IsDefined("heartbeat") {
		if cfg.HeartbeatInterval, err = ParseDuration(raw.Heartbeat); err != nil {
			return PeerConfig{}, fmt.Errorf("parse heartbeat: %w", err)
		}
	}
	if meta.IsDefined("loss_percent") {
		if cfg.LossPercent, err = lossPercent(raw.LossPercent); err != nil {
			return PeerConfig{}, err
		}
	}
	if meta.IsDefined("suppress_duplicates") {
		cfg.SuppressDuplicate = raw.SuppressDuplicate
	}
	return cfg, nil
}

// Validate reports the first field of cfg that cannot be used to start a peer.
func (cfg PeerConfig) Validate() error {
	if err := protocol.ValidateName(cfg.Nick); err != nil {
		return fmt.Errorf("nick: %w", err)
	}
	if !cfg.Server.IsValid() {
		return errors.New("server address is required")
	}
	if cfg.Timeout <= 0 || cfg.HeartbeatInterval <= 0 {
		return ErrBadDuration
	}
	if cfg.LossPercent > 100 {
		return ErrBadLoss
	}
	return nil
}

// Validate reports the first field of cfg that cannot be used to start a server.
func (cfg ServerConfig) Validate() error {
	if !cfg.Address.IsValid() {
		return errors.New("listen address is required")
	}
	if cfg.StaleAfter <= 0 {
		return ErrBadDuration
	}
	if cfg.LossPercent > 100 {
		return ErrBadLoss
	}
	return nil
}

// ParseAddrPort accepts "ip:port" and, for convenience, "localhost:port".
func ParseAddrPort(raw string) (netip.AddrPort, error) {
	raw = strings.TrimSpace(raw)
	if host, port, found := strings.Cut(raw, ":"); found && strings.EqualFold(host, "localhost") {
		raw = "127.0.0.1:" + port
	}
	return netip.ParseAddrPort(raw)
}

// ParseDuration parses a Go duration string and rejects non-positive values.
func ParseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	} else if d <= 0 {
		return 0, ErrBadDuration
	}
	return d, nil
}

func lossPercent(v int) (uint8, error) {
	if v < 0 || v > 100 {
		return 0, ErrBadLoss
	}
	return uint8(v), nil
}

func rejectUndecoded(meta toml.MetaData) error {
	if keys := meta.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(names, ", "))
	}
	return nil
}
