/*
UPush directory server.
Functionally a wrapper around the directory.Server type, optionally paired with the read-only HTTP status API.

Companion to the peer implementation in peer/main.go.
*/
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/rflandau/upush/internal/config"
	"github.com/rflandau/upush/internal/logging"
	"github.com/rflandau/upush/pkg/upush/directory"
	"github.com/rflandau/upush/pkg/upush/status"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "TOML file to load before flags are applied",
	}
	addrFlag = &cli.StringFlag{
		Name:    "address",
		Aliases: []string{"a"},
		Usage:   "ip:port to answer REG and LOOKUP requests on",
	}
	staleFlag = &cli.DurationFlag{
		Name:  "stale-after",
		Usage: "how long a registration survives without a heartbeat",
	}
	lossFlag = &cli.UintFlag{
		Name:  "loss",
		Usage: "percentage of outbound datagrams to drop, for exercising peers",
	}
	statusFlag = &cli.StringFlag{
		Name:  "status",
		Usage: "ip:port to serve the HTTP status API on; disabled if unset",
	}
)

func main() {
	app := &cli.App{
		Name:      "upush-server",
		Usage:     "directory server for UPush peers",
		ArgsUsage: "[port [loss]]",
		Flags:     []cli.Flag{configFlag, addrFlag, staleFlag, lossFlag, statusFlag},
		Action:    serve,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig layers defaults, the config file, positional arguments, and flags, in that order.
func resolveConfig(c *cli.Context) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if path := c.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = config.LoadServerConfig(path); err != nil {
			return cfg, err
		}
	}

	// classic positional form: upush-server <port> <loss>
	if c.NArg() > 0 {
		var port uint16
		if _, err := fmt.Sscan(c.Args().Get(0), &port); err != nil {
			return cfg, fmt.Errorf("port %q: %w", c.Args().Get(0), err)
		}
		cfg.Address = netip.AddrPortFrom(cfg.Address.Addr(), port)
	}
	if c.NArg() > 1 {
		var loss uint8
		if _, err := fmt.Sscan(c.Args().Get(1), &loss); err != nil {
			return cfg, fmt.Errorf("loss %q: %w", c.Args().Get(1), err)
		}
		cfg.LossPercent = loss
	}

	if c.IsSet(addrFlag.Name) {
		ap, err := config.ParseAddrPort(c.String(addrFlag.Name))
		if err != nil {
			return cfg, fmt.Errorf("--%s: %w", addrFlag.Name, err)
		}
		cfg.Address = ap
	}
	if c.IsSet(staleFlag.Name) {
		cfg.StaleAfter = c.Duration(staleFlag.Name)
	}
	if c.IsSet(lossFlag.Name) {
		v := c.Uint(lossFlag.Name)
		if v > 100 {
			return cfg, config.ErrBadLoss
		}
		cfg.LossPercent = uint8(v)
	}
	if c.IsSet(statusFlag.Name) {
		ap, err := config.ParseAddrPort(c.String(statusFlag.Name))
		if err != nil {
			return cfg, fmt.Errorf("--%s: %w", statusFlag.Name, err)
		}
		cfg.Status = ap
	}
	return cfg, cfg.Validate()
}

func serve(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	log := logging.New(logging.ProfileRuntime, "directory")

	dir, err := directory.New(cfg.Address,
		directory.WithLogger(log),
		directory.WithStaleAfter(cfg.StaleAfter),
		directory.WithLossPercent(cfg.LossPercent))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dir.Serve(gctx) })
	if cfg.Status.IsValid() {
		api := status.New(dir, status.WithLogger(logging.New(logging.ProfileRuntime, "status")))
		g.Go(func() error { return api.Serve(gctx, cfg.Status) })
	}
	log.Info().Func(dir.Zerolog).Msg("send a SIGINT to stop")

	err = g.Wait()
	if err != nil && context.Cause(ctx) == nil {
		return err
	}
	return nil
}
