/*
UPush peer.
Registers a nickname with a directory server, then reads commands from the console and prints whatever other peers send.

Companion to the directory implementation in server/main.go.
*/
package main

import (
	"fmt"
	"math"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rflandau/upush/internal/config"
	"github.com/rflandau/upush/internal/logging"
	"github.com/rflandau/upush/pkg/upush/client"
	"github.com/rflandau/upush/pkg/upush/transport"
	"github.com/urfave/cli/v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "TOML file to load before arguments and flags are applied",
	}
	nickFlag = &cli.StringFlag{
		Name:    "nick",
		Aliases: []string{"n"},
		Usage:   "nickname to register under",
	}
	serverFlag = &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "ip:port of the directory server",
	}
	portFlag = &cli.UintFlag{
		Name:  "port",
		Usage: "local UDP port; 0 picks an ephemeral one",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "how long to wait for any acknowledgement",
	}
	heartbeatFlag = &cli.DurationFlag{
		Name:  "heartbeat",
		Usage: "how often to refresh the registration",
	}
	lossFlag = &cli.UintFlag{
		Name:  "loss",
		Usage: "percentage of outbound datagrams to drop",
	}
	dedupFlag = &cli.BoolFlag{
		Name:  "suppress-duplicates",
		Usage: "do not show a retransmitted message twice",
	}
	noColorFlag = &cli.BoolFlag{
		Name:    "no-color",
		Usage:   "print plain text",
		EnvVars: []string{logging.EnvLogNoColor},
	}
)

func main() {
	app := &cli.App{
		Name:      "upush-peer",
		Usage:     "chat with other UPush peers",
		ArgsUsage: "[nick server-ip server-port [timeout-seconds [loss]]]",
		Flags: []cli.Flag{configFlag, nickFlag, serverFlag, portFlag,
			timeoutFlag, heartbeatFlag, lossFlag, dedupFlag, noColorFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig layers defaults, the config file, positional arguments, and flags, in that order.
func resolveConfig(c *cli.Context) (config.PeerConfig, error) {
	cfg := config.DefaultPeerConfig()
	if path := c.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = config.LoadPeerConfig(path); err != nil {
			return cfg, err
		}
	}

	// classic positional form: upush-peer <nick> <server ip> <server port> <timeout> <loss>
	args := c.Args()
	switch n := args.Len(); {
	case n == 0:
	case n < 3:
		return cfg, fmt.Errorf("expected nick, server ip, and server port; got %d arguments", n)
	default:
		cfg.Nick = args.Get(0)
		ap, err := netip.ParseAddrPort(args.Get(1) + ":" + args.Get(2))
		if err != nil {
			return cfg, fmt.Errorf("server: %w", err)
		}
		cfg.Server = ap
		if n > 3 {
			secs, err := strconv.ParseUint(args.Get(3), 10, 16)
			if err != nil || secs == 0 {
				return cfg, fmt.Errorf("timeout %q must be a positive number of seconds", args.Get(3))
			}
			cfg.Timeout = time.Duration(secs) * time.Second
		}
		if n > 4 {
			loss, err := strconv.ParseUint(args.Get(4), 10, 8)
			if err != nil {
				return cfg, fmt.Errorf("loss %q: %w", args.Get(4), err)
			}
			cfg.LossPercent = uint8(loss)
		}
	}

	if c.IsSet(nickFlag.Name) {
		cfg.Nick = c.String(nickFlag.Name)
	}
	if c.IsSet(serverFlag.Name) {
		ap, err := config.ParseAddrPort(c.String(serverFlag.Name))
		if err != nil {
			return cfg, fmt.Errorf("--%s: %w", serverFlag.Name, err)
		}
		cfg.Server = ap
	}
	if c.IsSet(timeoutFlag.Name) {
		cfg.Timeout = c.Duration(timeoutFlag.Name)
	}
	if c.IsSet(heartbeatFlag.Name) {
		cfg.HeartbeatInterval = c.Duration(heartbeatFlag.Name)
	}
	if c.IsSet(lossFlag.Name) {
		v := c.Uint(lossFlag.Name)
		if v > 100 {
			return cfg, config.ErrBadLoss
		}
		cfg.LossPercent = uint8(v)
	}
	if c.IsSet(dedupFlag.Name) {
		cfg.SuppressDuplicate = c.Bool(dedupFlag.Name)
	}
	return cfg, cfg.Validate()
}

// localPort returns the --port flag, rejecting values that do not fit in a port number.
func localPort(c *cli.Context) (uint16, error) {
	v := c.Uint(portFlag.Name)
	if v > math.MaxUint16 {
		return 0, fmt.Errorf("--%s %d is not a valid port", portFlag.Name, v)
	}
	return uint16(v), nil
}

func run(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	log := logging.New(logging.ProfileConsole, "peer").With().Str("nick", cfg.Nick).Logger()
	pr := newPrinter(os.Stdout, c.Bool(noColorFlag.Name))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	port, err := localPort(c)
	if err != nil {
		return err
	}
	local := netip.AddrPortFrom(netip.IPv4Unspecified(), port)
	u, err := transport.Listen(ctx, local, transport.WithUDPLogger(&log))
	if err != nil {
		return err
	}
	var t transport.Transport = u
	if cfg.LossPercent > 0 {
		if t, err = transport.NewLossy(u, cfg.LossPercent, transport.WithLossyLogger(&log)); err != nil {
			u.Close()
			return err
		}
	}
	defer t.Close()

	opts := []client.SessionOption{
		client.WithLogger(&log),
		client.WithTimeout(cfg.Timeout),
		client.WithHeartbeatInterval(cfg.HeartbeatInterval),
		client.WithMessageHandler(pr.message),
		client.WithFailureHandler(pr.failure),
		client.WithCommandErrorHandler(pr.commandError),
	}
	if cfg.SuppressDuplicate {
		opts = append(opts, client.WithDuplicateSuppression())
	}
	sess, err := client.New(cfg.Nick, cfg.Server, t, opts...)
	if err != nil {
		return err
	}
	if err := sess.Register(ctx); err != nil {
		return fmt.Errorf("registering with %v: %w", cfg.Server, err)
	}
	log.Debug().Func(sess.Zerolog).Msg("registered")

	lr := newLineReader(os.Stdin)
	defer lr.Close()
	cmds := make(chan client.Command)
	go pump(ctx, lr, cmds, pr.inputError)

	return sess.Run(ctx, cmds)
}
