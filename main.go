// Command roomlink is a client and development server for room-based
// realtime sessions over WebSocket.
//
// Subcommands:
//  1. "serve" runs the development room server with its REST API, the /ws
//     endpoint, an /mcp HTTP endpoint and an optional ngrok tunnel
//  2. "connect", "rooms" and "console" drive a client session from the terminal
//  3. "mcp" runs an MCP stdio server, starting an internal room server when
//     none is reachable
//  4. "cipher" and "crypt" apply the payload transforms to text
//  5. "config" validates configuration files and prints the effective one
//
// Configuration is layered: defaults, then the YAML file given by --config,
// then ROOMLINK_* environment variables (a .env file is loaded first), then
// flags.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	gorilla "github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/roomlink/config"
	"github.com/wricardo/roomlink/logging"
	"github.com/wricardo/roomlink/session"
	"github.com/wricardo/roomlink/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "roomlink"
)

// app carries the state built by the root Before hook.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	closeLog func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp().Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	a := &app{cfg: config.Default(), log: logging.Discard()}

	return &cli.Command{
		Name:    AppName,
		Usage:   "room sessions over WebSocket",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before reading the environment",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				Sources: cli.EnvVars(config.EnvPrefix + "DEBUG"),
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "write logs to a rotating file instead of stderr",
			},
		},
		Before: a.before,
		After:  a.after,
		Commands: []*cli.Command{
			a.serveCommand(),
			a.connectCommand(),
			a.roomsCommand(),
			a.consoleCommand(),
			a.mcpCommand(),
			a.cipherCommand(),
			a.cryptCommand(),
			a.configCommand(),
		},
	}
}

// before loads configuration and installs the logger.
func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := config.LoadEnv(cmd.String("env-file")); err != nil {
		return ctx, err
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return ctx, fmt.Errorf("environment: %w", err)
	}
	if cmd.Bool("debug") {
		cfg.Log.Level = "debug"
	}
	if f := cmd.String("log-file"); f != "" {
		cfg.Log.File = f
	}
	if err := cfg.Validate(); err != nil {
		return ctx, err
	}

	logger, closeLog, err := logging.Setup(&logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return ctx, err
	}

	a.cfg, a.log, a.closeLog = cfg, logger, closeLog
	logger.Debug("configuration loaded", "config", cmd.String("config"), "address", cfg.Client.Address)
	return logging.With(ctx, logger), nil
}

func (a *app) after(ctx context.Context, cmd *cli.Command) error {
	if a.closeLog == nil {
		return nil
	}
	return a.closeLog()
}

// newManager builds a session manager from the client configuration. It
// logs through the logger carried by ctx.
func (a *app) newManager(ctx context.Context) *session.Manager {
	c := a.cfg.Client
	log := logging.From(ctx)
	return session.New(session.Options{
		Conn: websocket.ConnOptions{
			Dialer: &gorilla.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: c.HandshakeTimeout,
			},
			Logger:     log,
			SendBuffer: c.SendBuffer,
			PingPeriod: c.PingPeriod,
		},
		QueryTimeout: c.QueryTimeout,
		Logger:       log,
	})
}

// stdout returns the writer commands print results to.
func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stdin(cmd *cli.Command) io.Reader {
	if r := cmd.Root().Reader; r != nil {
		return r
	}
	return os.Stdin
}

// argOr returns positional argument n, or def when it is missing.
func argOr(cmd *cli.Command, n int, def string) string {
	if v := strings.TrimSpace(cmd.Args().Get(n)); v != "" {
		return v
	}
	return def
}
