package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/roomlink/api"
	"github.com/wricardo/roomlink/cipher"
	"github.com/wricardo/roomlink/config"
	"github.com/wricardo/roomlink/crypt"
	"github.com/wricardo/roomlink/logging"
	"github.com/wricardo/roomlink/session"
	"github.com/wricardo/roomlink/transport/mcp"
	"github.com/wricardo/roomlink/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// roomServer is the development room server: the hub, its REST API and an
// MCP endpoint driving a session against the same server.
type roomServer struct {
	hub     *websocket.Hub
	manager *session.Manager
	handler http.Handler
}

// newRoomServer wires the hub, the REST API and /mcp. selfAddress is the
// WebSocket URL the MCP session dials by default.
func (a *app) newRoomServer(ctx context.Context, selfAddress string) (*roomServer, error) {
	log := logging.From(ctx)
	hub := websocket.NewHub(websocket.HubOptions{
		RoomTypes:      a.cfg.Server.Rooms,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	mcpServer, mgr, err := a.newMCPServer(ctx, selfAddress)
	if err != nil {
		return nil, err
	}

	apiServer := api.NewServer(hub, log)
	router := apiServer.Router()
	router.Handle("/mcp", mcpServer)

	return &roomServer{
		hub:     hub,
		manager: mgr,
		handler: router,
	}, nil
}

// newMCPServer builds the MCP surface over a fresh session manager.
func (a *app) newMCPServer(ctx context.Context, defaultAddress string) (*mcp.Server, *session.Manager, error) {
	codec, err := cipher.New(a.cfg.Cipher.Key)
	if err != nil {
		return nil, nil, err
	}
	box, err := crypt.New(a.cfg.Cipher.Secret)
	if err != nil {
		return nil, nil, err
	}

	mgr := a.newManager(ctx)
	srv := mcp.NewServer(mcp.Options{
		Manager:        mgr,
		DefaultAddress: defaultAddress,
		WaitTimeout:    a.cfg.Client.QueryTimeout,
		Codec:          codec,
		Box:            box,
		Logger:         logging.From(ctx),
	})
	return srv, mgr, nil
}

func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the development room server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "HTTP server host"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "HTTP server port"},
			&cli.BoolFlag{Name: "ngrok", Usage: "enable ngrok tunnel"},
			&cli.StringFlag{Name: "ngrok-auth", Usage: "ngrok auth token (or use NGROK_AUTHTOKEN env var)"},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s := &a.cfg.Server
			if cmd.IsSet("host") {
				s.Host = cmd.String("host")
			}
			if cmd.IsSet("port") {
				s.Port = cmd.Int("port")
			}
			if cmd.Bool("ngrok") {
				s.Ngrok.Enabled = true
			}
			if cmd.IsSet("ngrok-auth") {
				s.Ngrok.AuthToken = cmd.String("ngrok-auth")
			}
			if cmd.IsSet("ngrok-domain") {
				s.Ngrok.Domain = cmd.String("ngrok-domain")
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.serve(ctx)
		},
	}
}

// serve runs the room server until ctx is done, then shuts it down.
func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := a.cfg.ListenAddr()
	srv, err := a.newRoomServer(ctx, dialAddress(addr))
	if err != nil {
		return err
	}
	defer srv.manager.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go srv.hub.Run(hubCtx)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.log.Info("room server starting",
			"addr", addr,
			"ws", dialAddress(addr),
			"api", "http://"+addr+"/api",
			"mcp", "http://"+addr+"/mcp",
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if a.cfg.Server.Ngrok.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, a.cfg.Server.Ngrok, srv.handler, a.log)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down", "reason", context.Cause(ctx))
	case runErr = <-serveErr:
		a.log.Error("HTTP server error", "error", runErr)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server forced to shutdown", "error", err)
	}
	stopHub()

	wg.Wait()
	a.log.Info("server stopped")
	return runErr
}

// runNgrok exposes handler through an ngrok tunnel until ctx is done.
func runNgrok(ctx context.Context, cfg config.NgrokConfig, handler http.Handler, log *slog.Logger) {
	if cfg.AuthToken == "" {
		log.Warn("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	log.Info("starting ngrok tunnel")

	var tunnel ngrokConfig.Tunnel
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		log.Info("using custom ngrok domain", "domain", cfg.Domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		log.Error("failed to start ngrok tunnel", "error", err)
		return
	}
	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Debug("failed to close ngrok tunnel", "error", err)
		}
	}()

	publicURL := tun.URL()
	log.Info("ngrok tunnel established",
		"url", publicURL,
		"ws", strings.Replace(publicURL, "https://", "wss://", 1)+"/ws",
		"mcp", publicURL+"/mcp",
	)

	if err := http.Serve(tun, handler); err != nil && ctx.Err() == nil {
		log.Error("ngrok serve error", "error", err)
	}
}

func (a *app) mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "run an MCP stdio server driving one room session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "address", Aliases: []string{"a"}, Usage: "room server dialed by connect (default: client.address)"},
			&cli.BoolFlag{Name: "local", Usage: "always start an internal room server"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			address := a.cfg.Client.Address
			if cmd.IsSet("address") {
				address = cmd.String("address")
			}
			return a.serveStdioMCP(ctx, address, cmd.Bool("local"))
		},
	}
}

// serveStdioMCP reuses the room server at address when it answers its health
// check; otherwise it starts an internal one bound to a random loopback port
// and targets that.
func (a *app) serveStdioMCP(ctx context.Context, address string, local bool) error {
	if !local && reachable(ctx, address) {
		a.log.Info("room server found, using it for MCP", "address", address)
	} else {
		internal, shutdown, err := a.startInternalServer(ctx)
		if err != nil {
			return err
		}
		defer shutdown()
		address = internal
	}

	srv, mgr, err := a.newMCPServer(ctx, address)
	if err != nil {
		return err
	}
	defer mgr.Close()

	a.log.Info("MCP stdio server ready", "address", address)
	return srv.ServeStdio()
}

// startInternalServer runs a room server on 127.0.0.1:0 and returns its
// WebSocket URL.
func (a *app) startInternalServer(ctx context.Context) (string, func(), error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("failed to get available port: %w", err)
	}
	address := dialAddress(listener.Addr().String())

	srv, err := a.newRoomServer(ctx, address)
	if err != nil {
		listener.Close()
		return "", nil, err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	go srv.hub.Run(hubCtx)

	httpServer := &http.Server{Handler: srv.handler}
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("internal HTTP server error", "error", err)
		}
	}()

	a.log.Info("internal room server started", "address", address)

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		srv.manager.Close()
		stopHub()
	}
	return address, shutdown, nil
}

// dialAddress turns a listen address into the WebSocket URL clients dial.
func dialAddress(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "ws://" + listenAddr + "/ws"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "ws://" + net.JoinHostPort(host, port) + "/ws"
}

// healthURL maps a WebSocket URL to the server's health endpoint.
func healthURL(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/health"
	u.RawQuery = ""
	return u.String(), nil
}

// reachable reports whether a room server answers at address.
func reachable(ctx context.Context, address string) bool {
	target, err := healthURL(address)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
