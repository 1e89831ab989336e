// Command koikoi starts the Koi-Koi game server.
//
// It supports two commands:
//  1. "serve" (default) – runs the HTTP server exposing the REST API, the
//     WebSocket event stream and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server, reusing a running API server or
//     starting an internal one
//
// Settings come from KOIKOI_* environment variables (and .env); flags
// override them. An optional ngrok tunnel exposes the server during
// development.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/koikoi/api"
	"github.com/wricardo/koikoi/game/audit"
	"github.com/wricardo/koikoi/game/config"
	"github.com/wricardo/koikoi/game/service"
	"github.com/wricardo/koikoi/game/session"
	"github.com/wricardo/koikoi/game/session/sqlite"
	"github.com/wricardo/koikoi/game/timer"
	"github.com/wricardo/koikoi/logging"
	"github.com/wricardo/koikoi/telemetry"
	"github.com/wricardo/koikoi/transport/mcp"
	"github.com/wricardo/koikoi/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Koi-Koi Server"
)

const shutdownTimeout = 10 * time.Second

// main loads settings, builds the command tree and runs it until a signal
// arrives.
func main() {
	dotenv, err := loadDotEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	settings, err := LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newCommand(settings, dotenv)
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// newCommand builds the CLI. Flag defaults are the environment settings.
func newCommand(settings *Settings, dotenv bool) *cli.Command {
	return &cli.Command{
		Name:    "koikoi",
		Usage:   AppName,
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: settings.Host, Usage: "HTTP server host"},
			&cli.IntFlag{Name: "port", Value: settings.Port, Usage: "HTTP server port"},
			&cli.StringFlag{Name: "config-dir", Value: settings.ConfigDir, Usage: "Directory containing room presets"},
			&cli.StringFlag{Name: "default-room", Value: settings.DefaultRoom, Usage: "Room used when a join names none"},
			&cli.StringFlag{Name: "store", Value: settings.Store, Usage: "Game store: memory, file or sqlite"},
			&cli.BoolFlag{Name: "debug", Value: settings.Debug, Usage: "Enable debug logging"},
		},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server", "http"},
				Usage:   "Run the HTTP server with REST API, WebSocket and MCP endpoint",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "ngrok", Value: settings.NgrokEnabled, Usage: "Enable ngrok tunnel"},
					&cli.StringFlag{Name: "ngrok-auth", Value: settings.NgrokAuthToken, Usage: "Ngrok auth token (or NGROK_AUTHTOKEN)"},
					&cli.StringFlag{Name: "ngrok-domain", Value: settings.NgrokDomain, Usage: "Custom ngrok domain (optional)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := applyFlags(cmd, settings); err != nil {
						return err
					}
					settings.NgrokEnabled = cmd.Bool("ngrok")
					settings.NgrokAuthToken = cmd.String("ngrok-auth")
					settings.NgrokDomain = cmd.String("ngrok-domain")

					logger := logging.Must(settings.Debug)
					defer logger.Sync()
					if dotenv {
						logger.Info("loaded environment variables from .env file")
					}
					return runHTTPServer(ctx, settings, logger)
				},
			},
			{
				Name:    "mcp",
				Aliases: []string{"stdio-mcp", "mcp-stdio"},
				Usage:   "Run an MCP stdio server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-url", Value: settings.APIURL, Usage: "API server to reuse when running"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := applyFlags(cmd, settings); err != nil {
						return err
					}
					settings.APIURL = cmd.String("api-url")

					logger := logging.Must(settings.Debug)
					defer logger.Sync()
					return runStdioMCP(ctx, settings, logger)
				},
			},
		},
	}
}

// applyFlags copies the global flags into settings.
func applyFlags(cmd *cli.Command, settings *Settings) error {
	settings.Host = cmd.String("host")
	settings.Port = cmd.Int("port")
	settings.ConfigDir = cmd.String("config-dir")
	settings.DefaultRoom = cmd.String("default-room")
	settings.Store = cmd.String("store")
	settings.Debug = cmd.Bool("debug")
	return settings.Validate()
}

// app holds the wired services of one process.
type app struct {
	logger   *zap.Logger
	rooms    *config.Manager
	sessions *session.Manager
	store    *sqlite.Store
	audit    *audit.Log
	timers   *timer.Registry
	service  *service.Service
	hub      *websocket.Hub
}

// newApp wires room presets, the game store, the audit log and the game
// service according to settings.
func newApp(settings *Settings, logger *zap.Logger) (*app, error) {
	rooms, err := config.NewManager(settings.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create config manager: %w", err)
	}
	if settings.DefaultRoom != "" {
		if err := rooms.SetDefault(settings.DefaultRoom); err != nil {
			return nil, fmt.Errorf("default room %q: %w", settings.DefaultRoom, err)
		}
	}

	a := &app{logger: logger, rooms: rooms}

	var (
		persistence session.SessionPersistence
		writer      audit.Writer = audit.ZapWriter{Logger: logger.Named("audit")}
		stats       service.StatsRecorder
	)
	switch settings.Store {
	case StoreFile:
		fp, err := session.NewFilePersistence(settings.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create session persistence: %w", err)
		}
		persistence = fp
	case StoreSQLite:
		store, err := sqlite.Open(settings.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.store = store
		persistence = store
		writer = store
		stats = store
	}

	a.sessions = session.NewManagerWithPersistence(persistence, logger)
	a.audit = audit.New(writer, logger, audit.Options{Buffer: settings.AuditBuffer})
	a.timers = timer.NewRegistry(timer.RealClock(), logger)
	a.hub = websocket.NewHub(nil, logger)
	a.service = service.NewGameService(service.Options{
		Sessions: a.sessions,
		Rooms:    rooms,
		Timers:   a.timers,
		Events:   a.hub,
		Audit:    a.audit,
		Stats:    stats,
		Logger:   logger,
	})
	a.hub.SetPresence(a.service)
	return a, nil
}

// Close saves live games and releases the store. Pending timers are
// stopped first so no callback races the final save.
func (a *app) Close(ctx context.Context) error {
	a.timers.Stop()
	errs := []error{a.service.Close(ctx)}
	errs = append(errs, a.audit.Close(ctx))
	errs = append(errs, a.sessions.Close())
	return errors.Join(errs...)
}

// sweep periodically drops finished games from memory.
func (a *app) sweep(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.service.Sweep(retention); removed > 0 {
				a.logger.Info("swept finished games", zap.Int("count", removed))
			}
		}
	}
}

// newHandler mounts the API server at the root and the MCP endpoint at /mcp.
func newHandler(a *app, baseURL string) http.Handler {
	opts := []api.Option{api.WithRooms(a.rooms), api.WithLogger(a.logger)}
	if a.store != nil {
		opts = append(opts, api.WithRecords(a.store))
	}
	apiServer := api.NewServer(a.service, a.hub, opts...)
	mcpClient := mcp.NewClient(baseURL)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)
		if response == nil {
			// Notifications have no response.
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
	return mainRouter
}

// runHTTPServer starts the HTTP server, the WebSocket hub, the sweeper and,
// when enabled, an ngrok tunnel. It returns after ctx is cancelled and
// everything has shut down.
func runHTTPServer(ctx context.Context, settings *Settings, logger *zap.Logger) error {
	logger.Info("starting", zap.String("app", AppName), zap.String("version", Version),
		zap.String("store", settings.Store))

	shutdownTracing, err := telemetry.Setup(ctx, "koikoi", Version, settings.OTelEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	a, err := newApp(settings, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	if restored, err := a.service.Restore(ctx); err != nil {
		logger.Warn("failed to restore persisted games", zap.Error(err))
	} else if restored > 0 {
		logger.Info("restored persisted games", zap.Int("count", restored))
	}

	addr := settings.Addr()
	handler := newHandler(a, "http://"+addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.sweep(gctx, settings.SweepInterval, settings.FinishedRetention)
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening",
			zap.String("rest", fmt.Sprintf("http://%s/api", addr)),
			zap.String("websocket", fmt.Sprintf("ws://%s/ws?player_id=<player_id>", addr)),
			zap.String("mcp", fmt.Sprintf("http://%s/mcp", addr)))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	if settings.NgrokEnabled {
		g.Go(func() error {
			runNgrok(gctx, settings, handler, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	if err := shutdownTracing(closeCtx); err != nil {
		logger.Warn("failed to flush traces", zap.Error(err))
	}

	logger.Info("server stopped")
	return runErr
}

// runNgrok serves handler through an ngrok tunnel until ctx is done. Tunnel
// failures are logged; the local server keeps running.
func runNgrok(ctx context.Context, settings *Settings, handler http.Handler, logger *zap.Logger) {
	if settings.NgrokAuthToken == "" {
		logger.Warn("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN)")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if settings.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(settings.NgrokDomain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	logger.Info("starting ngrok tunnel", zap.String("domain", settings.NgrokDomain))
	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(settings.NgrokAuthToken))
	if err != nil {
		logger.Warn("failed to start ngrok tunnel", zap.Error(err))
		return
	}

	ngrokURL := tun.URL()
	logger.Info("ngrok tunnel established",
		zap.String("url", ngrokURL),
		zap.String("rest", ngrokURL+"/api"),
		zap.String("mcp", ngrokURL+"/mcp"))

	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("ngrok server error", zap.Error(err))
	}
	logger.Info("ngrok tunnel closed")
}

// apiAvailable reports whether a Koi-Koi API answers at baseURL.
func apiAvailable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// runStdioMCP runs an MCP stdio server. It reuses the API at
// settings.APIURL when one answers; otherwise it starts an internal HTTP API
// on a random loopback port and targets that.
func runStdioMCP(ctx context.Context, settings *Settings, logger *zap.Logger) error {
	baseURL := settings.APIURL

	if apiAvailable(ctx, baseURL) {
		logger.Info("external API server found, using it for MCP", zap.String("url", baseURL))
	} else {
		logger.Info("no external API server found, starting internal HTTP server")

		a, err := newApp(settings, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		if _, err := a.service.Restore(ctx); err != nil {
			logger.Warn("failed to restore persisted games", zap.Error(err))
		}

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		hubCtx, stopHub := context.WithCancel(ctx)
		go a.hub.Run(hubCtx)

		httpServer := &http.Server{Handler: newHandler(a, baseURL)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("internal HTTP server error", zap.Error(err))
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
			stopHub()
			if err := a.Close(shutdownCtx); err != nil {
				logger.Warn("shutdown incomplete", zap.Error(err))
			}
		}()
	}

	mcpClient := mcp.NewClient(baseURL)
	logger.Info("MCP stdio server ready", zap.String("api", baseURL))

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
