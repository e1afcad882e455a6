package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haveloc/servehub/internal/adapters/auth"
	"github.com/haveloc/servehub/internal/adapters/engine"
	"github.com/haveloc/servehub/internal/adapters/state"
	"github.com/haveloc/servehub/internal/api"
	"github.com/haveloc/servehub/internal/broker"
	"github.com/haveloc/servehub/internal/core"
	"github.com/haveloc/servehub/internal/dispatch"
	"github.com/haveloc/servehub/internal/events"
	"github.com/haveloc/servehub/internal/gate"
	"github.com/haveloc/servehub/internal/logging"
)

var (
	serveHost   string
	servePort   int
	serveNoCORS bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch service",
	Long: `Starts the HTTP API, the task store, the dispatch supervisor and,
unless an external broker is configured, an embedded in-process broker.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"Host to bind the API server to")
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"Port to listen on")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false,
		"Disable CORS headers")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveNoCORS {
		cfg.Server.NoCORS = true
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
		File:   cfg.Log.File,
	})

	store, err := state.NewSQLiteStore(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("closing state store", "error", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Broker: embedded over the in-memory transport, or a dial-out to
	// an external broker's frontend.
	var dialer broker.Dialer
	if cfg.Broker.Embedded {
		front := broker.NewMemEndpoint()
		back := broker.NewMemEndpoint()
		b := broker.New(front, back, broker.WithLogger(logger))
		g.Go(func() error { return b.Run(ctx) })
		dialer = front
		logger.Info("embedded broker started")
		// Workers cannot reach the in-memory backend from outside the
		// process; expose it over TCP when an address is configured.
		if cfg.Broker.BackendAddr != "" {
			backendLn, err := broker.ListenTCP(cfg.Broker.BackendAddr)
			if err != nil {
				return fmt.Errorf("listening on broker backend: %w", err)
			}
			g.Go(func() error { return relayWorkers(ctx, backendLn, back) })
			logger.Info("broker backend listening", "addr", backendLn.Addr())
		}
	} else {
		dialer = broker.TCPDialer{Addr: cfg.Broker.FrontendAddr}
		logger.Info("using external broker", "addr", cfg.Broker.FrontendAddr)
	}
	caller := broker.NewClient(dialer)

	var engineClient core.EngineClient
	if cfg.Engine.BaseURL != "" {
		engineClient = engine.NewHTTPClient(cfg.Engine.BaseURL, cfg.Engine.Token)
	} else {
		engineClient = engine.NewStub()
		logger.Warn("no workflow engine configured, publications will not build")
	}

	var introspector core.TokenIntrospector
	if cfg.Auth.IntrospectURL != "" {
		introspector = auth.NewHTTPIntrospector(cfg.Auth.IntrospectURL, cfg.Auth.ClientID, cfg.Auth.ClientSecret)
	} else {
		introspector = auth.Passthrough{}
		logger.Warn("no token introspection configured, treating bearer tokens as usernames")
	}

	eventBus := events.New(256)
	defer eventBus.Close()
	g.Go(func() error {
		logLifecycleEvents(ctx, eventBus, logger)
		return nil
	})

	syncTimeout, err := cfg.Dispatch.SyncTimeoutDuration()
	if err != nil {
		return fmt.Errorf("parsing sync timeout: %w", err)
	}
	asyncTimeout, err := cfg.Dispatch.AsyncTimeoutDuration()
	if err != nil {
		return fmt.Errorf("parsing async timeout: %w", err)
	}

	accessGate := gate.New(store, gate.WithLogger(logger))
	supervisor := dispatch.New(accessGate, caller, store,
		dispatch.WithLogger(logger),
		dispatch.WithEvents(eventBus),
		dispatch.WithSyncTimeout(syncTimeout),
		dispatch.WithAsyncTimeout(asyncTimeout),
		dispatch.WithMaxInFlight(int64(cfg.Dispatch.MaxInFlight)),
	)
	reconciler := dispatch.NewReconciler(store, engineClient, logger)

	serverOpts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithEvents(eventBus),
		api.WithEngine(engineClient),
	}
	if cfg.Server.NoCORS {
		serverOpts = append(serverOpts, api.WithoutCORS())
	}
	server := api.NewServer(supervisor, reconciler, store, store, store, introspector, serverOpts...)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	g.Go(func() error { return server.ListenAndServe(ctx, addr) })

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// relayWorkers accepts external worker connections on a TCP listener
// and bridges their frames onto the embedded broker's backend.
func relayWorkers(ctx context.Context, ln broker.Listener, back broker.Dialer) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		inner, err := back.Dial()
		if err != nil {
			_ = conn.Close()
			continue
		}
		go broker.Bridge(conn, inner)
	}
}

// logLifecycleEvents drains the event bus into the structured log.
func logLifecycleEvents(ctx context.Context, bus *events.EventBus, logger *logging.Logger) {
	ch := bus.Subscribe()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			logger.Info("lifecycle event",
				"type", event.EventType(),
				"task", event.TaskID(),
			)
		case <-ctx.Done():
			bus.Unsubscribe(ch)
			return
		}
	}
}
