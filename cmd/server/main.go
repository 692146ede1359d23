package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"finadvisor/backend/internal/api"
	"finadvisor/backend/internal/auth"
	"finadvisor/backend/internal/config"
	"finadvisor/backend/internal/logging"
	"finadvisor/backend/internal/mcp"
	"finadvisor/backend/internal/repository"
	"finadvisor/backend/internal/tls"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	var envFile string
	root := &cobra.Command{
		Use:           "server",
		Short:         "Conversational financial advisory backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")

	load := func() (*config.Config, *logging.Logger, error) {
		cfg, err := config.LoadConfig(envFile)
		if err != nil {
			return nil, nil, fmt.Errorf("configuration loading failed: %w", err)
		}
		return cfg, logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}), nil
	}

	var withWorker bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (and, by default, process events in-process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger, withWorker)
		},
	}
	serve.Flags().BoolVar(&withWorker, "worker", true, "Run queue workers in this process (required with the memory bus)")

	worker := &cobra.Command{
		Use:   "worker",
		Short: "Process queued chat events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if cfg.Queue.Bus == "memory" {
				return errors.New("a standalone worker needs queue.bus=redis")
			}
			return runWorker(cmd.Context(), cfg, logger)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			pool, err := repository.Connect(cmd.Context(), cfg.DB.DSN(), 1)
			if err != nil {
				return err
			}
			defer pool.Close()
			applied, err := repository.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "count", len(applied), "names", applied)
			return nil
		},
	}

	root.AddCommand(serve, worker, migrate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *logging.Logger, withWorker bool) error {
	if cfg.Queue.Bus == "memory" && !withWorker {
		return errors.New("the memory bus needs in-process workers; drop --worker=false or use queue.bus=redis")
	}
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client id matches the backend client id. PKCE login from the docs page will fail if the backend client is confidential.")
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	authz, err := auth.New(ctx, cfg.Auth, a.store, logger.With("component", "auth"))
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	e := api.NewEcho(logger, cfg.Observability.ServiceName)
	routes := api.Routes{
		Chat:            api.NewChatServer(a.store, a.bus, logger),
		Runs:            api.NewRunServer(a.store, a.hub, cfg.Server.RunWaitLimit, logger),
		Auth:            authz,
		Ready:           map[string]api.Pinger{"store": a.store},
		Metrics:         a.obs.Handler(),
		MCP:             mcp.Handler(mcp.NewServer(a.advisory, api.Version).GetMCPServer()),
		Issuer:          cfg.Auth.Issuer,
		SwaggerClientID: cfg.Auth.SwaggerClientID,
		SwaggerScopes:   auth.AllScopes,
	}
	if a.rdb != nil {
		routes.Ready["redis"] = redisPinger{a.rdb}
	}
	api.Register(e, routes)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if cfg.TLS.Enable {
		created, err := tls.EnsureCertificate(afero.NewOsFs(), cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return err
		}
		if created {
			logger.Info("generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable, "store", cfg.Store, "bus", cfg.Queue.Bus)
		var err error
		if cfg.TLS.Enable {
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			logger.Error("server shutdown error", "error", err)
			return server.Close()
		}
		logger.Info("server stopped gracefully")
		return nil
	})
	if withWorker {
		startBackground(gctx, g, a)
	}
	return g.Wait()
}

func runWorker(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	g, gctx := errgroup.WithContext(ctx)
	startBackground(gctx, g, a)
	return g.Wait()
}

// startBackground runs the queue workers and, when enabled, the stale-run
// scheduler until ctx is done.
func startBackground(ctx context.Context, g *errgroup.Group, a *app) {
	g.Go(func() error {
		err := a.worker().Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if !a.cfg.Scheduler.Enable {
		return
	}
	g.Go(func() error {
		s, err := a.scheduler()
		if err != nil {
			return err
		}
		s.Start()
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		s.Stop(sctx)
		return nil
	})
}
