package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/config"
	"github.com/gregvolny/CSEntryWeb-sub001/dialog"
	"github.com/gregvolny/CSEntryWeb-sub001/engine"
	"github.com/gregvolny/CSEntryWeb-sub001/server"
	"github.com/gregvolny/CSEntryWeb-sub001/session"
	"github.com/gregvolny/CSEntryWeb-sub001/vfs"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the entry session server",
	Long:  `Loads the entry engine wasm module and serves data entry sessions over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Listen = listen
		}
		if module, _ := cmd.Flags().GetString("module"); module != "" {
			cfg.Engine.Module = module
		}
		if cfg.Engine.Module == "" {
			return fmt.Errorf("engine module path is required (--module, engine.module or %s)", config.EnvModule)
		}

		log, err := buildLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer log.Sync()

		engine.SetLogger(log.Named("engine"))
		vfs.SetLogger(log.Named("vfs"))

		// The gauge reads svc at scrape time; it is assigned below, before
		// the listener goroutine starts.
		var svc *session.Service
		metrics := server.NewMetrics(func() int {
			if svc == nil {
				return 0
			}
			return svc.Count()
		})

		responder := dialog.NewResponder(
			dialog.WithLogger(log.Named("dialog")),
			dialog.WithObserver(metrics.ObserveDialog),
		)

		rt := engine.NewRuntime(engine.Config{
			ModulePath:        cfg.Engine.Module,
			Dialog:            responder.Answer,
			MemoryLimitPages:  cfg.Engine.MemoryLimitPages,
			AsyncifyStackSize: cfg.Engine.AsyncStackSize,
		})
		ctx := context.Background()
		if err := rt.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize engine: %w", err)
		}
		defer rt.Close(ctx)

		spaces, err := vfs.NewManager(cfg.Sessions.Dir)
		if err != nil {
			return fmt.Errorf("session namespaces: %w", err)
		}

		registry := session.NewRegistry(&session.EngineFactory{Runtime: rt}, spaces, log.Named("session"))
		defer registry.Close(ctx)
		svc = session.NewService(registry, session.NewInvoker(log.Named("session")), spaces, log.Named("session"))

		opts := []server.Option{
			server.WithLogger(log.Named("http")),
			server.WithMetrics(metrics),
		}
		if cfg.Auth.Secret != "" {
			tokens, err := server.NewTokenManager(cfg.Auth.Secret)
			if err != nil {
				return err
			}
			opts = append(opts, server.WithTokens(tokens))
		}

		srv := &http.Server{
			Addr:    cfg.Listen,
			Handler: server.NewServer(svc, opts...).Router(),
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Info("server listening",
				zap.String("addr", srv.Addr),
				zap.String("module", cfg.Engine.Module),
				zap.String("sessions", cfg.Sessions.Dir))
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server: %w", err)

		case sig := <-shutdown:
			log.Info("shutdown started", zap.String("signal", sig.String()))

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("graceful shutdown did not complete", zap.Error(err))
				if err := srv.Close(); err != nil {
					return fmt.Errorf("close server: %w", err)
				}
			}
			log.Info("server stopped")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serveCmd.Flags().String("module", "", "Entry engine wasm module path (overrides config)")
}
