package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lumenclean/internal/api"
	"lumenclean/internal/config"
	"lumenclean/internal/database"
	"lumenclean/internal/repository"
	"lumenclean/internal/service"
	"lumenclean/internal/transcription/adapters"
	"lumenclean/pkg/logger"
)

const httpShutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cleaning workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().Int("port", 0, "Override server.port")
	return cmd
}

// runServer serves until ctx ends, then drains the queue and stops the listener.
func runServer(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close(db)

	backend, err := adapters.New(ctx, cfg)
	if err != nil {
		return err
	}

	svc, err := service.NewFromConfig(cfg, repository.NewTurnStore(db), backend)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx, cfg.Queue.Workers, cfg.Queue.RecoverOnStart); err != nil {
		return err
	}
	cfg.Watch(svc.ApplyConfig)

	router := api.SetupRoutes(api.NewHandler(svc), api.AuthConfig{
		JWTSecret:  cfg.Auth.JWTSecret,
		APIKeyHash: cfg.Auth.APIKeyHash,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening",
			"addr", srv.Addr,
			"workers", cfg.Queue.Workers,
			"backend", backend.Name(),
			"auth", cfg.Auth.JWTSecret != "" || cfg.Auth.APIKeyHash != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", "drain_timeout", cfg.Queue.DrainTimeout)

		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.DrainTimeout)
		defer cancel()
		// closing the publisher ends open event streams, so the listener can stop promptly
		drainErr := svc.Shutdown(drainCtx)

		httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancelHTTP()
		return errors.Join(drainErr, srv.Shutdown(httpCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
