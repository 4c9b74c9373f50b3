package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ashwinyue/next-sync/internal/handler"
	"github.com/ashwinyue/next-sync/internal/router"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	svc := a.services
	if err := svc.Outbox.Start(ctx); err != nil {
		return err
	}
	defer svc.Outbox.Stop()

	go svc.Tokens.RunSweeper(ctx, a.cfg.Events.SweepInterval)
	go svc.EventStore.RunSweeper(ctx, a.cfg.Events.SweepInterval)

	checks := map[string]handler.Pinger{"database": a.db}
	if a.redis != nil {
		checks["redis"] = redisPinger{client: a.redis}
	}

	r := router.SetupRouter(router.Options{
		Handlers:    handler.NewHandlers(svc),
		System:      handler.NewSystemHandler(a.cfg, checks),
		Auth:        svc.Auth,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Log:         a.log,
	})

	// WriteTimeout 为 0 时不限制，SSE 长连接需要
	srv := &http.Server{
		Addr:         a.cfg.Server.GetAddr(),
		Handler:      r,
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Error("server forced to shutdown")
		return err
	}

	a.log.Info("server exited")
	return nil
}
