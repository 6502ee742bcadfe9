package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/docqa/internal/http"
	"github.com/fyrsmithlabs/docqa/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API.

Endpoints:
  POST /upload                 multipart field "file"
  POST /ask                    form fields "question" and optional "session_id"
  GET  /api/v1/sessions/:id    conversation history
  GET  /health, GET /metrics

When watch.enabled is set, PDFs dropped into watch.dir are indexed as well.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warn(context.Background(), "shutdown incomplete", zap.Error(err))
		}
	}()

	if err := a.initConversation(); err != nil {
		return err
	}

	cfg := a.cfg
	srv, err := httpserver.NewServer(a.conversation, a.ingest, a.logger, &httpserver.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		MaxUploadMB: cfg.Server.MaxUploadMB,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if cfg.Watch.Enabled {
		w, err := watch.New(cfg.Watch.Dir, a.ingest,
			watch.WithDebounce(cfg.Watch.Debounce),
			watch.WithLogger(a.logger.Underlying()))
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "received shutdown signal",
		zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}
