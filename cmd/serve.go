package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/api"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand: the monitoring API with health
// probes, metrics, stats and the bounce webhook. It runs until interrupted.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves health, metrics, stats and the bounce webhook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			if !cmd.Flags().Changed("port") {
				port = cfg.Server.Port
			}
			logger := a.Logger()

			apiServer := api.NewServer(a.Store(), a.Reporter(), a.Bounces(), api.Options{
				RequestTimeout: cfg.Server.RequestTimeout,
				AuthEnabled:    cfg.Auth.Enabled,
				APIKey:         cfg.Auth.APIKey,
			}, logger)

			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			return serve(cmd.Context(), ln, apiServer.Handler(), logger)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port")
	return cmd
}

// serve blocks until ctx is done or the server fails, then shuts down.
func serve(ctx context.Context, ln net.Listener, h http.Handler, logger *zap.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
