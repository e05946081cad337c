// ABOUTME: serve subcommand running the OAuth callback, admin API and metrics
// ABOUTME: Owns the OAuth state store and shuts down cleanly on SIGINT or SIGTERM
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server for OAuth callbacks, the admin API and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.setVerbose()
			app := opts.app
			logger := app.Logger

			if err := app.OpenStates(); err != nil {
				if !errors.Is(err, crmsync.ErrConnectUnavailable) {
					return err
				}
				logger.Warn("connect flow disabled", zap.Error(err))
			}

			server := web.NewServer(app.Admin, logger)
			if addr == "" {
				addr = app.Config.HTTPAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Start(addr)
			})
			g.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down web server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: CRMSYNC_HTTP_ADDR or localhost:8080)")
	return cmd
}
