package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cadforge/cadopt/internal/observability"
	"github.com/cadforge/cadopt/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the optimization API server.",
	Long: `Starts the HTTP API and the background worker pool. Jobs are accepted
over REST, progress streams over WebSocket, and completed results are cached
by request fingerprint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := buildStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.close()

		st.engine.Start(ctx)
		defer st.engine.Stop()

		srv := server.New(cfg.Server, st.engine, st.optimizer, st.hub, logger)
		logger.Info("cadopt server starting",
			zap.String("addr", cfg.Server.Addr()),
			zap.Int("workers", cfg.Engine.WorkerConcurrency),
			zap.String("cache_backend", cfg.Cache.Backend))
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
