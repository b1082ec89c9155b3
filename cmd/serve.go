package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dispatch-cli/internal/monitoring"
	"github.com/sells-group/dispatch-cli/internal/server"
)

var (
	servePort      int
	serveNoWorkers bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, worker pool, and metrics watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		srv := server.New(cfg.Server, env.Admission, env.Executor, env.Store, env.Prober)
		watcher := monitoring.NewWatcher(env.Collector, time.Minute)

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.ListenAndServe(gCtx)
		})
		g.Go(func() error {
			watcher.Run(gCtx)
			return nil
		})
		if !serveNoWorkers {
			g.Go(func() error {
				return env.Executor.Run(gCtx)
			})
		}

		err = g.Wait()
		zap.L().Info("serve: stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWorkers, "no-workers", false, "serve the API only, without the worker pool")
	rootCmd.AddCommand(serveCmd)
}
