package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/scheduler"
	"github.com/sells-group/leadcheck/internal/server"
)

var (
	servePort        int
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and background batch scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sched := scheduler.New(env.Analyzer, scheduler.Config{
			Interval:        schedulerInterval(),
			DryRun:          cfg.Scheduler.DryRun,
			ShutdownTimeout: schedulerShutdownTimeout(),
		})
		if !serveNoScheduler {
			sched.Start()
			defer func() {
				if err := sched.Stop(); err != nil {
					zap.L().Warn("scheduler stop", zap.Error(err))
				}
			}()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := server.New(sched, env.Analyzer, env.Checker, env.Store, env.Resolver, env.CRM, port)
		srv.Settings = map[string]any{
			"min_unsuccessful_calls": cfg.Analysis.MinUnsuccessfulCalls,
			"lead_batch_limit":       cfg.Analysis.LeadBatchLimit,
			"scheduler_interval_h":   cfg.Scheduler.IntervalHours,
			"scheduler_dry_run":      cfg.Scheduler.DryRun,
			"ledger_driver":          cfg.Ledger.Driver,
		}
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "serve HTTP only, without the periodic batch loop")
	rootCmd.AddCommand(serveCmd)
}
