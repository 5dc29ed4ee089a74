package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadcheck/internal/analyzer"
	"github.com/sells-group/leadcheck/internal/scheduler"
)

var scheduleMode string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the periodic batch loop in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var mode analyzer.Mode
		switch scheduleMode {
		case "new":
			mode = analyzer.ModeNewLeads
		case "all":
			mode = analyzer.ModeAllJunk
		default:
			return eris.Errorf("unsupported mode: %s (use new or all)", scheduleMode)
		}

		sched := scheduler.New(env.Analyzer, scheduler.Config{
			Interval:        schedulerInterval(),
			Mode:            mode,
			DryRun:          cfg.Scheduler.DryRun,
			ShutdownTimeout: schedulerShutdownTimeout(),
		})
		sched.Run(ctx)
		return nil
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleMode, "mode", "new", "batch scope: new or all")
	rootCmd.AddCommand(scheduleCmd)
}
