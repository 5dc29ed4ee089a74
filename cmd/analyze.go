package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/analyzer"
)

var (
	analyzeMode   string
	analyzeLeadID string
	analyzeDryRun bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze junk leads and apply status corrections",
	Long:  "Runs the re-validation pipeline over junk leads. Use --lead to analyze one lead, or --mode to pick the batch scope.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if analyzeLeadID != "" {
			res, err := env.Analyzer.AnalyzeLeadByID(ctx, analyzeLeadID, analyzeDryRun)
			if err != nil {
				return eris.Wrap(err, "analyze lead")
			}
			return enc.Encode(res)
		}

		var mode analyzer.Mode
		switch analyzeMode {
		case "new":
			mode = analyzer.ModeNewLeads
		case "all":
			mode = analyzer.ModeAllJunk
		default:
			return eris.Errorf("unsupported mode: %s (use new or all)", analyzeMode)
		}

		batch, err := env.Analyzer.RunBatch(ctx, mode, analyzeDryRun)
		if err != nil {
			return eris.Wrap(err, "run batch")
		}

		zap.L().Info("analysis complete",
			zap.Int("total", batch.Total()),
			zap.Int("updated", batch.Updated()),
			zap.Int("kept", batch.Kept()),
			zap.Int("skipped", batch.Skipped()),
			zap.Int("failed", batch.Failed()),
		)
		return enc.Encode(batch)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeMode, "mode", "new", "batch scope: new (since last run) or all (every junk lead)")
	analyzeCmd.Flags().StringVar(&analyzeLeadID, "lead", "", "analyze a single lead by CRM id")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "compute and record decisions without writing to the CRM")
	rootCmd.AddCommand(analyzeCmd)
}
