package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statsDays int

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and maintain the analysis ledger",
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print analysis and transcript cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate ledger")
		}

		since := time.Now().UTC().AddDate(0, 0, -statsDays)
		analyses, err := st.AnalysisStats(ctx, since)
		if err != nil {
			return eris.Wrap(err, "analysis stats")
		}
		transcripts, err := st.TranscriptStats(ctx)
		if err != nil {
			return eris.Wrap(err, "transcript stats")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"since":       since,
			"analyses":    analyses,
			"transcripts": transcripts,
		})
	},
}

var ledgerCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired history and failed transcript attempts",
	Long:  "Applies the retention settings. Successful transcripts are a durable cache and are never deleted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate ledger")
		}

		now := time.Now().UTC()

		historyCutoff := now.AddDate(0, 0, -cfg.Retention.HistoryDays)
		removed, err := st.DeleteHistoryBefore(ctx, historyCutoff)
		if err != nil {
			return eris.Wrap(err, "delete history")
		}

		failedCutoff := now.AddDate(0, 0, -cfg.Retention.FailedTranscriptDays)
		failedRemoved, err := st.DeleteFailedTranscriptsBefore(ctx, failedCutoff)
		if err != nil {
			return eris.Wrap(err, "delete failed transcripts")
		}

		zap.L().Info("ledger cleanup complete",
			zap.Int("history_rows_removed", removed),
			zap.Int("failed_transcripts_removed", failedRemoved),
			zap.Time("history_cutoff", historyCutoff),
			zap.Time("failed_transcript_cutoff", failedCutoff),
		)
		return nil
	},
}

func init() {
	ledgerStatsCmd.Flags().IntVar(&statsDays, "days", 30, "history window in days")
	ledgerCmd.AddCommand(ledgerStatsCmd)
	ledgerCmd.AddCommand(ledgerCleanupCmd)
	rootCmd.AddCommand(ledgerCmd)
}
