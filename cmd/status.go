package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dependency health and the junk queue size",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report := env.Checker.Check(ctx)

		body := map[string]any{"health": report}
		if count, err := env.CRM.CountJunkLeads(ctx); err != nil {
			zap.L().Warn("junk lead count unavailable", zap.Error(err))
		} else {
			body["junk_leads"] = count
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
