package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the enrichment index",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-lookup-type row and hit totals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.repo.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache: stats")
		}
		return writeJSON("", stats)
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
