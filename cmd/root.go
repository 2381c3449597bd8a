package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/idresolve/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "idresolve",
	Short: "Company identity resolution for batch ETL",
	Long:  "Resolves a stable company identifier for every row of a batch extract through a priority lookup cascade backed by a persistent enrichment index, a budget-limited external search provider, and an async backlog for deferred lookups.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
