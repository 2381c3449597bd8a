package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/idresolve/internal/queue"
)

var (
	queueWorkLoop     bool
	queueWorkInterval time.Duration
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain the async enrichment backlog",
}

var queueWorkCmd = &cobra.Command{
	Use:   "work",
	Short: "Drain pending entries through the enrichment provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if !cfg.Resolver.EnrichmentEnabled {
			return eris.New("queue work requires enrichment to be enabled")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		worker := queue.NewWorker(env.queue, env.repo, env.provider, queue.WorkerConfig{
			BatchSize:   cfg.Queue.BatchSize,
			Concurrency: cfg.Queue.Concurrency,
			MaxAttempts: cfg.Queue.MaxAttempts,
		})

		for {
			stats, err := worker.Drain(ctx)
			if err != nil {
				return eris.Wrap(err, "queue: drain")
			}
			if !queueWorkLoop {
				return nil
			}
			if stats.Fetched == 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(queueWorkInterval):
				}
			}
		}
	},
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the pending backlog depth",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		depth, err := env.queue.Depth(ctx)
		if err != nil {
			return eris.Wrap(err, "queue: depth")
		}
		zap.L().Info("queue status", zap.Int64("pending", depth))
		return writeJSON("", map[string]int64{"pending": depth})
	},
}

func init() {
	queueWorkCmd.Flags().BoolVar(&queueWorkLoop, "loop", false, "keep draining until interrupted")
	queueWorkCmd.Flags().DurationVar(&queueWorkInterval, "interval", 30*time.Second, "sleep between empty drain passes in --loop mode")
	queueCmd.AddCommand(queueWorkCmd)
	queueCmd.AddCommand(queueStatusCmd)
	rootCmd.AddCommand(queueCmd)
}
