package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/idresolve/internal/input"
	"github.com/sells-group/idresolve/internal/model"
	"github.com/sells-group/idresolve/internal/resolver"
)

var (
	resolveInput      string
	resolveSheet      string
	resolveOutput     string
	resolveLimit      int
	resolveNoBackflow bool
	resolveDryRun     bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve company identifiers for a batch file",
	Long: `Reads a CSV or XLSX extract, runs every row through the lookup cascade,
writes backflow entries for the resolved rows, and emits positionally
aligned results as JSON.

Examples:
  # Parse only, print requests
  idresolve resolve --input batch.xlsx --dry-run

  # Full run against the configured store
  idresolve resolve --input batch.csv --output results.json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		reqs, err := readBatch(resolveInput)
		if err != nil {
			return err
		}
		zap.L().Info("resolve: batch parsed",
			zap.String("input", resolveInput),
			zap.Int("rows", len(reqs)),
		)

		if resolveLimit > 0 && resolveLimit < len(reqs) {
			reqs = reqs[:resolveLimit]
		}

		if resolveDryRun {
			return writeJSON(resolveOutput, reqs)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		results, stats, err := env.resolver.Resolve(ctx, reqs)
		if err != nil {
			return eris.Wrap(err, "resolve: run cascade")
		}

		if !resolveNoBackflow {
			written, err := env.backflow.Write(ctx, reqs, results)
			if err != nil {
				return eris.Wrap(err, "resolve: backflow")
			}
			zap.L().Info("resolve: backflow written", zap.Int("records", written))
		}

		logRunStats(stats)
		return writeJSON(resolveOutput, results)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveInput, "input", "", "path to CSV or XLSX batch file (required)")
	resolveCmd.Flags().StringVar(&resolveSheet, "sheet", "", "xlsx sheet name (default: first sheet)")
	resolveCmd.Flags().StringVar(&resolveOutput, "output", "", "write results JSON to file (default: stdout)")
	resolveCmd.Flags().IntVar(&resolveLimit, "limit", 0, "max rows to process (0 = all)")
	resolveCmd.Flags().BoolVar(&resolveNoBackflow, "no-backflow", false, "skip writing derived cache entries")
	resolveCmd.Flags().BoolVar(&resolveDryRun, "dry-run", false, "parse the batch and print requests, skip resolution")
	_ = resolveCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(resolveCmd)
}

// readBatch dispatches on the input file extension.
func readBatch(path string) ([]model.ResolutionRequest, error) {
	opts := input.Options{SheetName: resolveSheet}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return input.ReadCSVFile(path, opts)
	case ".xlsx":
		return input.ReadXLSX(path, opts)
	default:
		return nil, eris.Errorf("resolve: unsupported input format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

func logRunStats(stats *resolver.BatchStats) {
	fields := []zap.Field{
		zap.String("run_id", stats.RunID),
		zap.Int("rows", stats.Rows),
		zap.Int("cache_hits", stats.CacheHits),
		zap.Int("sync_calls", stats.SyncCalls),
		zap.Int("enqueued", stats.Enqueued),
	}
	for path, n := range stats.ByPath {
		fields = append(fields, zap.Int("path_"+path, n))
	}
	zap.L().Info("resolve: batch complete", fields...)
}

func writeJSON(path string, v any) error {
	w := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrap(err, "create output file")
		}
		defer f.Close() //nolint:errcheck
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
