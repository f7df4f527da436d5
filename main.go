package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tailorcv/backend/internal/app"
	"tailorcv/backend/internal/config"
	"tailorcv/backend/internal/logger"
	"tailorcv/backend/internal/retrieval"
	"tailorcv/backend/internal/vector"
)

func main() {
	slog.SetDefault(logger.New(os.Stdout))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tailorcv",
		Short:         "CV ingestion and retrieval backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSearchCmd(), newRankCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ingestion worker",
		Long: `Run the HTTP API and the ingestion worker pool.

ENABLE_API and ENABLE_WORKER select which of the two run in this process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Error("failed to load config", "error", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				slog.Error("server failed", "error", err)
				return err
			}
			return nil
		},
	}
}

// run bootstraps every backing service and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(cfg, deps)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			delay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
			db, err := app.OpenDB(cmd.Context(), cfg.PostgresDSN(), cfg.BootstrapRetryAttempts, delay)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := app.Migrate(db, cfg.MigrationPath); err != nil {
				return err
			}
			slog.Info("migrations applied successfully")
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	var (
		minScore      float32
		maxCandidates int
		section       string
		docID         string
	)

	cmd := &cobra.Command{
		Use:   "search <jd_text>",
		Short: "Print the CV chunks matching a job description",
		Long: `Print the CV chunks whose similarity to the job description reaches
the score threshold, best first.

Examples:
  tailorcv search "senior Go engineer, distributed queues"
  tailorcv search --min-score 0.6 --section experience "Kubernetes"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &retrieval.ChunkOptions{Filter: map[string]string{}}
			if cmd.Flags().Changed("min-score") {
				opts.MinScore = &minScore
			}
			if cmd.Flags().Changed("max-candidates") {
				opts.MaxCandidates = &maxCandidates
			}
			if section != "" {
				opts.Filter[vector.MetaSection] = section
			}
			if docID != "" {
				opts.Filter[vector.MetaDocID] = docID
			}

			return withRetrieval(cmd, func(ctx context.Context, svc *retrieval.Service) (any, error) {
				return svc.SearchChunks(ctx, args[0], opts)
			})
		},
	}

	cmd.Flags().Float32Var(&minScore, "min-score", 0, "Minimum similarity score (default from settings)")
	cmd.Flags().IntVar(&maxCandidates, "max-candidates", 0, "Candidates fetched from the index (default from settings)")
	cmd.Flags().StringVar(&section, "section", "", "Only match chunks of this section type")
	cmd.Flags().StringVar(&docID, "doc", "", "Only match chunks of this document")

	return cmd
}

func newRankCmd() *cobra.Command {
	var topK, rawCandidates int

	cmd := &cobra.Command{
		Use:   "rank <jd_text>",
		Short: "Print the CVs that best match a job description",
		Long: `Rank stored CVs by the summed similarity of their chunks to the job
description.

Examples:
  tailorcv rank "backend engineer with Postgres experience"
  tailorcv rank --top-k 10 --raw-candidates 200 "data engineer"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &retrieval.RankOptions{}
			if cmd.Flags().Changed("top-k") {
				opts.TopK = &topK
			}
			if cmd.Flags().Changed("raw-candidates") {
				opts.RawCandidates = &rawCandidates
			}

			return withRetrieval(cmd, func(ctx context.Context, svc *retrieval.Service) (any, error) {
				return svc.RankDocuments(ctx, args[0], opts)
			})
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Documents to return (default from settings)")
	cmd.Flags().IntVar(&rawCandidates, "raw-candidates", 0, "Chunks fetched before aggregation (default from settings)")

	return cmd
}

// withRetrieval bootstraps the backends without the worker, runs query and
// prints its result as JSON.
func withRetrieval(cmd *cobra.Command, query func(context.Context, *retrieval.Service) (any, error)) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.EnableWorker = false

	ctx := cmd.Context()
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(cfg, deps)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := query(ctx, a.Retrieval)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out)
	return nil
}
