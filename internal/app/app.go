// Package app wires the HTTP API and the ingestion worker pool onto the
// bootstrapped dependencies.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"tailorcv/backend/features/document"
	"tailorcv/backend/features/job"
	"tailorcv/backend/features/mcp"
	"tailorcv/backend/features/search"
	"tailorcv/backend/features/stats"
	"tailorcv/backend/internal/chunker"
	"tailorcv/backend/internal/config"
	"tailorcv/backend/internal/middleware"
	"tailorcv/backend/internal/retrieval"
	"tailorcv/backend/internal/settings"
	"tailorcv/backend/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Handler   http.Handler
	Documents *document.Service
	Retrieval *retrieval.Service
	// Pool is nil when the worker is disabled.
	Pool *worker.Pool

	cfg      *config.Config
	queryLog *retrieval.QueryLogger
}

func New(cfg *config.Config, deps *Dependencies) (*App, error) {
	// Feature: Settings
	settingsService := settings.NewService(settings.NewPostgresRepo(deps.DB))
	settingsHandler := settings.NewHandler(settingsService)

	// Feature: Documents
	var latest document.Cache
	if deps.Cache != nil {
		latest = deps.Cache
	}
	documentService := document.NewService(deps.Documents, deps.Publisher, deps.Index, latest)
	documentHandler := document.NewHandler(documentService)

	// Feature: Jobs
	jobs := deps.Jobs
	if jobs == nil {
		jobs = job.NewService(job.NewPostgresRepo(deps.DB), deps.Publisher, slog.Default())
	}
	jobHandler := job.NewHandler(jobs)

	// Feature: Stats
	statsHandler := stats.NewHandler(deps.Documents, deps.Index, jobs)

	// Feature: Retrieval, Search & MCP
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(deps.Embedder, deps.Index, settingsService, queryLogger, cfg.MaxCandidatesLimit)
	searchHandler := search.NewHandler(retrievalService)
	mcpHandler := mcp.NewHandler(retrievalService, documentService)

	// Routes
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(middleware.CORS(h)))
	}

	route("POST /documents", documentHandler.Create)
	route("GET /documents/latest", documentHandler.Latest)
	route("GET /documents/{id}", documentHandler.Get)
	route("POST /documents/{id}/ingest", documentHandler.Ingest)
	route("DELETE /documents/{id}/vectors", documentHandler.PurgeVectors)

	route("POST /search/chunks", searchHandler.SearchChunks)
	route("POST /search/documents", searchHandler.RankDocuments)

	route("GET /settings", settingsHandler.GetSettings)
	route("PUT /settings", settingsHandler.UpdateSettings)
	route("DELETE /settings", settingsHandler.ResetSettings)

	route("GET /jobs/failed", jobHandler.List)
	route("GET /jobs/{id}", jobHandler.Get)
	route("POST /jobs/{id}/retry", jobHandler.Retry)

	route("GET /stats", statsHandler.GetStats)

	mux.Handle("/mcp", middleware.CorrelationID(middleware.CORS(mcpHandler.HTTPHandler())))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	a := &App{
		Handler:   mux,
		Documents: documentService,
		Retrieval: retrievalService,
		cfg:       cfg,
		queryLog:  queryLogger,
	}

	// Worker
	if cfg.EnableWorker && deps.Source != nil {
		policy, err := chunker.LoadPolicy(cfg.ChunkPolicyPath)
		if err != nil {
			return nil, err
		}
		processor := worker.NewProcessor(deps.Documents, chunker.New(policy), deps.Embedder, deps.Index, worker.ProcessorConfig{
			RequeueBaseDelay: cfg.RequeueBaseDelay(),
			RequeueMaxDelay:  cfg.RequeueMaxDelay(),
		})
		a.Pool = worker.NewPool(deps.Source, processor, cfg.WorkerConcurrency, config.TopicCVCreated, jobs)
	}

	return a, nil
}

// Close releases the query log file.
func (a *App) Close() error {
	return a.queryLog.Close()
}

// Run serves the API and runs the worker pool until ctx is cancelled or
// either of them fails; both are then stopped.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.EnableAPI {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
			Handler:           a.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			slog.Info("server starting", "port", a.cfg.ServerPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			slog.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown failed", "error", err)
			}
			return nil
		})
	}

	if a.Pool != nil {
		g.Go(func() error { return a.Pool.Run(gctx) })
	}

	return g.Wait()
}
