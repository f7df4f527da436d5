package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"tailorcv/backend/features/document"
	"tailorcv/backend/features/job"
	"tailorcv/backend/internal/adapter/gemini"
	mongostore "tailorcv/backend/internal/adapter/mongo"
	"tailorcv/backend/internal/adapter/openai"
	"tailorcv/backend/internal/adapter/pgvector"
	wstore "tailorcv/backend/internal/adapter/weaviate"
	"tailorcv/backend/internal/cache"
	"tailorcv/backend/internal/config"
	"tailorcv/backend/internal/embedding"
	"tailorcv/backend/internal/queue"
	"tailorcv/backend/internal/vector"
	"tailorcv/backend/internal/vector/memory"
)

// Dependencies are the external resources the application runs on.
type Dependencies struct {
	DB        *sql.DB
	Documents document.Repository
	Index     vector.Index
	Embedder  *embedding.Embedder
	Publisher queue.Publisher
	// Source is nil when the worker is disabled.
	Source queue.Source
	Jobs   *job.Service
	Cache  *cache.Cache[*document.Document]

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *Dependencies) onClose(f func()) { d.closers = append(d.closers, f) }

type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Bootstrap connects every backing service and verifies the vector
// dimension contract. Any failure here is fatal: the worker must not start
// consuming against a misconfigured index.
func Bootstrap(ctx context.Context, cfg *config.Config) (deps *Dependencies, err error) {
	deps = &Dependencies{}
	defer func() {
		if err != nil {
			deps.Close()
			deps = nil
		}
	}()

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	// Database
	deps.DB, err = OpenDB(ctx, cfg.PostgresDSN(), cfg.BootstrapRetryAttempts, retryDelay)
	if err != nil {
		return deps, err
	}
	db := deps.DB
	deps.onClose(func() { db.Close() })

	if err = Migrate(db, cfg.MigrationPath); err != nil {
		return deps, err
	}

	// Document store
	if err = deps.openDocumentStore(ctx, cfg); err != nil {
		return deps, err
	}

	deps.Cache, err = cache.New[*document.Document](cfg.CacheMaxCost)
	if err != nil {
		return deps, err
	}
	deps.onClose(deps.Cache.Close)

	// Vector index
	deps.Index, err = NewIndex(cfg, db)
	if err != nil {
		return deps, err
	}
	if err = EnsureSchemaWithRetry(ctx, deps.Index, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return deps, fmt.Errorf("%s schema error: %w", cfg.VectorBackend, err)
	}

	// Embeddings
	model, closeModel, err := NewModel(ctx, cfg)
	if err != nil {
		return deps, err
	}
	if closeModel != nil {
		deps.onClose(closeModel)
	}
	deps.Embedder = embedding.New(model, embedding.Options{
		BatchSize:     cfg.EmbedBatchSize,
		Dimension:     cfg.VectorDimension,
		MaxInputBytes: cfg.EmbedMaxInputBytes,
		RateLimit:     cfg.EmbedRateLimit,
	})
	if err = VerifyDimension(ctx, deps.Embedder, deps.Index, cfg.VectorDimension); err != nil {
		return deps, err
	}

	// Queue
	if err = deps.openQueue(cfg); err != nil {
		return deps, err
	}

	return deps, nil
}

// OpenDB opens Postgres and pings it until it answers or attempts run out.
func OpenDB(ctx context.Context, dsn string, attempts int, delay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return db, nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

func Migrate(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

func (d *Dependencies) openDocumentStore(ctx context.Context, cfg *config.Config) error {
	if cfg.DocStore != config.DocStoreMongo {
		d.Documents = document.NewPostgresRepo(d.DB)
		return nil
	}

	client, err := mongostore.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return fmt.Errorf("mongo connect error: %w", err)
	}
	d.onClose(func() { disconnect(client) })

	store := mongostore.NewStore(client.Database(cfg.MongoDatabase).Collection(mongostore.CollectionName))
	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("mongo index error: %w", err)
	}
	d.Documents = store
	return nil
}

func disconnect(client *mongodriver.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		slog.Warn("failed to disconnect mongo", "error", err)
	}
}

// NewIndex builds the configured vector backend. db is only used by pgvector.
func NewIndex(cfg *config.Config, db *sql.DB) (vector.Index, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewStore(client, cfg.WeaviateClass, cfg.VectorUpsertBatch), nil
	case config.VectorBackendPGVector:
		return pgvector.NewStore(db, cfg.VectorDimension, cfg.VectorUpsertBatch), nil
	case config.VectorBackendMemory:
		return memory.New(cfg.VectorDimension), nil
	}
	return nil, fmt.Errorf("%w: VECTOR_BACKEND=%q", config.ErrInvalidValue, cfg.VectorBackend)
}

// NewModel creates the single provider client shared by the API and every
// worker. The returned func, when non-nil, releases it.
func NewModel(ctx context.Context, cfg *config.Config) (embedding.Model, func(), error) {
	switch cfg.EmbedProvider {
	case config.EmbedProviderGemini:
		m, err := gemini.NewModel(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbedModel, cfg.EmbedTimeout())
		if err != nil {
			return nil, nil, fmt.Errorf("gemini client error: %w", err)
		}
		return m, func() { m.Close() }, nil
	case config.EmbedProviderOpenAI:
		m, err := openai.NewModel(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIEmbedModel,
			Dimensions: cfg.VectorDimension,
			Timeout:    cfg.EmbedTimeout(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("openai client error: %w", err)
		}
		return m, nil, nil
	}
	return nil, nil, fmt.Errorf("%w: EMBED_PROVIDER=%q", config.ErrInvalidValue, cfg.EmbedProvider)
}

type prober interface {
	Probe(ctx context.Context) (int, error)
}

// VerifyDimension checks the configured dimension against the embedding
// model and the vectors already stored in the index.
func VerifyDimension(ctx context.Context, p prober, idx vector.Index, configured int) error {
	model, err := p.Probe(ctx)
	if err != nil {
		return fmt.Errorf("embedding probe error: %w", err)
	}
	if err := vector.CheckDimension(ctx, idx, configured, model); err != nil {
		return err
	}
	slog.Info("vector dimension verified", "dimension", configured)
	return nil
}

func (d *Dependencies) openQueue(cfg *config.Config) error {
	if cfg.QueueBackend == config.QueueBackendMemory {
		broker := queue.NewBroker(cfg.NSQMaxAttempts, nil)
		d.onClose(broker.Stop)
		d.Publisher = broker
		d.Jobs = job.NewService(job.NewPostgresRepo(d.DB), broker, slog.Default())
		broker.SetDeadLetter(d.Jobs)
		if cfg.EnableWorker {
			d.Source = broker.Subscribe(config.TopicCVCreated)
		} else {
			slog.Warn("memory queue without a worker; ingestion events are not processed in this process")
		}
		return nil
	}

	producer, err := queue.NewNSQPublisher(cfg.NSQDHost)
	if err != nil {
		return err
	}
	d.onClose(producer.Stop)
	d.Publisher = producer
	d.Jobs = job.NewService(job.NewPostgresRepo(d.DB), producer, slog.Default())

	createTopics(cfg.NSQDHTTP, config.TopicCVCreated)

	if !cfg.EnableWorker {
		return nil
	}

	source, err := queue.NewNSQSource(queue.NSQConfig{
		Topic:       config.TopicCVCreated,
		Channel:     cfg.NSQChannel,
		MaxInFlight: cfg.WorkerConcurrency,
		MaxAttempts: cfg.NSQMaxAttempts,
		MsgTimeout:  time.Duration(cfg.NSQMsgTimeoutSecs) * time.Second,
	}, d.Jobs)
	if err != nil {
		return err
	}
	if cfg.NSQLookupd != "" {
		err = source.ConnectToNSQLookupd(cfg.NSQLookupd)
	} else {
		err = source.ConnectToNSQD(cfg.NSQDHost)
	}
	if err != nil {
		source.Stop()
		return fmt.Errorf("nsq connect error: %w", err)
	}
	d.Source = source
	return nil
}

// createTopics asks nsqd to create topics up front so lookupd-based
// consumers do not fail before the first publish.
func createTopics(nsqdHTTP string, topics ...string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		for _, t := range topics {
			create(t)
		}
	}()
}

// EnsureSchemaWithRetry retries schema setup while the vector backend starts.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
