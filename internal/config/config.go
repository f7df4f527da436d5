package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	VectorBackendWeaviate = "weaviate"
	VectorBackendPGVector = "pgvector"
	VectorBackendMemory   = "memory"

	QueueBackendNSQ    = "nsq"
	QueueBackendMemory = "memory"

	DocStorePostgres = "postgres"
	DocStoreMongo    = "mongo"

	EmbedProviderGemini = "gemini"
	EmbedProviderOpenAI = "openai"

	// MaxUpsertBatch is the largest batch the vector backends accept in one write.
	MaxUpsertBatch = 100
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"tailorcv"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"tailorcv"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Document store
	DocStore      string `envconfig:"DOC_STORE" default:"postgres"`
	MongoURI      string `envconfig:"MONGO_URI" default:"mongodb://mongo:27017"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"tailorcv_db"`
	CacheMaxCost  int64  `envconfig:"CACHE_MAX_COST" default:"1024"`

	// Vector index
	VectorBackend     string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost      string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme    string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass     string `envconfig:"WEAVIATE_CLASS" default:"CVChunk"`
	VectorDimension   int    `envconfig:"VECTOR_DIMENSION" default:"768"`
	VectorUpsertBatch int    `envconfig:"VECTOR_UPSERT_BATCH" default:"100"`

	// Queue
	QueueBackend      string `envconfig:"QUEUE_BACKEND" default:"nsq"`
	NSQLookupd        string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost          string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP          string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQChannel        string `envconfig:"NSQ_CHANNEL" default:"vector"`
	NSQMaxAttempts    int    `envconfig:"NSQ_MAX_ATTEMPTS" default:"5"`
	NSQMsgTimeoutSecs int    `envconfig:"NSQ_MSG_TIMEOUT_SECONDS" default:"120"`

	// Embeddings
	EmbedProvider       string  `envconfig:"EMBED_PROVIDER" default:"gemini"`
	GeminiAPIKey        string  `envconfig:"GEMINI_API_KEY"`
	GeminiEmbedModel    string  `envconfig:"GEMINI_EMBED_MODEL" default:"text-embedding-004"`
	OpenAIAPIKey        string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string  `envconfig:"OPENAI_BASE_URL"`
	OpenAIEmbedModel    string  `envconfig:"OPENAI_EMBED_MODEL" default:"text-embedding-3-small"`
	EmbedBatchSize      int     `envconfig:"EMBED_BATCH_SIZE" default:"32"`
	EmbedMaxInputBytes  int     `envconfig:"EMBED_MAX_INPUT_BYTES" default:"16384"`
	EmbedTimeoutSeconds int     `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	EmbedRateLimit      float64 `envconfig:"EMBED_RATE_LIMIT" default:"0"` // batch calls per second, 0 = unlimited

	ChunkPolicyPath string `envconfig:"CHUNK_POLICY_PATH"`

	// Worker
	EnableAPI              bool `envconfig:"ENABLE_API" default:"true"`
	EnableWorker           bool `envconfig:"ENABLE_WORKER" default:"true"`
	WorkerConcurrency      int  `envconfig:"WORKER_CONCURRENCY" default:"2"`
	RequeueBaseDelayMS     int  `envconfig:"REQUEUE_BASE_DELAY_MS" default:"1000"`
	RequeueMaxDelaySeconds int  `envconfig:"REQUEUE_MAX_DELAY_SECONDS" default:"60"`

	// Retrieval
	MaxCandidatesLimit int `envconfig:"MAX_CANDIDATES_LIMIT" default:"500"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; a missing .env is fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.DocStore {
	case DocStorePostgres:
	case DocStoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("%w: MONGO_URI", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: DOC_STORE=%q", ErrInvalidValue, c.DocStore)
	}

	switch c.VectorBackend {
	case VectorBackendWeaviate, VectorBackendPGVector, VectorBackendMemory:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalidValue, c.VectorBackend)
	}

	switch c.QueueBackend {
	case QueueBackendNSQ, QueueBackendMemory:
	default:
		return fmt.Errorf("%w: QUEUE_BACKEND=%q", ErrInvalidValue, c.QueueBackend)
	}

	switch c.EmbedProvider {
	case EmbedProviderGemini, EmbedProviderOpenAI:
	default:
		return fmt.Errorf("%w: EMBED_PROVIDER=%q", ErrInvalidValue, c.EmbedProvider)
	}

	if c.VectorDimension <= 0 {
		return fmt.Errorf("%w: VECTOR_DIMENSION must be positive", ErrInvalidValue)
	}
	if c.VectorUpsertBatch <= 0 || c.VectorUpsertBatch > MaxUpsertBatch {
		return fmt.Errorf("%w: VECTOR_UPSERT_BATCH must be in [1, %d]", ErrInvalidValue, MaxUpsertBatch)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("%w: EMBED_BATCH_SIZE must be positive", ErrInvalidValue)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("%w: WORKER_CONCURRENCY must be positive", ErrInvalidValue)
	}
	if c.MaxCandidatesLimit <= 0 {
		return fmt.Errorf("%w: MAX_CANDIDATES_LIMIT must be positive", ErrInvalidValue)
	}
	return nil
}

// EmbedTimeout bounds a single call to the embedding provider.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSeconds) * time.Second
}

func (c *Config) RequeueBaseDelay() time.Duration {
	return time.Duration(c.RequeueBaseDelayMS) * time.Millisecond
}

func (c *Config) RequeueMaxDelay() time.Duration {
	return time.Duration(c.RequeueMaxDelaySeconds) * time.Second
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
