// Package testutils starts the backing services used by integration tests.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tailorcv/backend/internal/config"
)

type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer
	Mongo    *mongo.Client

	nsqdAddr     string
	nsqdHTTPAddr string
	mongoURI     string

	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
	nsqContainer      testcontainers.Container
	mongoContainer    testcontainers.Container
}

// NewIntegrationSuite skips the calling test under -short.
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres with the vector extension available
	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("tailorcv_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	_, b, _, _ := runtime.Caller(0)
	migrationPath := fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))

	m, err := migrate.New(migrationPath, connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	// 2. Weaviate
	weaviateC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "semitechnologies/weaviate:1.33.6",
			ExposedPorts: []string{"8080/tcp", "50051/tcp"},
			Env: map[string]string{
				"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
				"DEFAULT_VECTORIZER_MODULE":               "none",
				"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
			},
			WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = weaviateC

	s.Weaviate, err = weaviate.NewClient(weaviate.Config{
		Host:   s.endpoint(weaviateC, "8080"),
		Scheme: "http",
	})
	require.NoError(s.T, err)

	// 3. NSQ
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nsqio/nsq:v1.3.0",
			ExposedPorts: []string{"4150/tcp", "4151/tcp"},
			Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
			WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC
	s.nsqdAddr = s.endpoint(nsqC, "4150")
	s.nsqdHTTPAddr = s.endpoint(nsqC, "4151")

	s.NSQ, err = nsq.NewProducer(s.nsqdAddr, nsq.NewConfig())
	require.NoError(s.T, err)

	// 4. MongoDB
	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(s.T, err)
	s.mongoContainer = mongoC
	s.mongoURI = "mongodb://" + s.endpoint(mongoC, "27017")

	s.Mongo, err = mongo.Connect(ctx, options.Client().ApplyURI(s.mongoURI))
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) endpoint(c testcontainers.Container, port string) string {
	ctx := context.Background()
	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(s.T, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

// GetAppConfig returns a configuration pointing at the suite's services.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	ctx := context.Background()
	host, err := s.pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := s.pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)

	_, b, _, _ := runtime.Caller(0)

	return &config.Config{
		DBHost:                     host,
		DBPort:                     port.Int(),
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "tailorcv_test",
		MigrationPath:              fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b)),
		DocStore:                   config.DocStorePostgres,
		MongoURI:                   s.mongoURI,
		MongoDatabase:              "tailorcv_test",
		CacheMaxCost:               100,
		VectorBackend:              config.VectorBackendWeaviate,
		WeaviateHost:               s.endpoint(s.weaviateContainer, "8080"),
		WeaviateScheme:             "http",
		WeaviateClass:              "CVChunk",
		VectorDimension:            3,
		VectorUpsertBatch:          100,
		QueueBackend:               config.QueueBackendNSQ,
		NSQDHost:                   s.nsqdAddr,
		NSQDHTTP:                   s.nsqdHTTPAddr,
		NSQChannel:                 "vector",
		NSQMaxAttempts:             5,
		NSQMsgTimeoutSecs:          30,
		EmbedProvider:              config.EmbedProviderGemini,
		GeminiAPIKey:               "test-key",
		EmbedBatchSize:             32,
		EmbedMaxInputBytes:         16384,
		EmbedTimeoutSeconds:        10,
		EnableAPI:                  true,
		EnableWorker:               true,
		WorkerConcurrency:          2,
		RequeueBaseDelayMS:         10,
		RequeueMaxDelaySeconds:     1,
		MaxCandidatesLimit:         500,
		ServerPort:                 0,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.Mongo != nil {
		s.Mongo.Disconnect(ctx)
	}
	if s.DB != nil {
		s.DB.Close()
	}
	for _, c := range []testcontainers.Container{s.weaviateContainer, s.nsqContainer, s.mongoContainer} {
		if c != nil {
			c.Terminate(ctx)
		}
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
}
