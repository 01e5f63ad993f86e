// Package ragsvc assembles and runs the Lexica RAG server.
package ragsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/lexica/internal/rag/biz"
	"github.com/kart-io/lexica/internal/rag/handler"
	"github.com/kart-io/lexica/internal/rag/metrics"
	"github.com/kart-io/lexica/internal/rag/queue"
	"github.com/kart-io/lexica/internal/rag/router"
	"github.com/kart-io/lexica/internal/rag/store"
	"github.com/kart-io/lexica/internal/rag/worker"
	milvuscomponent "github.com/kart-io/lexica/pkg/component/milvus"
	postgrescomponent "github.com/kart-io/lexica/pkg/component/postgres"
	rediscomponent "github.com/kart-io/lexica/pkg/component/redis"
	"github.com/kart-io/lexica/pkg/llm"
	"github.com/kart-io/lexica/pkg/llm/resilience"
	llmopts "github.com/kart-io/lexica/pkg/options/llm"
	logopts "github.com/kart-io/lexica/pkg/options/logger"
	milvusopts "github.com/kart-io/lexica/pkg/options/milvus"
	postgresopts "github.com/kart-io/lexica/pkg/options/postgres"
	ragopts "github.com/kart-io/lexica/pkg/options/rag"
	redisopts "github.com/kart-io/lexica/pkg/options/redis"
	httpopts "github.com/kart-io/lexica/pkg/options/server/http"
	httpserver "github.com/kart-io/lexica/pkg/server/http"

	// Register LLM providers.
	_ "github.com/kart-io/lexica/pkg/llm/ollama"
	_ "github.com/kart-io/lexica/pkg/llm/openai"
)

// Name is the name of the application.
const Name = "lexica"

// Config contains everything needed to assemble the server.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	PostgresOptions  *postgresopts.Options
	MilvusOptions    *milvusopts.Options
	RedisOptions     *redisopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	ShutdownTimeout  time.Duration
}

// Server is the assembled RAG server.
type Server struct {
	http            *httpserver.Server
	worker          *worker.Worker
	shutdownTimeout time.Duration
	closers         []func()
}

// NewServer wires stores, providers, pipeline and HTTP transport.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infow("starting service", "name", Name)

	var closers []func()

	// Document store on Postgres.
	pg, err := postgrescomponent.NewWithContext(ctx, cfg.PostgresOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	closers = append(closers, func() { _ = pg.Close() })
	if err := store.AutoMigrate(pg.DB()); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	docs := store.NewDocumentStore(pg.DB())
	logger.Info("document store initialized")

	// Vector store on Milvus.
	milvusClient, err := milvuscomponent.New(cfg.MilvusOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	closers = append(closers, func() { _ = milvusClient.Close(context.Background()) })
	vectors := store.NewMilvusVectorStore(milvusClient, cfg.RAGOptions.Collection)
	if err := vectors.EnsureReady(ctx, cfg.RAGOptions.EmbeddingDim); err != nil {
		return nil, fmt.Errorf("failed to prepare vector collection: %w", err)
	}
	logger.Infow("vector store initialized",
		"collection", cfg.RAGOptions.Collection, "dimension", cfg.RAGOptions.EmbeddingDim)

	// Redis backs the ingestion queue and the answer cache.
	redisClient, err := rediscomponent.NewWithContext(ctx, cfg.RedisOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	ingestQueue := queue.NewRedisQueue(redisClient.Client(), cfg.RAGOptions.QueueName)
	cache := biz.NewAnswerCache(redisClient.Client(), &biz.AnswerCacheConfig{
		Enabled:   cfg.RAGOptions.CacheTTL > 0,
		TTL:       cfg.RAGOptions.CacheTTL,
		KeyPrefix: "lexica:answer:",
	})
	logger.Infow("queue and cache initialized",
		"queue", cfg.RAGOptions.QueueName, "cache_ttl", cfg.RAGOptions.CacheTTL.String())

	// LLM providers.
	embedProvider, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	chatProvider, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("llm providers initialized",
		"embedding", cfg.EmbeddingOptions.Provider, "chat", cfg.ChatOptions.Provider)

	m := metrics.New()

	ingestPolicy := resilience.DefaultPolicy()
	ingestPolicy.MaxAttempts = cfg.RAGOptions.MaxAttempts
	ingestEmbedder, err := biz.NewEmbedder(embedProvider, biz.EmbedderConfig{
		Dimension: cfg.RAGOptions.EmbeddingDim,
		BatchSize: cfg.RAGOptions.EmbedBatchSize,
		Policy:    ingestPolicy,
		OnRetry:   m.RecordIngestRetry,
	})
	if err != nil {
		return nil, err
	}
	queryEmbedder, err := biz.NewEmbedder(embedProvider, biz.EmbedderConfig{
		Dimension: cfg.RAGOptions.EmbeddingDim,
		BatchSize: cfg.RAGOptions.EmbedBatchSize,
		Policy:    resilience.OncePolicy(),
	})
	if err != nil {
		return nil, err
	}

	// A provider whose dimension disagrees with the index must never come
	// up: mixed dimensions would silently break similarity search.
	if err := ingestEmbedder.VerifyDimension(ctx); err != nil {
		return nil, fmt.Errorf("embedding dimension check failed: %w", err)
	}
	logger.Infow("embedding dimension verified", "dimension", cfg.RAGOptions.EmbeddingDim)

	chunker, err := biz.NewChunker(cfg.RAGOptions.ChunkSize, cfg.RAGOptions.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	assembler, err := biz.NewAssembler(cfg.RAGOptions.ContextBudget)
	if err != nil {
		return nil, err
	}
	generator, err := biz.NewGenerator(chatProvider, cfg.RAGOptions.SystemPrompt, m)
	if err != nil {
		return nil, err
	}

	ingestor := biz.NewIngestor(docs, vectors, biz.NewParser(), chunker, ingestEmbedder, ingestPolicy, m)
	retriever := biz.NewRetriever(queryEmbedder, vectors, docs)

	service := biz.NewService(
		biz.ServiceConfig{
			DefaultTopK:    cfg.RAGOptions.TopK,
			MaxTopK:        cfg.RAGOptions.MaxTopK,
			MaxUploadBytes: cfg.RAGOptions.MaxUploadBytes,
		},
		docs, vectors, ingestQueue, retriever, assembler, generator, cache, m,
	)

	ingestWorker, err := worker.New(ingestQueue, docs, ingestor, cfg.RAGOptions.WorkerConcurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion worker: %w", err)
	}

	srv := httpserver.New(cfg.HTTPOptions)
	router.Register(srv.Engine(), handler.New(service, m))

	logger.Info("service is ready")
	return &Server{
		http:            srv,
		worker:          ingestWorker,
		shutdownTimeout: cfg.ShutdownTimeout,
		closers:         closers,
	}, nil
}

// recoveryStaleAge is how long a processing document may sit untouched
// before startup recovery treats its attempt as dead. Progress checkpoints
// refresh the row between stages, so a live attempt stays fresher than this.
const recoveryStaleAge = 5 * time.Minute

// Run serves until ctx is cancelled, then drains the worker and closes the
// backing clients.
func (s *Server) Run(ctx context.Context) error {
	workerCtx, stopWorker := context.WithCancel(context.Background())
	if err := s.worker.Recover(ctx, recoveryStaleAge); err != nil {
		logger.Warnw("failed to recover interrupted documents", "error", err.Error())
	}
	s.worker.Start(workerCtx)

	err := s.http.Run(ctx, s.shutdownTimeout)

	stopWorker()
	s.worker.Stop(s.shutdownTimeout)

	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	return err
}
