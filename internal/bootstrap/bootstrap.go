package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChrisPatten/haven-sub001/internal/config"
	"github.com/ChrisPatten/haven-sub001/internal/core/ports"
	"github.com/ChrisPatten/haven-sub001/internal/core/usecase"
	"github.com/ChrisPatten/haven-sub001/internal/infrastructure/chunking"
	"github.com/ChrisPatten/haven-sub001/internal/infrastructure/embedding/ollama"
	"github.com/ChrisPatten/haven-sub001/internal/infrastructure/extractor"
	"github.com/ChrisPatten/haven-sub001/internal/infrastructure/graph/neo4j"
	"github.com/ChrisPatten/haven-sub001/internal/infrastructure/queue/nats"
	"github.com/ChrisPatten/haven-sub001/internal/infrastructure/repository/postgres"
	"github.com/ChrisPatten/haven-sub001/internal/infrastructure/rerank/httprerank"
	"github.com/ChrisPatten/haven-sub001/internal/infrastructure/resilience"
	"github.com/ChrisPatten/haven-sub001/internal/infrastructure/storage/localfs"
	"github.com/ChrisPatten/haven-sub001/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue ports.MessageQueue

	IngestUC  ports.Ingestor
	ProcessUC ports.SubmissionProcessor
	StatusUC  ports.StatusReader
	SearchUC  ports.Searcher
	DeleteUC  ports.Deleter

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	docs := postgres.NewDocumentStore(db)
	if err := docs.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	subs := postgres.NewSubmissionStore(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init file storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	embedder := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel)
	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	var reranker ports.Reranker
	if cfg.RerankURL != "" {
		reranker = httprerank.New(cfg.RerankURL, cfg.RerankModel)
	}

	// The graph is optional infrastructure: without it ingestion still works,
	// people/thread hints are just dropped.
	var relationships ports.RelationshipStore
	if cfg.Neo4jURI != "" {
		graph, err := neo4j.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, fmt.Errorf("init graph store: %w", err)
		}
		relationships = graph
	}

	searchUC := usecase.NewSearchUseCase(
		vectorDB,
		vectorDB,
		embedder,
		reranker,
		cfg.SearchCandidateLimit,
		time.Duration(cfg.SearchModalityTimeoutMs)*time.Millisecond,
		cfg.SearchFusionRRFK,
		logger,
	)
	ingestUC := usecase.NewIngestUseCase(docs, subs, storage, queue, relationships, logger)
	processUC := usecase.NewProcessSubmissionUseCase(
		subs, docs, storage, extractor.Default(), chunker, embedder, vectorDB, cfg.ChunkWorkers, logger,
	)
	statusUC := usecase.NewTrackUseCase(subs)
	deleteUC := usecase.NewDeleteUseCase(docs, vectorDB, searchUC, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue: queue,

		IngestUC:  ingestUC,
		ProcessUC: processUC,
		StatusUC:  statusUC,
		SearchUC:  searchUC,
		DeleteUC:  deleteUC,

		closeFn: func() {
			queue.Close()
			if relationships != nil {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = relationships.Close(closeCtx)
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
