package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/config"
	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
	"github.com/kirillkom/bidmatch/internal/core/prompts"
	"github.com/kirillkom/bidmatch/internal/core/usecase"
	"github.com/kirillkom/bidmatch/internal/infrastructure/cache/embcache"
	"github.com/kirillkom/bidmatch/internal/infrastructure/chunking"
	"github.com/kirillkom/bidmatch/internal/infrastructure/extractor"
	"github.com/kirillkom/bidmatch/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/bidmatch/internal/infrastructure/llm/openai"
	"github.com/kirillkom/bidmatch/internal/infrastructure/queue/inproc"
	"github.com/kirillkom/bidmatch/internal/infrastructure/queue/nats"
	"github.com/kirillkom/bidmatch/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/bidmatch/internal/infrastructure/resilience"
	"github.com/kirillkom/bidmatch/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/bidmatch/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/bidmatch/internal/observability/metrics"
)

const embeddingCacheTTL = 7 * 24 * time.Hour

// Options select the transport and metrics sink for one process.
type Options struct {
	// Service labels metrics and logs.
	Service string
	// InProcess replaces NATS with an in-memory bus. Workers must then run
	// in the same process.
	InProcess bool
	// Registerer receives pipeline and resilience metrics. Nil skips
	// registration.
	Registerer prometheus.Registerer
}

type bus interface {
	ports.MessageQueue
	ports.AnalysisQueue
	ports.ProgressBus
}

type llmProvider interface {
	ports.Embedder
	ports.Completer
}

type App struct {
	Config config.Config
	Logger *zap.Logger

	Documents  ports.DocumentRepository
	Candidates ports.CandidateDirectory

	Ingest    *usecase.IngestDocumentUseCase
	Processor ports.DocumentProcessor
	Search    *usecase.Retriever
	Metadata  *usecase.MetadataExtractor
	Analysis  *usecase.AnalysisOrchestrator
	Matching  *usecase.TeamMatcher
	Drafts    *usecase.DraftGenerator
	Workflow  ports.AnnouncementProcessor

	Queue         ports.MessageQueue
	AnalysisQueue ports.AnalysisQueue
	Pipeline      *metrics.PipelineMetrics

	service string
	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Service == "" {
		opts.Service = "bidmatch"
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closers := []func(){func() { _ = db.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, error) {
		closeAll()
		return nil, err
	}

	if err := postgres.EnsureSchema(ctx, db, cfg.EmbeddingDimensions); err != nil {
		return fail(fmt.Errorf("ensure schema: %w", err))
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fail(fmt.Errorf("init object storage: %w", err))
	}

	pipeline := metrics.NewPipelineMetrics(opts.Registerer, opts.Service)
	breakers := metrics.NewResilienceMetrics(opts.Registerer, opts.Service)

	queue, closeQueue, err := newBus(cfg, opts, breakers, logger)
	if err != nil {
		return fail(fmt.Errorf("init message queue: %w", err))
	}
	closers = append(closers, closeQueue)

	provider, err := newLLMProvider(cfg, breakers, logger)
	if err != nil {
		return fail(err)
	}
	embedder, closeCache, err := withEmbeddingCache(ctx, cfg, provider, pipeline, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeCache)

	catalog, err := prompts.Default()
	if err != nil {
		return fail(fmt.Errorf("load prompt catalog: %w", err))
	}

	docs := postgres.NewDocumentRepository(db)
	metaStore := postgres.NewMetadataRepository(db)
	candidates := postgres.NewCandidateRepository(db)
	matchStore := postgres.NewMatchRepository(db)
	chunks := newChunkStore(cfg, db)

	gateway := usecase.NewEmbeddingGateway(embedder, cfg.EmbeddingDimensions)
	ingest := usecase.NewIngestDocumentUseCase(docs, storage, queue)
	processor := usecase.NewProcessDocumentUseCase(
		docs,
		extractor.New(storage),
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		gateway,
		chunks,
	)
	retriever := usecase.NewRetriever(chunks, gateway, retrievalConfig(cfg))
	metadata := usecase.NewMetadataExtractor(chunks, metaStore, provider, catalog, usecase.MetadataConfig{
		MaxChunks: cfg.MetadataMaxChunks,
		MaxChars:  cfg.MetadataMaxChars,
	}, logger.Named("metadata"))
	metadata.SetFailureRecorder(pipeline)
	analysis := usecase.NewAnalysisOrchestrator(usecase.AnalysisDeps{
		Documents: docs,
		Jobs:      postgres.NewAnalysisJobRepository(db),
		Chunks:    chunks,
		Metadata:  metaStore,
		Search:    retriever,
		LLM:       provider,
		Queue:     queue,
		Bus:       queue,
		Prompts:   catalog,
	}, usecase.AnalysisConfig{
		Timeout: time.Duration(cfg.AnalysisTimeoutSeconds) * time.Second,
	}, logger.Named("analysis"))
	analysis.SetFailureRecorder(pipeline)
	matching := usecase.NewTeamMatcher(docs, metaStore, candidates, matchStore, matchingConfig(cfg), logger.Named("matching"))
	drafts := usecase.NewDraftGenerator(usecase.DraftDeps{
		Chunks:     chunks,
		Metadata:   metaStore,
		Candidates: candidates,
		Matches:    matchStore,
		Drafts:     postgres.NewDraftRepository(db),
		LLM:        provider,
		Prompts:    catalog,
	}, logger.Named("estimate"))
	workflow := usecase.NewWorkflowCoordinator(usecase.WorkflowDeps{
		Registrar: ingest,
		Processor: processor,
		Documents: docs,
		Metadata:  metadata,
		Analysis:  analysis,
		Matching:  matching,
		Drafts:    drafts,
		Observer:  pipeline,
	}, usecase.WorkflowConfig{
		EstimateTopN:  cfg.EstimateTopCandidates,
		FailurePolicy: usecase.DraftFailurePolicy(cfg.EstimateFailurePolicy),
	}, logger.Named("workflow"))

	return &App{
		Config: cfg,
		Logger: logger,

		Documents:  docs,
		Candidates: candidates,

		Ingest:    ingest,
		Processor: processor,
		Search:    retriever,
		Metadata:  metadata,
		Analysis:  analysis,
		Matching:  matching,
		Drafts:    drafts,
		Workflow:  &recordedWorkflow{inner: workflow, metrics: pipeline},

		Queue:         queue,
		AnalysisQueue: queue,
		Pipeline:      pipeline,

		service: opts.Service,
		closeFn: closeAll,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newBus(cfg config.Config, opts Options, obs resilience.Observer, logger *zap.Logger) (bus, func(), error) {
	if opts.InProcess {
		b := inproc.New(logger.Named("bus"))
		return b, b.Close, nil
	}
	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger.Named("nats"))
	executor.SetObserver(obs)
	q, err := nats.NewWithOptions(cfg.NATSURL, nats.Subjects{
		Ingest:         cfg.NATSSubject,
		Analysis:       cfg.NATSAnalysisSubj,
		ProgressPrefix: cfg.NATSProgressPrefix,
	}, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger.Named("nats"),
	})
	if err != nil {
		return nil, nil, err
	}
	return q, q.Close, nil
}

func newLLMProvider(cfg config.Config, obs resilience.Observer, logger *zap.Logger) (llmProvider, error) {
	policy := resilience.ProviderConfig(cfg.LLMRetryMaxAttempts, cfg.LLMBreakerEnabled)
	executor := resilience.NewExecutor(policy, logger.Named("llm"))
	executor.SetObserver(obs)

	switch cfg.LLMProvider {
	case "openai":
		return openai.New(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			ChatModel:  cfg.OpenAIChatModel,
			EmbedModel: cfg.OpenAIEmbedModel,
			Dimensions: cfg.EmbeddingDimensions,
		}, executor, logger.Named("openai")), nil
	case "ollama":
		return ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func withEmbeddingCache(
	ctx context.Context,
	cfg config.Config,
	provider ports.Embedder,
	pipeline *metrics.PipelineMetrics,
	logger *zap.Logger,
) (ports.Embedder, func(), error) {
	if cfg.RedisURL == "" {
		return provider, func() {}, nil
	}
	client, err := embcache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect embedding cache: %w", err)
	}
	cached := embcache.New(
		provider,
		embcache.NewRedisStore(client, embeddingCacheTTL),
		embeddingNamespace(cfg),
		pipeline.EmbeddingCacheTotal(),
		logger.Named("embcache"),
	)
	return cached, func() { _ = client.Close() }, nil
}

// embeddingNamespace keeps vectors of different models and widths apart.
func embeddingNamespace(cfg config.Config) string {
	model := cfg.OpenAIEmbedModel
	if cfg.LLMProvider == "ollama" {
		model = cfg.OllamaEmbedModel
	}
	return fmt.Sprintf("%s:%s:%d", cfg.LLMProvider, model, cfg.EmbeddingDimensions)
}

func newChunkStore(cfg config.Config, db *sql.DB) ports.ChunkStore {
	if cfg.VectorBackend == "qdrant" {
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	}
	return postgres.NewChunkRepository(db)
}

func retrievalConfig(cfg config.Config) usecase.RetrievalConfig {
	out := usecase.DefaultRetrievalConfig()
	out.TopK = cfg.RAGTopK
	out.Threshold = cfg.RAGThreshold
	out.MMRLambda = cfg.RAGMMRLambda
	out.MMRMinFetchK = cfg.RAGMMRFetchK
	out.FusionWeights = domain.FusionWeights{Vector: cfg.RAGVectorWeight, Keyword: cfg.RAGKeywordWeight}
	out.FusionStrategy = domain.FusionStrategy(cfg.RAGFusion)
	return out
}

func matchingConfig(cfg config.Config) usecase.MatchingConfig {
	return usecase.MatchingConfig{
		TopN:     cfg.MatchTopN,
		MinScore: cfg.MatchMinScore,
		Weights: domain.MatchWeights{
			Skill:      cfg.MatchWeightSkill,
			Experience: cfg.MatchWeightExperience,
			Location:   cfg.MatchWeightLocation,
			Rating:     cfg.MatchWeightRating,
		},
	}
}

// recordedWorkflow counts finished workflow runs by outcome.
type recordedWorkflow struct {
	inner   ports.AnnouncementProcessor
	metrics *metrics.PipelineMetrics
}

func (w *recordedWorkflow) ProcessAnnouncement(
	ctx context.Context,
	upload domain.Upload,
	onProgress func(domain.ProgressUpdate),
) (*domain.WorkflowResult, error) {
	result, err := w.inner.ProcessAnnouncement(ctx, upload, onProgress)
	w.metrics.RecordWorkflowRun(err)
	return result, err
}
