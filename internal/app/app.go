// Package app wires the configured components into one App. The server
// and the CLI both build their dependencies here.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/abaquiz/backend/internal/auth"
	"github.com/abaquiz/backend/internal/config"
	"github.com/abaquiz/backend/internal/database"
	"github.com/abaquiz/backend/internal/dedup"
	"github.com/abaquiz/backend/internal/embeddings"
	"github.com/abaquiz/backend/internal/generator"
	"github.com/abaquiz/backend/internal/llm"
	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/models"
	"github.com/abaquiz/backend/internal/pool"
	"github.com/abaquiz/backend/internal/questions"
	"github.com/abaquiz/backend/internal/vectorstore"
)

type App struct {
	Config      *config.Config
	Logger      *logging.Logger
	DB          *sql.DB
	Store       *questions.Store
	Questions   *questions.Service
	LLM         *llm.Client
	Embeddings  *embeddings.Service
	Dedup       *dedup.Service
	Generator   *generator.Generator
	Pool        *pool.Manager
	Seeder      *pool.Seeder
	VectorStore *vectorstore.Manager
	Auth        *auth.Handler
}

// New opens the database, runs migrations and builds every component. The
// caller must Close the App.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	weights, err := cfg.Weights()
	if err != nil {
		return nil, err
	}
	mcRatio, err := cfg.MultipleChoiceRatio()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := questions.NewStore(db)

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		db.Close()
		return nil, err
	}
	llmClient := llm.NewClient(provider,
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithRequestsPerMinute(cfg.LLM.RequestsPerMinute),
		llm.WithLogger(logger.Named("llm")),
	)

	var embedder embeddings.Embedder = embeddings.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model)
	if cfg.LLM.Mock {
		embedder = embeddings.HashEmbedder{}
	}
	embedSvc := embeddings.NewService(embedder,
		embeddings.WithMaxConcurrent(cfg.Embedding.MaxConcurrent),
		embeddings.WithCachePrefix(cfg.Embedding.CachePrefix),
		embeddings.WithLogger(logger.Named("embeddings")),
	)
	dd := dedup.NewService(embedSvc, cfg.Pool.DedupThreshold, logger.Named("dedup"))

	model := cfg.LLM.Model
	if cfg.LLM.Mock {
		model = "mock"
	}
	gen := generator.New(llmClient, generator.NewContentLoader(cfg.Content.Dir), generator.Config{
		Model:               model,
		MaxOutputTokens:     cfg.LLM.MaxOutputTokens,
		MultipleChoiceRatio: mcRatio,
	}, generator.WithLogger(logger.Named("generator")))

	poolLogger := logger.Named("pool")
	manager := pool.NewManager(store, gen, dd, PoolConfig(cfg, weights), poolLogger)

	vsAPI := vectorstore.NewClient(cfg.Embedding.APIKey, cfg.Embedding.BaseURL)

	return &App{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Store:       store,
		Questions:   questions.NewService(store, logger.Named("questions")),
		LLM:         llmClient,
		Embeddings:  embedSvc,
		Dedup:       dd,
		Generator:   gen,
		Pool:        manager,
		Seeder:      pool.NewSeeder(manager, cfg.Seed.StateFile, poolLogger),
		VectorStore: vectorstore.NewManager(vsAPI, cfg.VectorStore.Dir, cfg.VectorStore.StateFile, logger.Named("vectorstore")),
		Auth:        auth.NewHandler(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.AdminUsers),
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// PoolConfig translates the pool, embedding and pricing sections into the
// pool manager's settings.
func PoolConfig(cfg *config.Config, weights map[models.ContentArea]float64) pool.Config {
	gen := cfg.Pricing[cfg.LLM.Model]
	emb := cfg.Pricing[cfg.Embedding.Model]
	return pool.Config{
		Threshold:               cfg.Pool.Threshold,
		BatchSize:               cfg.Pool.BatchSize,
		ActiveDays:              cfg.Pool.ActiveDays,
		DedupCheckLimit:         cfg.Pool.DedupLimit(),
		DedupThreshold:          cfg.Pool.DedupThreshold,
		GenerationBatchSize:     cfg.Pool.GenerationBatchSize,
		MaxConcurrentGeneration: cfg.Pool.MaxConcurrentGeneration,
		Weights:                 weights,
		Pricing: pool.Pricing{
			GenerationInputPerMillion:  gen.InputPerMillion,
			GenerationOutputPerMillion: gen.OutputPerMillion,
			EmbeddingPerMillion:        emb.InputPerMillion,
		},
	}
}

// ValidateContent logs every area without study content and returns them.
// Generation for those areas is skipped until the files appear.
func (a *App) ValidateContent(ctx context.Context) []models.ContentArea {
	missing := a.Generator.MissingContent()
	for _, area := range missing {
		a.Logger.Warn(ctx, "study content missing",
			zap.String("area", string(area)),
			zap.Strings("files", generator.AreaFiles[area]),
			zap.String("dir", a.Config.Content.Dir))
	}
	if len(missing) == 0 {
		a.Logger.Info(ctx, "study content present for all areas")
	}
	return missing
}

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	if cfg.Mock {
		return generator.NewMockProvider(), nil
	}
	switch cfg.Provider {
	case "openai":
		return llm.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.MaxRetries), nil
	case "anthropic":
		return llm.NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.MaxRetries), nil
	case "command":
		return llm.NewCommandProvider(cfg.Command, cfg.CommandArgs...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
