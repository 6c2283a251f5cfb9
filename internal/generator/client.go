// Package generator produces BCBA exam questions through the LLM client.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/abaquiz/backend/internal/llm"
	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/models"
)

// Completer is the part of llm.Client the generator needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (json.RawMessage, error)
}

type Config struct {
	Model               string
	MaxOutputTokens     int
	MultipleChoiceRatio float64
}

// Stats counts generator outcomes since process start.
type Stats struct {
	Calls     int64 `json:"calls"`
	Generated int64 `json:"generated"`
	Errors    int64 `json:"errors"`
}

type Generator struct {
	llm     Completer
	content *ContentLoader
	cfg     Config
	logger  *logging.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	calls     atomic.Int64
	generated atomic.Int64
	errors    atomic.Int64
}

type Option func(*Generator)

// WithRand fixes the RNG used for type and category draws.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rng = r }
}

func WithLogger(l *logging.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

func New(c Completer, content *ContentLoader, cfg Config, opts ...Option) *Generator {
	if cfg.MultipleChoiceRatio <= 0 {
		cfg.MultipleChoiceRatio = 0.8
	}
	g := &Generator{
		llm:     c,
		content: content,
		cfg:     cfg,
		logger:  logging.NewNop(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) ModelName() string {
	return g.cfg.Model
}

func (g *Generator) Stats() Stats {
	return Stats{
		Calls:     g.calls.Load(),
		Generated: g.generated.Load(),
		Errors:    g.errors.Load(),
	}
}

// CheckContent reports ErrContentMissing when area has no study content.
func (g *Generator) CheckContent(area models.ContentArea) error {
	_, err := g.content.Load(area)
	return err
}

// MissingContent returns, in canonical order, the areas whose study
// content cannot be loaded.
func (g *Generator) MissingContent() []models.ContentArea {
	var missing []models.ContentArea
	for _, area := range models.AllContentAreas {
		if err := g.CheckContent(area); err != nil {
			missing = append(missing, area)
		}
	}
	return missing
}

// GenerateOne produces a single question. A nil type or category is drawn
// at random. It returns (nil, nil) when the API call fails or the record
// is invalid; only ErrContentMissing, ErrPersistentRateLimit and context
// errors are returned.
func (g *Generator) GenerateOne(ctx context.Context, area models.ContentArea, qType *models.QuestionType, category *models.Category) (*models.Question, error) {
	content, err := g.content.Load(area)
	if err != nil {
		return nil, err
	}

	t := g.pickType()
	if qType != nil {
		t = *qType
	}
	c := g.pickCategory()
	if category != nil {
		c = *category
	}

	raw, err := g.complete(ctx, llm.Request{
		Model:           g.cfg.Model,
		DeveloperPrompt: DeveloperPrompt(),
		UserPrompt:      BuildSingleUserPrompt(area, t, c, content),
		Schema:          QuestionSchema,
		SchemaName:      QuestionSchemaName,
		MaxOutputTokens: g.cfg.MaxOutputTokens,
	})
	if err != nil || raw == nil {
		return nil, err
	}

	gq, err := ParseQuestion(raw)
	if err != nil {
		g.errors.Add(1)
		g.logger.Error(ctx, "question response unusable", zap.Error(err))
		return nil, nil
	}
	if gq.Category == "" {
		gq.Category = string(c)
	}
	q := g.finish(ctx, gq, area, 0)
	if q == nil {
		return nil, nil
	}
	g.generated.Add(1)
	return q, nil
}

// GenerateBatch asks for n questions in one call and returns at most n
// valid ones. Failures yield an empty slice; only ErrPersistentRateLimit
// and context errors are returned.
func (g *Generator) GenerateBatch(ctx context.Context, area models.ContentArea, n int) ([]models.Question, error) {
	if n <= 0 {
		return nil, nil
	}
	content, err := g.content.Load(area)
	if err != nil {
		g.logger.Error(ctx, "cannot generate batch", zap.Error(err))
		return nil, nil
	}

	raw, err := g.complete(ctx, llm.Request{
		Model:           g.cfg.Model,
		DeveloperPrompt: DeveloperPrompt(),
		UserPrompt:      BuildBatchUserPrompt(area, n, g.cfg.MultipleChoiceRatio, content),
		Schema:          BatchSchema,
		SchemaName:      BatchSchemaName,
		MaxOutputTokens: g.cfg.MaxOutputTokens,
	})
	if err != nil || raw == nil {
		return nil, err
	}

	batch, err := ParseBatch(raw)
	if err != nil {
		g.errors.Add(1)
		g.logger.Error(ctx, "batch response unusable", zap.Error(err))
		return nil, nil
	}

	out := make([]models.Question, 0, n)
	for i := range batch.Questions {
		if len(out) == n {
			break
		}
		if q := g.finish(ctx, &batch.Questions[i], area, i); q != nil {
			out = append(out, *q)
		}
	}
	g.generated.Add(int64(len(out)))

	g.logger.Info(ctx, "generated batch",
		zap.Int("requested", n),
		zap.Int("returned", len(batch.Questions)),
		zap.Int("valid", len(out)))
	return out, nil
}

// complete returns (nil, nil) for absorbed API errors.
func (g *Generator) complete(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	g.calls.Add(1)
	raw, err := g.llm.Complete(ctx, req)
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, llm.ErrPersistentRateLimit) {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	g.errors.Add(1)
	g.logger.Error(ctx, "generation call failed", zap.Error(err))
	return nil, nil
}

func (g *Generator) finish(ctx context.Context, gq *GeneratedQuestion, area models.ContentArea, index int) *models.Question {
	q, err := gq.ToQuestion(area, g.cfg.Model)
	if err != nil {
		g.errors.Add(1)
		g.logger.Warn(ctx, "dropping invalid generated question",
			zap.Int("index", index), zap.Error(err))
		return nil
	}
	for _, w := range Lint(q) {
		g.logger.Warn(ctx, "question quality warning", zap.Int("index", index), zap.String("warning", w))
	}
	return q
}

func (g *Generator) pickType() models.QuestionType {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	if g.rng.Float64() < g.cfg.MultipleChoiceRatio {
		return models.TypeMultipleChoice
	}
	return models.TypeTrueFalse
}

func (g *Generator) pickCategory() models.Category {
	g.rngMu.Lock()
	r := g.rng.Float64()
	g.rngMu.Unlock()

	var cumulative float64
	for _, cw := range models.CategoryWeights {
		cumulative += cw.Weight
		if r < cumulative {
			return cw.Category
		}
	}
	return models.CategoryScenario
}
