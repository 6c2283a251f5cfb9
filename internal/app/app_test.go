package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/abaquiz/backend/internal/config"
	"github.com/abaquiz/backend/internal/generator"
	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/models"
	"github.com/abaquiz/backend/internal/pool"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	content := filepath.Join(root, "content")
	seen := map[string]bool{}
	for _, files := range generator.AreaFiles {
		for _, rel := range files {
			if seen[rel] {
				continue
			}
			seen[rel] = true
			path := filepath.Join(content, rel)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, []byte("# Study material\n\nReinforcement increases behavior."), 0o644))
		}
	}

	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(root, "abaquiz.db")
	cfg.LLM.Mock = true
	cfg.Content.Dir = content
	cfg.Seed.StateFile = filepath.Join(root, "seed.json")
	cfg.VectorStore.StateFile = filepath.Join(root, "vs.json")
	cfg.Auth.JWTSecret = "test-secret"
	return cfg
}

func TestNewWiresMockPipeline(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.Equal(t, "mock", a.LLM.ProviderName())
	assert.Equal(t, "mock", a.Generator.ModelName())

	ctx := context.Background()
	res, err := a.Seeder.Run(ctx, pool.SeedOptions{Count: 18, SkipDedup: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, pool.SeedComplete, res.Status)
	assert.Equal(t, 18, res.Generated)
	assert.Equal(t, 18, res.FinalPoolSize)
	assert.NoFileExists(t, cfg.Seed.StateFile)

	list, err := a.Questions.List(ctx, nil, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 18, list.Total)
	assert.Len(t, list.Questions, 5)
	for _, q := range list.Questions {
		assert.Equal(t, "mock", q.Model)
	}

	stats, err := a.Pool.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 18, stats.Health.TotalQuestions)
}

func TestPoolConfigFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.Threshold = 35
	cfg.Pricing[cfg.LLM.Model] = config.ModelPricing{InputPerMillion: 1, OutputPerMillion: 2}
	weights, err := cfg.Weights()
	require.NoError(t, err)

	pc := PoolConfig(cfg, weights)
	assert.Equal(t, 35, pc.Threshold)
	assert.Equal(t, config.DefaultBatchSize, pc.BatchSize)
	assert.Equal(t, config.DefaultDedupCheckLimit, pc.DedupCheckLimit)
	assert.InDelta(t, 0.85, pc.DedupThreshold, 1e-9)
	assert.Equal(t, 1.0, pc.Pricing.GenerationInputPerMillion)
	assert.Equal(t, 2.0, pc.Pricing.GenerationOutputPerMillion)
	assert.Equal(t, 0.13, pc.Pricing.EmbeddingPerMillion)
	assert.InDelta(t, models.DefaultBCBAWeights[models.AreaEthics], pc.Weights[models.AreaEthics], 1e-9)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Mock = false
	cfg.LLM.Provider = "carrier-pigeon"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestValidateContentReportsMissingAreas(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.Remove(filepath.Join(cfg.Content.Dir, "supervision", "curriculum.md")))
	require.NoError(t, os.Remove(filepath.Join(cfg.Content.Dir, "ethics", "ethics_code.md")))
	require.NoError(t, os.Remove(filepath.Join(cfg.Content.Dir, "core", "handbook.md")))

	tl := logging.NewTestLogger()
	a, err := New(cfg, tl.Logger)
	require.NoError(t, err)
	defer a.Close()

	missing := a.ValidateContent(context.Background())
	assert.Equal(t, []models.ContentArea{models.AreaEthics, models.AreaSupervision}, missing)
	tl.AssertLogged(t, zapcore.WarnLevel, "study content missing")
}

func TestValidateContentAllPresent(t *testing.T) {
	tl := logging.NewTestLogger()
	a, err := New(testConfig(t), tl.Logger)
	require.NoError(t, err)
	defer a.Close()

	assert.Empty(t, a.ValidateContent(context.Background()))
	tl.AssertNotLogged(t, zapcore.WarnLevel, "study content missing")
}
