package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/abaquiz/backend/internal/llm"
	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/models"
)

func newTestManager(store ContentStore, gen QuestionGenerator, dd Deduper, tweak func(*Config)) *Manager {
	cfg := DefaultConfig()
	cfg.Pricing = Pricing{GenerationInputPerMillion: 2, GenerationOutputPerMillion: 8, EmbeddingPerMillion: 0.02}
	if tweak != nil {
		tweak(&cfg)
	}
	return NewManager(store, gen, dd, cfg, nil)
}

func TestReplenishEmptyPool(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{}
	dd := &fakeDeduper{}
	m := newTestManager(store, gen, dd, nil)

	p := NewProgress(false)
	result, err := m.Replenish(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, result.Needed)
	assert.Equal(t, 0, result.TotalQuestions)
	assert.Equal(t, 50, result.Generated)
	assert.Empty(t, result.Errors)
	assert.False(t, result.Cancelled)
	assert.Len(t, store.inserted, 50)

	for area, want := range countsOf(Distribution(50, models.DefaultBCBAWeights)) {
		assert.Equal(t, want, result.ByArea[area], area)
		assert.Len(t, store.insertedFor(area), want, area)
	}

	snap := p.Snapshot()
	assert.True(t, snap.Complete)
	assert.Equal(t, StateDone, snap.State)
	assert.Equal(t, 50, snap.Total)
	assert.Equal(t, 50, snap.Generated)
	assert.Positive(t, snap.Cost)
	for _, a := range snap.Areas {
		assert.Equal(t, AreaComplete, a.Status, a.Name)
	}
}

func TestReplenishAboveThresholdIsNoOp(t *testing.T) {
	store := newFakeStore()
	store.existing[models.AreaEthics] = 500
	store.activeUsers = 10
	store.avgUnseen = 42
	gen := &fakeGenerator{}
	m := newTestManager(store, gen, &fakeDeduper{}, nil)

	p := NewProgress(false)
	result, err := m.Replenish(context.Background(), p)
	require.NoError(t, err)

	assert.False(t, result.Needed)
	assert.Zero(t, result.Generated)
	assert.Equal(t, 500, result.TotalQuestions)
	assert.Equal(t, 10, result.ActiveUsers)
	assert.InDelta(t, 42.0, result.AvgUnseen, 1e-9)
	assert.Zero(t, gen.calls.Load())
	assert.Empty(t, store.inserted)
	assert.Equal(t, StateNoOp, p.State())
	assert.True(t, p.Complete())
}

func TestReplenishBelowThresholdWithUsers(t *testing.T) {
	store := newFakeStore()
	store.existing[models.AreaEthics] = 100
	store.activeUsers = 4
	store.avgUnseen = 19.5
	m := newTestManager(store, &fakeGenerator{}, &fakeDeduper{}, func(c *Config) { c.BatchSize = 20 })

	result, err := m.Replenish(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Needed)
	assert.Equal(t, 20, result.Generated)
}

func TestHealthDecisionIsStableOnUnchangedStore(t *testing.T) {
	tests := []struct {
		name      string
		existing  int
		users     int
		avgUnseen float64
		needed    bool
	}{
		{"empty pool", 0, 0, 0, true},
		{"below threshold", 100, 4, 19.5, true},
		{"at threshold", 100, 4, 20, false},
		{"well stocked", 500, 10, 42, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.existing[models.AreaEthics] = tt.existing
			store.activeUsers = tt.users
			store.avgUnseen = tt.avgUnseen
			m := newTestManager(store, &fakeGenerator{}, &fakeDeduper{}, func(c *Config) { c.Threshold = 20 })

			first, err := m.CheckHealth(context.Background())
			require.NoError(t, err)
			second, err := m.CheckHealth(context.Background())
			require.NoError(t, err)

			assert.Equal(t, first, second)
			assert.Equal(t, tt.needed, m.NeedsReplenishment(first))
			assert.Equal(t, m.NeedsReplenishment(first), m.NeedsReplenishment(second))
		})
	}
}

func TestReplenishTwiceOnHealthyPoolAgrees(t *testing.T) {
	store := newFakeStore()
	store.existing[models.AreaEthics] = 500
	store.activeUsers = 10
	store.avgUnseen = 42
	m := newTestManager(store, &fakeGenerator{}, &fakeDeduper{}, nil)

	first, err := m.Replenish(context.Background(), nil)
	require.NoError(t, err)
	second, err := m.Replenish(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, first.Needed)
	assert.Equal(t, first.Needed, second.Needed)
	assert.Equal(t, first.TotalQuestions, second.TotalQuestions)
	assert.Empty(t, store.inserted)
}

func TestFillAreaSkipsDuplicatesInOrder(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 3; i++ {
		store.reference[models.AreaEthics] = append(store.reference[models.AreaEthics],
			candidate(models.AreaEthics, fmt.Sprintf("existing %d", i)))
	}
	gen := &fakeGenerator{}
	dd := &fakeDeduper{isDup: func(call int) bool { return call%2 == 1 }}
	m := newTestManager(store, gen, dd, func(c *Config) { c.GenerationBatchSize = 10 })

	p := NewProgress(false)
	p.Plan(SingleArea(models.AreaEthics, 5))
	out := m.FillArea(context.Background(), models.AreaEthics, 5, false, p)

	require.NoError(t, out.Err)
	assert.Equal(t, 5, out.Persisted)
	assert.Equal(t, 4, out.Duplicates)
	assert.EqualValues(t, 2, gen.calls.Load(), "ceil(2*5/10)+1 calls")

	require.Len(t, dd.seen, 9)
	want := []models.Question{dd.seen[0], dd.seen[2], dd.seen[4], dd.seen[6], dd.seen[8]}
	assert.Equal(t, stems(want), stems(store.inserted))

	// reference set first, then every accepted candidate
	assert.Equal(t, 3, dd.corpusLen[0])
	assert.Equal(t, 4, dd.corpusLen[1])
	assert.Equal(t, 4, dd.corpusLen[2])
	assert.Equal(t, 5, dd.corpusLen[3])
	assert.Equal(t, 7, dd.corpusLen[8])
	assert.Equal(t, []int{30}, store.limits)

	snap := p.Snapshot()
	require.Len(t, snap.Areas, 1)
	assert.Equal(t, AreaComplete, snap.Areas[0].Status)
	assert.Equal(t, 5, snap.Areas[0].Done)
	assert.Equal(t, 4, snap.Areas[0].Duplicates)
}

func TestFillAreaDedupCheckLimitZero(t *testing.T) {
	store := newFakeStore()
	store.reference[models.AreaEthics] = []models.Question{candidate(models.AreaEthics, "old")}
	dd := &fakeDeduper{}
	m := newTestManager(store, &fakeGenerator{}, dd, func(c *Config) { c.DedupCheckLimit = 0 })

	out := m.FillArea(context.Background(), models.AreaEthics, 3, false, NewProgress(false))
	require.NoError(t, out.Err)
	assert.Equal(t, 3, out.Persisted)
	require.NotEmpty(t, dd.corpusLen)
	assert.Equal(t, 0, dd.corpusLen[0])
}

func TestPersistentRateLimitIsolatedToArea(t *testing.T) {
	store := newFakeStore()
	limited := fmt.Errorf("generate batch: %w", llm.ErrPersistentRateLimit)
	gen := &fakeGenerator{failFor: map[models.ContentArea]error{models.AreaEthics: limited}}
	m := newTestManager(store, gen, &fakeDeduper{}, nil)

	p := NewProgress(false)
	result, err := m.Replenish(context.Background(), p)
	require.NoError(t, err)

	ethics := countsOf(Distribution(50, models.DefaultBCBAWeights))[models.AreaEthics]
	assert.Equal(t, 50-ethics, result.Generated)
	assert.Zero(t, result.ByArea[models.AreaEthics])
	require.Contains(t, result.Errors, models.AreaEthics)
	assert.Contains(t, result.Errors[models.AreaEthics], "extended backoff")
	assert.Len(t, result.Errors, 1)
	assert.Len(t, store.inserted, 50-ethics)

	for _, a := range p.Snapshot().Areas {
		if a.Name == models.AreaEthics {
			assert.Equal(t, AreaError, a.Status)
		} else {
			assert.Equal(t, AreaComplete, a.Status, a.Name)
		}
	}
}

func TestRunPlanReturnsRateLimitError(t *testing.T) {
	gen := &fakeGenerator{failFor: map[models.ContentArea]error{
		models.AreaMeasurement: llm.ErrPersistentRateLimit,
	}}
	m := newTestManager(newFakeStore(), gen, &fakeDeduper{}, nil)

	plan := []models.AreaCount{
		{Area: models.AreaEthics, Count: 5},
		{Area: models.AreaMeasurement, Count: 5},
	}
	outcomes := m.RunPlan(context.Background(), plan, true, nil)
	require.Len(t, outcomes, 2)
	assert.Equal(t, models.AreaEthics, outcomes[0].Area)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, 5, outcomes[0].Persisted)
	assert.ErrorIs(t, outcomes[1].Err, llm.ErrPersistentRateLimit)
	assert.Zero(t, outcomes[1].Persisted)
}

func TestMissingContentAbortsOnlyThatArea(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{missing: map[models.ContentArea]bool{models.AreaSupervision: true}}
	m := newTestManager(store, gen, &fakeDeduper{}, nil)

	result, err := m.Replenish(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, result.Errors, models.AreaSupervision)
	assert.Empty(t, store.insertedFor(models.AreaSupervision))
	assert.NotEmpty(t, store.insertedFor(models.AreaEthics))
}

func TestPersistFailureDropsCandidate(t *testing.T) {
	store := newFakeStore()
	store.insertErr = func(q *models.Question) error {
		if strings.HasSuffix(q.Question, "#2") {
			return errors.New("constraint failed")
		}
		return nil
	}
	m := newTestManager(store, &fakeGenerator{}, &fakeDeduper{}, func(c *Config) { c.GenerationBatchSize = 4 })

	p := NewProgress(true)
	p.Plan(SingleArea(models.AreaEthics, 4))
	out := m.FillArea(context.Background(), models.AreaEthics, 4, true, p)

	require.NoError(t, out.Err)
	assert.Equal(t, 3, out.Persisted)
	assert.Equal(t, 1, out.Errors)
	assert.Equal(t, 1, p.Snapshot().Errors)
}

func TestGenerateWithoutDedupTrimsLastBatch(t *testing.T) {
	gen := &fakeGenerator{}
	dd := &fakeDeduper{}
	m := newTestManager(newFakeStore(), gen, dd, nil)

	qs, err := m.GenerateWithoutDedup(context.Background(), models.AreaEthics, 12, nil)
	require.NoError(t, err)
	assert.Len(t, qs, 12)
	assert.EqualValues(t, 3, gen.calls.Load())
	assert.Empty(t, dd.seen)
}

func TestGenerateWithoutDedupOversizedBatchesAreCut(t *testing.T) {
	gen := &fakeGenerator{perCall: 8}
	m := newTestManager(newFakeStore(), gen, &fakeDeduper{}, nil)

	qs, err := m.GenerateWithoutDedup(context.Background(), models.AreaEthics, 7, nil)
	require.NoError(t, err)
	assert.Len(t, qs, 7)
}

func TestSemaphoreOfOne(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{}
	m := newTestManager(store, gen, &fakeDeduper{}, func(c *Config) { c.MaxConcurrentGeneration = 1 })

	plan := Distribution(30, models.DefaultBCBAWeights)
	outcomes := m.RunPlan(context.Background(), plan, true, nil)

	var total int
	for _, o := range outcomes {
		assert.NoError(t, o.Err)
		total += o.Persisted
	}
	assert.Equal(t, 30, total)
	assert.EqualValues(t, 1, gen.maxInFlight.Load())
}

func TestConcurrencyBoundedBySemaphore(t *testing.T) {
	gen := &fakeGenerator{}
	m := newTestManager(newFakeStore(), gen, &fakeDeduper{}, func(c *Config) { c.MaxConcurrentGeneration = 3 })

	m.RunPlan(context.Background(), Distribution(100, models.DefaultBCBAWeights), false, nil)
	assert.LessOrEqual(t, gen.maxInFlight.Load(), int64(3))
}

func TestCancelStopsAtNextCheckAndKeepsAccepted(t *testing.T) {
	store := newFakeStore()
	p := NewProgress(false)
	p.Plan(SingleArea(models.AreaEthics, 5))
	dd := &fakeDeduper{onCheck: func(call int) {
		if call == 1 {
			p.RequestCancel()
		}
	}}
	m := newTestManager(store, &fakeGenerator{}, dd, nil)

	out := m.FillArea(context.Background(), models.AreaEthics, 5, false, p)
	require.NoError(t, out.Err)
	assert.Equal(t, 2, out.Persisted)
	assert.Len(t, store.inserted, 2)
	assert.Len(t, dd.seen, 2)

	p.Finish()
	snap := p.Snapshot()
	assert.True(t, snap.Cancelled)
	assert.Equal(t, AreaCancelled, snap.Areas[0].Status)
}

func TestCancelBeforeGenerationSkipsCalls(t *testing.T) {
	gen := &fakeGenerator{}
	p := NewProgress(true)
	p.RequestCancel()
	m := newTestManager(newFakeStore(), gen, &fakeDeduper{}, nil)

	qs, err := m.GenerateWithoutDedup(context.Background(), models.AreaEthics, 10, p)
	require.NoError(t, err)
	assert.Empty(t, qs)
	assert.Zero(t, gen.calls.Load())
}

func TestZeroCountIsNoOp(t *testing.T) {
	gen := &fakeGenerator{}
	m := newTestManager(newFakeStore(), gen, &fakeDeduper{}, nil)

	out := m.FillArea(context.Background(), models.AreaEthics, 0, false, NewProgress(false))
	assert.NoError(t, out.Err)
	assert.Zero(t, out.Persisted)
	assert.Zero(t, gen.calls.Load())
}

func TestBeginRejectsConcurrentRun(t *testing.T) {
	m := newTestManager(newFakeStore(), &fakeGenerator{}, &fakeDeduper{}, nil)
	assert.Nil(t, m.Current())

	p, err := m.Begin(false)
	require.NoError(t, err)
	assert.Same(t, p, m.Current())

	_, err = m.Begin(true)
	assert.ErrorIs(t, err, ErrRunInProgress)

	m.End(p)
	assert.True(t, p.Complete())

	p2, err := m.Begin(true)
	require.NoError(t, err)
	defer m.End(p2)
	assert.Same(t, p2, m.Current())
	assert.NotEqual(t, p.RunID(), p2.RunID())
}

func TestScheduledRunSkipsWhileLocked(t *testing.T) {
	logger := logging.NewTestLogger()
	gen := &fakeGenerator{}
	m := NewManager(newFakeStore(), gen, &fakeDeduper{}, DefaultConfig(), logger.Logger)

	p, err := m.Begin(false)
	require.NoError(t, err)
	m.runScheduled(context.Background())
	m.End(p)

	logger.AssertLogged(t, zapcore.InfoLevel, "skipping scheduled pool check")
	assert.Zero(t, gen.calls.Load())
}

func TestStartWorkerStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, &fakeGenerator{}, &fakeDeduper{}, func(c *Config) { c.BatchSize = 9 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.StartWorker(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, _ := store.TotalCount(context.Background())
		return n >= 9
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestStatsHealthLabels(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, &fakeGenerator{}, &fakeDeduper{}, nil)
	ctx := context.Background()

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.HealthEmpty, stats.Status)
	assert.True(t, stats.Needed)
	assert.Len(t, stats.Areas, 9)

	store.existing[models.AreaEthics] = 40
	store.activeUsers = 2
	store.avgUnseen = 5
	stats, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.HealthCritical, stats.Status)

	store.avgUnseen = 15
	stats, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.HealthWarning, stats.Status)

	store.avgUnseen = 25
	stats, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, stats.Status)
	assert.False(t, stats.Needed)
	assert.Equal(t, 20, stats.Threshold)

	for _, a := range stats.Areas {
		if a.Area == models.AreaEthics {
			assert.Equal(t, 40, a.Count)
			assert.InDelta(t, 0.13, a.Weight, 1e-9)
		}
	}
}
