package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/abaquiz/backend/internal/dedup"
	"github.com/abaquiz/backend/internal/llm"
	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/models"
)

var (
	// ErrPersistenceFailure wraps a rejected insert. The candidate is
	// dropped and the run continues.
	ErrPersistenceFailure = errors.New("pool: question could not be persisted")
	// ErrRunInProgress is returned by Begin while another run holds the lock.
	ErrRunInProgress = errors.New("pool: a generation run is already in progress")
)

// ContentStore is the slice of the question store the pool needs. It must
// accept concurrent inserts from different areas.
type ContentStore interface {
	InsertQuestion(ctx context.Context, q *models.Question) (int64, error)
	CountByArea(ctx context.Context) (map[models.ContentArea]int, error)
	TotalCount(ctx context.Context) (int, error)
	RecentByArea(ctx context.Context, area models.ContentArea, limit int) ([]models.Question, error)
	ActiveUserCount(ctx context.Context, days int) (int, error)
	AvgUnseenPerActiveUser(ctx context.Context, days int) (float64, error)
}

// QuestionGenerator produces candidate batches. GenerateBatch returns an
// empty slice for absorbed failures and an error only for failures the
// caller must act on, such as llm.ErrPersistentRateLimit.
type QuestionGenerator interface {
	GenerateBatch(ctx context.Context, area models.ContentArea, n int) ([]models.Question, error)
	CheckContent(area models.ContentArea) error
}

type Deduper interface {
	CheckOne(ctx context.Context, candidate *models.Question, reference []models.Question, threshold float64) dedup.Result
}

type Config struct {
	Threshold               int
	BatchSize               int
	ActiveDays              int
	DedupCheckLimit         int
	DedupThreshold          float64
	GenerationBatchSize     int
	MaxConcurrentGeneration int
	Weights                 map[models.ContentArea]float64
	Pricing                 Pricing
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	weights := make(map[models.ContentArea]float64, len(models.DefaultBCBAWeights))
	for a, w := range models.DefaultBCBAWeights {
		weights[a] = w
	}
	return Config{
		Threshold:               20,
		BatchSize:               50,
		ActiveDays:              7,
		DedupCheckLimit:         30,
		DedupThreshold:          dedup.DefaultThreshold,
		GenerationBatchSize:     5,
		MaxConcurrentGeneration: 20,
		Weights:                 weights,
	}
}

// AreaOutcome is what one area sub-task achieved.
type AreaOutcome struct {
	Area       models.ContentArea
	Target     int
	Persisted  int
	Duplicates int
	Errors     int
	Err        error
}

type Manager struct {
	store   ContentStore
	gen     QuestionGenerator
	dedup   Deduper
	cfg     Config
	logger  *logging.Logger
	metrics *Metrics
	sem     *semaphore.Weighted

	runMu sync.Mutex

	curMu   sync.RWMutex
	current *Progress
}

func NewManager(store ContentStore, gen QuestionGenerator, dd Deduper, cfg Config, logger *logging.Logger) *Manager {
	if cfg.GenerationBatchSize <= 0 {
		cfg.GenerationBatchSize = 5
	}
	if cfg.MaxConcurrentGeneration <= 0 {
		cfg.MaxConcurrentGeneration = 20
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = DefaultConfig().Weights
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:   store,
		gen:     gen,
		dedup:   dd,
		cfg:     cfg,
		logger:  logger,
		metrics: NewMetrics(),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentGeneration)),
	}
}

func (m *Manager) Config() Config {
	return m.cfg
}

// ── Run Guard ───────────────────────────────────────────

// TryLock claims the single-run guard. Only one run may be in flight.
func (m *Manager) TryLock() bool {
	return m.runMu.TryLock()
}

func (m *Manager) Unlock() {
	m.runMu.Unlock()
}

// Begin claims the run guard and publishes a fresh Progress as current.
// Every successful Begin must be paired with End.
func (m *Manager) Begin(skipDedup bool) (*Progress, error) {
	if !m.TryLock() {
		return nil, ErrRunInProgress
	}
	p := NewProgress(skipDedup)
	m.curMu.Lock()
	m.current = p
	m.curMu.Unlock()
	return p, nil
}

func (m *Manager) End(p *Progress) {
	p.Finish()
	m.Unlock()
}

// Current returns the running or most recent progress, or nil.
func (m *Manager) Current() *Progress {
	m.curMu.RLock()
	defer m.curMu.RUnlock()
	return m.current
}

// ── Health ──────────────────────────────────────────────

func (m *Manager) CheckHealth(ctx context.Context) (models.PoolHealth, error) {
	var h models.PoolHealth
	var err error

	if h.TotalQuestions, err = m.store.TotalCount(ctx); err != nil {
		return h, fmt.Errorf("pool health: %w", err)
	}
	if h.ActiveUsers, err = m.store.ActiveUserCount(ctx, m.cfg.ActiveDays); err != nil {
		return h, fmt.Errorf("pool health: %w", err)
	}
	if h.AvgUnseen, err = m.store.AvgUnseenPerActiveUser(ctx, m.cfg.ActiveDays); err != nil {
		return h, fmt.Errorf("pool health: %w", err)
	}
	m.metrics.AvgUnseen.Set(h.AvgUnseen)
	return h, nil
}

// NeedsReplenishment is true for an empty pool or when active users have
// fewer unseen questions on average than the threshold.
func (m *Manager) NeedsReplenishment(h models.PoolHealth) bool {
	return h.TotalQuestions == 0 || h.AvgUnseen < float64(m.cfg.Threshold)
}

// Stats reports pool health with a status label and the per-area counts
// next to what the exam weights call for at the current size.
func (m *Manager) Stats(ctx context.Context) (*models.PoolStatsResponse, error) {
	h, err := m.CheckHealth(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := m.store.CountByArea(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool stats: %w", err)
	}

	resp := &models.PoolStatsResponse{
		Health:    h,
		Needed:    m.NeedsReplenishment(h),
		Threshold: m.cfg.Threshold,
		CheckedAt: time.Now().UTC(),
	}
	resp.Status, resp.Message = healthLabel(h, m.cfg.Threshold)

	for _, ac := range Distribution(h.TotalQuestions, m.cfg.Weights) {
		resp.Areas = append(resp.Areas, models.AreaStats{
			Area:   ac.Area,
			Count:  counts[ac.Area],
			Weight: m.cfg.Weights[ac.Area],
			Target: ac.Count,
		})
		m.metrics.Questions.WithLabelValues(string(ac.Area)).Set(float64(counts[ac.Area]))
	}
	return resp, nil
}

func healthLabel(h models.PoolHealth, threshold int) (models.HealthStatus, string) {
	switch {
	case h.TotalQuestions == 0:
		return models.HealthEmpty, "pool is empty, run a seed"
	case h.AvgUnseen < float64(threshold)*0.5:
		return models.HealthCritical, fmt.Sprintf("avg unseen %.1f is below half the threshold of %d", h.AvgUnseen, threshold)
	case h.AvgUnseen < float64(threshold):
		return models.HealthWarning, fmt.Sprintf("avg unseen %.1f is below the threshold of %d", h.AvgUnseen, threshold)
	default:
		return models.HealthHealthy, fmt.Sprintf("avg unseen %.1f meets the threshold of %d", h.AvgUnseen, threshold)
	}
}

// ── Replenishment ───────────────────────────────────────

// Replenish runs one pool check and, when needed, generates the configured
// batch across all areas. Area failures are reported on the result; the
// only returned error is a failed health check. A nil p gets a private
// Progress. The caller is responsible for the run guard.
func (m *Manager) Replenish(ctx context.Context, p *Progress) (*models.PoolResult, error) {
	if p == nil {
		p = NewProgress(false)
	}
	defer p.Finish()
	ctx = logging.WithRunID(ctx, p.RunID())

	p.SetState(StateChecking)
	h, err := m.CheckHealth(ctx)
	if err != nil {
		m.metrics.Runs.WithLabelValues("error").Inc()
		m.logger.Error(ctx, "pool health check failed", zap.Error(err))
		return nil, err
	}

	m.logger.Info(ctx, "pool status",
		zap.Int("total_questions", h.TotalQuestions),
		zap.Int("active_users", h.ActiveUsers),
		zap.Float64("avg_unseen", h.AvgUnseen),
		zap.Int("threshold", m.cfg.Threshold))

	result := &models.PoolResult{
		AvgUnseen:      h.AvgUnseen,
		ActiveUsers:    h.ActiveUsers,
		TotalQuestions: h.TotalQuestions,
		ByArea:         make(map[models.ContentArea]int),
	}

	if !m.NeedsReplenishment(h) {
		p.SetState(StateNoOp)
		m.metrics.Runs.WithLabelValues("no_op").Inc()
		m.logger.Info(ctx, "pool sufficient, nothing to generate")
		return result, nil
	}
	result.Needed = true

	p.SetState(StatePlanning)
	plan := Distribution(m.cfg.BatchSize, m.cfg.Weights)
	p.Plan(plan)
	m.logger.Info(ctx, "pool needs replenishment", zap.Any("distribution", plan))

	outcomes := m.RunPlan(ctx, plan, false, p)
	for _, o := range outcomes {
		result.ByArea[o.Area] = o.Persisted
		result.Generated += o.Persisted
		if o.Err != nil {
			if result.Errors == nil {
				result.Errors = make(map[models.ContentArea]string)
			}
			result.Errors[o.Area] = o.Err.Error()
		}
	}
	result.Cancelled = p.CancelRequested()

	p.SetState(StateDone)
	switch {
	case result.Cancelled:
		m.metrics.Runs.WithLabelValues("cancelled").Inc()
	case len(result.Errors) > 0:
		m.metrics.Runs.WithLabelValues("partial").Inc()
	default:
		m.metrics.Runs.WithLabelValues("ok").Inc()
	}
	m.logger.Info(ctx, "pool replenishment complete",
		zap.Int("generated", result.Generated),
		zap.Int("areas_failed", len(result.Errors)),
		zap.Bool("cancelled", result.Cancelled))
	return result, nil
}

// RunPlan runs one sub-task per planned area concurrently and waits for
// all of them. A failing area never stops its siblings. Outcomes come back
// in plan order.
func (m *Manager) RunPlan(ctx context.Context, plan []models.AreaCount, skipDedup bool, p *Progress) []AreaOutcome {
	if p == nil {
		p = NewProgress(skipDedup)
		p.Plan(plan)
	}
	p.SetState(StateFanningOut)

	outcomes := make([]AreaOutcome, len(plan))
	var wg sync.WaitGroup
	for i, ac := range plan {
		wg.Add(1)
		go func(i int, ac models.AreaCount) {
			defer wg.Done()
			outcomes[i] = m.FillArea(ctx, ac.Area, ac.Count, skipDedup, p)
		}(i, ac)
	}
	wg.Wait()
	return outcomes
}

// FillArea generates count questions for area, with or without dedup, and
// persists the survivors. Accepted candidates are persisted even when the
// area fails part way, so a later run can resume.
func (m *Manager) FillArea(ctx context.Context, area models.ContentArea, count int, skipDedup bool, p *Progress) AreaOutcome {
	out := AreaOutcome{Area: area, Target: count}
	if count <= 0 {
		p.SetAreaState(area, AreaComplete)
		return out
	}
	ctx = logging.WithArea(ctx, string(area))

	if err := m.gen.CheckContent(area); err != nil {
		out.Err = err
		p.Fail(area, err)
		m.logger.Error(ctx, "area aborted", zap.Error(err))
		return out
	}

	p.SetAreaState(area, AreaGenerating)
	before := p.areaCounts(area)

	var (
		qs  []models.Question
		err error
	)
	if skipDedup {
		qs, err = m.GenerateWithoutDedup(ctx, area, count, p)
	} else {
		qs, err = m.GenerateWithDedup(ctx, area, count, p)
	}

	out.Persisted = m.persist(ctx, area, qs, p)

	after := p.areaCounts(area)
	out.Duplicates = after.Duplicates - before.Duplicates
	out.Errors = after.Errors - before.Errors

	switch {
	case err != nil:
		out.Err = err
		p.Fail(area, err)
		m.logger.Error(ctx, "area generation failed",
			zap.Int("persisted", out.Persisted), zap.Int("target", count), zap.Error(err))
	case p.CancelRequested():
		p.SetAreaState(area, AreaCancelled)
	default:
		p.SetAreaState(area, AreaComplete)
	}
	if out.Persisted < count && err == nil {
		m.logger.Warn(ctx, "area under-delivered",
			zap.Int("persisted", out.Persisted),
			zap.Int("target", count),
			zap.Int("duplicates", out.Duplicates),
			zap.Int("errors", out.Errors))
	}
	return out
}

// GenerateWithDedup returns up to count candidates that are not near
// duplicates of the area's recent questions or of each other. It issues
// ceil(2*count/batch)+1 generator calls in parallel under the global
// semaphore, then checks candidates in production order against the
// reference set plus everything accepted so far.
//
// Accepted candidates are returned alongside any error that stopped
// generation early.
func (m *Manager) GenerateWithDedup(ctx context.Context, area models.ContentArea, count int, p *Progress) ([]models.Question, error) {
	if count <= 0 {
		return nil, nil
	}
	if p == nil {
		p = NewProgress(false)
	}

	reference, err := m.store.RecentByArea(ctx, area, m.cfg.DedupCheckLimit)
	if err != nil {
		m.logger.Warn(ctx, "could not load dedup reference set, continuing without it", zap.Error(err))
		reference = nil
	}

	batches := maxDedupBatches(count, m.cfg.GenerationBatchSize)
	candidates, genErr := m.generateBatches(ctx, area, batches, m.cfg.GenerationBatchSize, 0, p)
	if len(candidates) == 0 {
		m.logger.Error(ctx, "all generation batches failed", zap.Int("batches", batches), zap.Error(genErr))
		return nil, genErr
	}

	p.SetAreaState(area, AreaDeduping)
	p.advance(StateDeduping)

	corpus := make([]models.Question, 0, len(reference)+count)
	corpus = append(corpus, reference...)
	accepted := make([]models.Question, 0, count)
	dedupCost := m.cfg.Pricing.dedupCheckCost()

	for i := range candidates {
		if len(accepted) == count {
			break
		}
		if p.CancelRequested() {
			m.logger.Info(ctx, "cancel requested, stopping dedup", zap.Int("accepted", len(accepted)))
			break
		}

		res := m.dedup.CheckOne(ctx, &candidates[i], corpus, m.cfg.DedupThreshold)
		p.AddCost(dedupCost)
		if res.IsDuplicate {
			p.Duplicate(area)
			m.metrics.Candidates.WithLabelValues(string(area), "duplicate").Inc()
			m.logger.Debug(ctx, "skipped duplicate candidate",
				zap.Int("index", i),
				zap.Float64("similarity", res.Similarity),
				zap.Int("matched_index", res.MatchedIndex))
			continue
		}
		if res.Err != nil {
			m.logger.Warn(ctx, "dedup unavailable, candidate accepted", zap.Int("index", i), zap.Error(res.Err))
		}
		accepted = append(accepted, candidates[i])
		corpus = append(corpus, candidates[i])
	}

	m.logger.Info(ctx, "dedup complete",
		zap.Int("accepted", len(accepted)),
		zap.Int("target", count),
		zap.Int("candidates", len(candidates)),
		zap.Int("reference", len(reference)))
	return accepted, genErr
}

// GenerateWithoutDedup is seed mode: ceil(count/batch) parallel calls, no
// similarity checks, results concatenated in batch order and cut to count.
func (m *Manager) GenerateWithoutDedup(ctx context.Context, area models.ContentArea, count int, p *Progress) ([]models.Question, error) {
	if count <= 0 {
		return nil, nil
	}
	if p == nil {
		p = NewProgress(true)
	}

	bs := m.cfg.GenerationBatchSize
	batches := ceilDiv(count, bs)
	qs, err := m.generateBatches(ctx, area, batches, bs, count, p)
	if len(qs) > count {
		qs = qs[:count]
	}
	m.logger.Info(ctx, "seed batches complete",
		zap.Int("generated", len(qs)), zap.Int("target", count), zap.Int("batches", batches))
	return qs, err
}

// generateBatches issues n generator calls of size questions each. A
// positive want trims the trailing batches so no more than want are asked
// for in total. Calls run concurrently but each
// holds the global semaphore. Results keep batch order. A persistent rate
// limit stops calls that have not started yet.
func (m *Manager) generateBatches(ctx context.Context, area models.ContentArea, n, size, want int, p *Progress) ([]models.Question, error) {
	results := make([][]models.Question, n)

	var (
		wg       sync.WaitGroup
		stop     atomic.Bool
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}

	for i := 0; i < n; i++ {
		batchSize := size
		if rest := want - i*size; want > 0 && rest > 0 && rest < size {
			batchSize = rest
		}

		wg.Add(1)
		go func(i, batchSize int) {
			defer wg.Done()

			if err := m.sem.Acquire(ctx, 1); err != nil {
				fail(err)
				return
			}
			defer m.sem.Release(1)

			if stop.Load() || p.CancelRequested() {
				return
			}

			qs, err := m.gen.GenerateBatch(ctx, area, batchSize)
			if err != nil {
				if errors.Is(err, llm.ErrPersistentRateLimit) {
					stop.Store(true)
				}
				p.Error(area)
				m.metrics.Candidates.WithLabelValues(string(area), "error").Inc()
				fail(err)
				m.logger.Error(ctx, "generation batch failed", zap.Int("batch", i), zap.Error(err))
				return
			}
			if len(qs) == 0 {
				p.Error(area)
				m.metrics.Candidates.WithLabelValues(string(area), "error").Inc()
				m.logger.Warn(ctx, "generation batch returned nothing", zap.Int("batch", i))
				return
			}
			results[i] = qs
		}(i, batchSize)
	}
	wg.Wait()

	var out []models.Question
	for _, r := range results {
		out = append(out, r...)
	}
	return out, firstErr
}

// persist inserts qs in order. Inserts run detached from ctx cancellation
// so a shutdown mid-run still keeps what was paid for.
func (m *Manager) persist(ctx context.Context, area models.ContentArea, qs []models.Question, p *Progress) int {
	if len(qs) == 0 {
		return 0
	}
	p.SetAreaState(area, AreaPersisting)
	p.advance(StatePersisting)

	storeCtx := context.WithoutCancel(ctx)
	perQuestion := m.cfg.Pricing.perQuestionCost(m.cfg.GenerationBatchSize)

	var n int
	for i := range qs {
		if _, err := m.store.InsertQuestion(storeCtx, &qs[i]); err != nil {
			p.Error(area)
			m.metrics.Candidates.WithLabelValues(string(area), "error").Inc()
			m.logger.Error(ctx, "dropping question",
				zap.Int("index", i), zap.Error(fmt.Errorf("%w: %w", ErrPersistenceFailure, err)))
			continue
		}
		n++
		p.Accepted(area, 1, perQuestion)
		m.metrics.Candidates.WithLabelValues(string(area), "accepted").Inc()
	}
	return n
}

// ── Background Worker ───────────────────────────────────

// StartWorker checks the pool every interval until ctx is done. A tick is
// skipped when another run holds the guard.
func (m *Manager) StartWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info(ctx, "pool worker started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "pool worker shutting down")
			return
		case <-ticker.C:
			m.runScheduled(ctx)
		}
	}
}

func (m *Manager) runScheduled(ctx context.Context) {
	p, err := m.Begin(false)
	if err != nil {
		m.logger.Info(ctx, "skipping scheduled pool check", zap.Error(err))
		return
	}
	defer m.End(p)

	if _, err := m.Replenish(ctx, p); err != nil {
		m.logger.Error(ctx, "scheduled pool check failed", zap.Error(err))
	}
}
