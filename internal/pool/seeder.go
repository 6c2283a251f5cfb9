package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abaquiz/backend/internal/llm"
	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/models"
)

type SeedStatus string

const (
	SeedDryRun          SeedStatus = "dry_run"
	SeedAlreadyComplete SeedStatus = "already_complete"
	SeedComplete        SeedStatus = "complete"
	SeedPartial         SeedStatus = "partial"
	SeedInterrupted     SeedStatus = "interrupted"
	SeedCancelled       SeedStatus = "cancelled"
)

type SeedOptions struct {
	Count     int
	Area      *models.ContentArea
	SkipDedup bool
	DryRun    bool
	// Resume fills the gap between Count and what each area already holds,
	// and skips areas a previous interrupted run finished.
	Resume bool
}

type SeedPlan struct {
	Distribution []models.AreaCount   `json:"distribution"`
	Total        int                  `json:"total"`
	SkipDedup    bool                 `json:"skip_dedup"`
	Estimate     models.CostEstimate  `json:"estimate"`
	Skipped      []models.ContentArea `json:"skipped,omitempty"`
}

type SeedResult struct {
	Status        SeedStatus                    `json:"status"`
	Plan          SeedPlan                      `json:"plan"`
	Generated     int                           `json:"generated"`
	ByArea        map[models.ContentArea]int    `json:"by_area"`
	Errors        map[models.ContentArea]string `json:"errors,omitempty"`
	Elapsed       time.Duration                 `json:"elapsed"`
	FinalPoolSize int                           `json:"final_pool_size"`
}

// SeedState is persisted while seeding runs so an interrupted run can be
// resumed with the same command.
type SeedState struct {
	StartedAt      time.Time            `json:"started_at"`
	TargetTotal    int                  `json:"target_total"`
	SkipDedup      bool                 `json:"skip_dedup"`
	CompletedAreas []models.ContentArea `json:"completed_areas"`
	Generated      int                  `json:"generated"`
}

// Seeder fills the pool to an explicit target, independent of pool health.
type Seeder struct {
	manager   *Manager
	stateFile string
	logger    *logging.Logger
}

func NewSeeder(m *Manager, stateFile string, logger *logging.Logger) *Seeder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Seeder{manager: m, stateFile: stateFile, logger: logger}
}

// Plan works out what a seed run would generate and what it would cost.
func (s *Seeder) Plan(ctx context.Context, opts SeedOptions) (*SeedPlan, error) {
	if opts.Count < 0 {
		return nil, fmt.Errorf("count must be >= 0, got %d", opts.Count)
	}
	cfg := s.manager.Config()

	var dist []models.AreaCount
	if opts.Area != nil {
		dist = SingleArea(*opts.Area, opts.Count)
	} else {
		dist = Distribution(opts.Count, cfg.Weights)
	}

	plan := &SeedPlan{SkipDedup: opts.SkipDedup}
	if opts.Resume {
		existing, err := s.manager.store.CountByArea(ctx)
		if err != nil {
			return nil, fmt.Errorf("resume: %w", err)
		}
		state, err := s.LoadState()
		if err != nil {
			return nil, err
		}

		adjusted := make([]models.AreaCount, 0, len(dist))
		for _, ac := range dist {
			if state != nil && slices.Contains(state.CompletedAreas, ac.Area) {
				plan.Skipped = append(plan.Skipped, ac.Area)
				continue
			}
			if need := ac.Count - existing[ac.Area]; need > 0 {
				adjusted = append(adjusted, models.AreaCount{Area: ac.Area, Count: need})
			}
		}
		dist = adjusted
	}

	plan.Distribution = dist
	plan.Total = planTotal(dist)
	plan.Estimate = EstimateCost(plan.Total, cfg.GenerationBatchSize, opts.SkipDedup, cfg.Pricing)
	return plan, nil
}

// Run seeds the pool. Areas run concurrently under the manager's shared
// semaphore. The state file is updated as each area finishes and removed
// only when every area succeeded. A persistent rate limit stops the run
// with SeedInterrupted and an error wrapping llm.ErrPersistentRateLimit.
func (s *Seeder) Run(ctx context.Context, opts SeedOptions, p *Progress) (*SeedResult, error) {
	plan, err := s.Plan(ctx, opts)
	if err != nil {
		return nil, err
	}
	result := &SeedResult{
		Plan:   *plan,
		ByArea: make(map[models.ContentArea]int),
	}

	if opts.DryRun {
		result.Status = SeedDryRun
		return result, nil
	}
	if plan.Total == 0 {
		result.Status = SeedAlreadyComplete
		return result, nil
	}

	if p == nil {
		p = NewProgress(opts.SkipDedup)
	}
	defer p.Finish()
	ctx = logging.WithRunID(ctx, p.RunID())
	p.Plan(plan.Distribution)

	state := s.startState(opts, plan)
	if err := s.saveState(state); err != nil {
		return nil, err
	}

	start := time.Now()
	s.logger.Info(ctx, "seeding started",
		zap.Int("total", plan.Total),
		zap.Bool("skip_dedup", opts.SkipDedup),
		zap.Float64("estimated_cost", plan.Estimate.TotalCost))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		rateErr  error
		outcomes = make([]AreaOutcome, len(plan.Distribution))
	)
	p.SetState(StateFanningOut)
	for i, ac := range plan.Distribution {
		wg.Add(1)
		go func(i int, ac models.AreaCount) {
			defer wg.Done()
			o := s.manager.FillArea(ctx, ac.Area, ac.Count, opts.SkipDedup, p)
			outcomes[i] = o

			mu.Lock()
			defer mu.Unlock()
			state.Generated += o.Persisted
			if o.Err == nil && !p.CancelRequested() {
				state.CompletedAreas = append(state.CompletedAreas, ac.Area)
			}
			if errors.Is(o.Err, llm.ErrPersistentRateLimit) && rateErr == nil {
				rateErr = o.Err
			}
			if err := s.saveState(state); err != nil {
				s.logger.Error(ctx, "could not save seed progress", zap.Error(err))
			}
		}(i, ac)
	}
	wg.Wait()
	p.SetState(StateDone)

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
	result.Elapsed = time.Since(start)
	if n, err := s.manager.store.TotalCount(ctx); err == nil {
		result.FinalPoolSize = n
	}

	switch {
	case rateErr != nil:
		result.Status = SeedInterrupted
		s.logger.Warn(ctx, "seeding interrupted, progress saved", zap.String("state_file", s.stateFile))
		return result, fmt.Errorf("seeding interrupted: %w", rateErr)
	case p.CancelRequested():
		result.Status = SeedCancelled
	case len(result.Errors) > 0:
		result.Status = SeedPartial
	default:
		result.Status = SeedComplete
		if err := s.ClearState(); err != nil {
			s.logger.Warn(ctx, "could not clear seed progress", zap.Error(err))
		}
	}

	s.logger.Info(ctx, "seeding finished",
		zap.String("status", string(result.Status)),
		zap.Int("generated", result.Generated),
		zap.Int("target", plan.Total),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

func (s *Seeder) startState(opts SeedOptions, plan *SeedPlan) *SeedState {
	if opts.Resume {
		if prev, err := s.LoadState(); err == nil && prev != nil {
			prev.TargetTotal = plan.Total
			prev.SkipDedup = opts.SkipDedup
			return prev
		}
	}
	return &SeedState{
		StartedAt:      time.Now().UTC(),
		TargetTotal:    plan.Total,
		SkipDedup:      opts.SkipDedup,
		CompletedAreas: []models.ContentArea{},
	}
}

// LoadState returns the saved progress, or nil when there is none. A
// corrupt file is treated as absent.
func (s *Seeder) LoadState() (*SeedState, error) {
	if s.stateFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.stateFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed state: %w", err)
	}
	var state SeedState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn(context.Background(), "ignoring unreadable seed state", zap.Error(err))
		return nil, nil
	}
	return &state, nil
}

func (s *Seeder) saveState(state *SeedState) error {
	if s.stateFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.stateFile), 0o755); err != nil {
		return fmt.Errorf("save seed state: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("save seed state: %w", err)
	}
	if err := os.WriteFile(s.stateFile, data, 0o644); err != nil {
		return fmt.Errorf("save seed state: %w", err)
	}
	return nil
}

func (s *Seeder) ClearState() error {
	if s.stateFile == "" {
		return nil
	}
	if err := os.Remove(s.stateFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear seed state: %w", err)
	}
	return nil
}
