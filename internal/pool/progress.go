package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abaquiz/backend/internal/models"
)

type RunState string

const (
	StateIdle       RunState = "idle"
	StateChecking   RunState = "checking"
	StateNoOp       RunState = "no_op"
	StatePlanning   RunState = "planning"
	StateFanningOut RunState = "fanning_out"
	StateDeduping   RunState = "deduping"
	StatePersisting RunState = "persisting"
	StateDone       RunState = "done"
)

type AreaState string

const (
	AreaPending    AreaState = "pending"
	AreaGenerating AreaState = "generating"
	AreaDeduping   AreaState = "deduping"
	AreaPersisting AreaState = "persisting"
	AreaComplete   AreaState = "complete"
	AreaError      AreaState = "error"
	AreaCancelled  AreaState = "cancelled"
)

// AreaProgress is the per-area view of a run.
type AreaProgress struct {
	Name       models.ContentArea `json:"name"`
	Target     int                `json:"target"`
	Done       int                `json:"done"`
	Duplicates int                `json:"duplicates"`
	Errors     int                `json:"errors"`
	Status     AreaState          `json:"status"`
	Error      string             `json:"error,omitempty"`
}

// Progress is shared between a running pool operation and whoever watches
// it. All access goes through methods; Snapshot returns a copy that is safe
// to render.
type Progress struct {
	mu sync.Mutex

	runID      string
	state      RunState
	total      int
	generated  int
	duplicates int
	errors     int
	cost       float64
	areas      []AreaProgress
	index      map[models.ContentArea]int
	skipDedup  bool
	startedAt  time.Time
	finishedAt time.Time
	complete   bool
	cancel     bool
	cancelled  bool
	lastErr    string

	now func() time.Time
}

// ProgressSnapshot is a point-in-time copy of a Progress.
type ProgressSnapshot struct {
	RunID          string         `json:"run_id"`
	State          RunState       `json:"state"`
	Total          int            `json:"total"`
	Generated      int            `json:"generated"`
	Duplicates     int            `json:"duplicates"`
	Errors         int            `json:"errors"`
	Cost           float64        `json:"cost"`
	Areas          []AreaProgress `json:"areas"`
	SkipDedup      bool           `json:"skip_dedup"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	ElapsedSeconds int            `json:"elapsed_seconds"`
	Complete       bool           `json:"complete"`
	Running        bool           `json:"running"`
	Cancelled      bool           `json:"cancelled"`
	LastError      string         `json:"last_error,omitempty"`
}

func NewProgress(skipDedup bool) *Progress {
	p := &Progress{
		runID:     uuid.NewString(),
		state:     StateIdle,
		skipDedup: skipDedup,
		index:     make(map[models.ContentArea]int),
		now:       time.Now,
	}
	p.startedAt = p.now()
	return p
}

func (p *Progress) RunID() string {
	return p.runID
}

// Plan records the per-area targets and resets area state to pending.
func (p *Progress) Plan(plan []models.AreaCount) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = planTotal(plan)
	p.areas = make([]AreaProgress, 0, len(plan))
	p.index = make(map[models.ContentArea]int, len(plan))
	for _, ac := range plan {
		p.index[ac.Area] = len(p.areas)
		p.areas = append(p.areas, AreaProgress{Name: ac.Area, Target: ac.Count, Status: AreaPending})
	}
}

func (p *Progress) SetState(s RunState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Progress) State() RunState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Progress) SetAreaState(area models.ContentArea, s AreaState) {
	p.withArea(area, func(a *AreaProgress) { a.Status = s })
}

// Accepted records n persisted questions for area.
func (p *Progress) Accepted(area models.ContentArea, n int, cost float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generated += n
	p.cost += cost
	if i, ok := p.index[area]; ok {
		p.areas[i].Done += n
	}
}

func (p *Progress) Duplicate(area models.ContentArea) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duplicates++
	if i, ok := p.index[area]; ok {
		p.areas[i].Duplicates++
	}
}

// AddCost adds spend that produced no accepted question, such as a
// rejected candidate's dedup check.
func (p *Progress) AddCost(cost float64) {
	p.mu.Lock()
	p.cost += cost
	p.mu.Unlock()
}

// Error counts one dropped candidate or failed call for area.
func (p *Progress) Error(area models.ContentArea) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors++
	if i, ok := p.index[area]; ok {
		p.areas[i].Errors++
	}
}

// Fail marks area as errored with the reason.
func (p *Progress) Fail(area models.ContentArea, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err.Error()
	if i, ok := p.index[area]; ok {
		p.areas[i].Status = AreaError
		p.areas[i].Error = err.Error()
	}
}

// RequestCancel asks the run to stop at its next safe point. In-flight
// calls are left to finish.
func (p *Progress) RequestCancel() {
	p.mu.Lock()
	p.cancel = true
	p.mu.Unlock()
}

func (p *Progress) CancelRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel
}

// Finish marks the run complete. It is idempotent.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.complete {
		return
	}
	p.complete = true
	p.cancelled = p.cancel
	p.finishedAt = p.now()
}

func (p *Progress) Complete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete
}

func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := ProgressSnapshot{
		RunID:      p.runID,
		State:      p.state,
		Total:      p.total,
		Generated:  p.generated,
		Duplicates: p.duplicates,
		Errors:     p.errors,
		Cost:       p.cost,
		Areas:      append([]AreaProgress(nil), p.areas...),
		SkipDedup:  p.skipDedup,
		StartedAt:  p.startedAt,
		Complete:   p.complete,
		Running:    !p.complete,
		Cancelled:  p.cancelled,
		LastError:  p.lastErr,
	}
	end := p.now()
	if p.complete {
		finished := p.finishedAt
		s.FinishedAt = &finished
		end = finished
	}
	s.ElapsedSeconds = int(end.Sub(p.startedAt).Seconds())
	return s
}

func (p *Progress) withArea(area models.ContentArea, fn func(a *AreaProgress)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i, ok := p.index[area]; ok {
		fn(&p.areas[i])
	}
}

var runOrder = map[RunState]int{
	StateIdle:       0,
	StateChecking:   1,
	StatePlanning:   2,
	StateFanningOut: 3,
	StateDeduping:   4,
	StatePersisting: 5,
	StateDone:       6,
}

// advance moves the run state forward to s. Areas reach dedup and
// persistence at different times; the run reports the furthest stage.
func (p *Progress) advance(s RunState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := runOrder[p.state]
	if ok && runOrder[s] > cur {
		p.state = s
	}
}

func (p *Progress) areaCounts(area models.ContentArea) AreaProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i, ok := p.index[area]; ok {
		return p.areas[i]
	}
	return AreaProgress{Name: area}
}
