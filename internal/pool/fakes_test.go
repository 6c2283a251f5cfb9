package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/abaquiz/backend/internal/dedup"
	"github.com/abaquiz/backend/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	inserted  []models.Question
	existing  map[models.ContentArea]int
	reference map[models.ContentArea][]models.Question
	limits    []int
	insertErr func(q *models.Question) error

	activeUsers int
	avgUnseen   float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing:  make(map[models.ContentArea]int),
		reference: make(map[models.ContentArea][]models.Question),
	}
}

func (s *fakeStore) InsertQuestion(ctx context.Context, q *models.Question) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		if err := s.insertErr(q); err != nil {
			return 0, err
		}
	}
	s.inserted = append(s.inserted, *q)
	return int64(len(s.inserted)), nil
}

func (s *fakeStore) CountByArea(ctx context.Context) (map[models.ContentArea]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.ContentArea]int)
	for a, n := range s.existing {
		out[a] = n
	}
	for _, q := range s.inserted {
		out[q.ContentArea]++
	}
	return out, nil
}

func (s *fakeStore) TotalCount(ctx context.Context) (int, error) {
	counts, _ := s.CountByArea(ctx)
	var n int
	for _, c := range counts {
		n += c
	}
	return n, nil
}

func (s *fakeStore) RecentByArea(ctx context.Context, area models.ContentArea, limit int) ([]models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, limit)
	ref := s.reference[area]
	if limit < len(ref) {
		ref = ref[:max(limit, 0)]
	}
	return ref, nil
}

func (s *fakeStore) ActiveUserCount(ctx context.Context, days int) (int, error) {
	return s.activeUsers, nil
}

func (s *fakeStore) AvgUnseenPerActiveUser(ctx context.Context, days int) (float64, error) {
	return s.avgUnseen, nil
}

func (s *fakeStore) insertedFor(area models.ContentArea) []models.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Question
	for _, q := range s.inserted {
		if q.ContentArea == area {
			out = append(out, q)
		}
	}
	return out
}

// fakeGenerator returns n numbered candidates per call unless failFor has
// an error for the area.
type fakeGenerator struct {
	perCall     int
	failFor     map[models.ContentArea]error
	missing     map[models.ContentArea]bool
	calls       atomic.Int64
	seq         atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (g *fakeGenerator) GenerateBatch(ctx context.Context, area models.ContentArea, n int) ([]models.Question, error) {
	g.calls.Add(1)
	cur := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		peak := g.maxInFlight.Load()
		if cur <= peak || g.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}

	if err := g.failFor[area]; err != nil {
		return nil, err
	}
	if g.perCall > 0 {
		n = g.perCall
	}
	out := make([]models.Question, n)
	for i := range out {
		out[i] = candidate(area, fmt.Sprintf("%s #%d", area, g.seq.Add(1)))
	}
	return out, nil
}

func (g *fakeGenerator) CheckContent(area models.ContentArea) error {
	if g.missing[area] {
		return fmt.Errorf("no study content for %s", area)
	}
	return nil
}

// fakeDeduper records every candidate it is shown, in order, with the size
// of the reference corpus at that moment.
type fakeDeduper struct {
	mu        sync.Mutex
	seen      []models.Question
	corpusLen []int
	isDup     func(call int) bool
	onCheck   func(call int)
}

func (d *fakeDeduper) CheckOne(ctx context.Context, c *models.Question, ref []models.Question, threshold float64) dedup.Result {
	d.mu.Lock()
	call := len(d.seen)
	d.seen = append(d.seen, *c)
	d.corpusLen = append(d.corpusLen, len(ref))
	d.mu.Unlock()

	if d.onCheck != nil {
		d.onCheck(call)
	}
	if d.isDup != nil && d.isDup(call) {
		return dedup.Result{IsDuplicate: true, Similarity: 0.95, MatchedIndex: 0}
	}
	return dedup.Result{Similarity: 0.1, MatchedIndex: -1}
}

func candidate(area models.ContentArea, stem string) models.Question {
	return models.Question{
		ContentArea:   area,
		Type:          models.TypeMultipleChoice,
		Question:      stem,
		Options:       map[string]string{"A": "a", "B": "b", "C": "c", "D": "d"},
		CorrectAnswer: "B",
		Explanation:   "B is correct.",
		Category:      models.CategoryScenario,
		Model:         "fake",
	}
}

func stems(qs []models.Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Question
	}
	return out
}
