// Package dedup detects near-duplicate questions by embedding similarity.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/models"
)

const DefaultThreshold = 0.85

// ErrDedupFailure is reported on a Result when the similarity check could
// not run and the candidate was accepted anyway.
var ErrDedupFailure = errors.New("dedup: similarity check failed")

// Embedder is the subset of the embedding client used here.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Result is the outcome of one candidate check. MatchedIndex is -1 when
// the reference set was empty or the check failed.
type Result struct {
	IsDuplicate  bool    `json:"is_duplicate"`
	Similarity   float64 `json:"similarity"`
	MatchedIndex int     `json:"matched_index"`
	MatchedText  string  `json:"matched_text,omitempty"`
	Err          error   `json:"-"`
}

type Service struct {
	embedder  Embedder
	threshold float64
	logger    *logging.Logger
}

func NewService(embedder Embedder, threshold float64, logger *logging.Logger) *Service {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{embedder: embedder, threshold: threshold, logger: logger}
}

func (s *Service) Threshold() float64 { return s.threshold }

// Flatten renders a question as "<stem> <k>: <v> ..." with option keys in
// canonical order.
func Flatten(q *models.Question) string {
	var b strings.Builder
	b.WriteString(q.Question)
	for _, k := range q.SortedOptionKeys() {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(q.Options[k])
	}
	return b.String()
}

// Cosine returns the cosine similarity of a and b, clamped to [-1, 1].
// A zero vector or a length mismatch yields 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim))
}

// CheckOne compares candidate against every reference question. A
// threshold <= 0 selects the service default. Embedding failures fail open.
func (s *Service) CheckOne(ctx context.Context, candidate *models.Question, reference []models.Question, threshold float64) Result {
	if len(reference) == 0 {
		return Result{MatchedIndex: -1}
	}
	texts := make([]string, 0, len(reference)+1)
	texts = append(texts, Flatten(candidate))
	refTexts := flattenAll(reference)
	texts = append(texts, refTexts...)

	vecs, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return s.failOpen(ctx, candidate, err)
	}
	return s.score(vecs[0], vecs[1:], refTexts, s.resolve(threshold))
}

// CheckMany checks each candidate against reference with one embedding
// call. Candidates are not compared with each other.
func (s *Service) CheckMany(ctx context.Context, candidates, reference []models.Question, threshold float64) []Result {
	results := make([]Result, len(candidates))
	if len(candidates) == 0 {
		return results
	}
	if len(reference) == 0 {
		for i := range results {
			results[i] = Result{MatchedIndex: -1}
		}
		return results
	}

	candTexts := flattenAll(candidates)
	refTexts := flattenAll(reference)
	vecs, err := s.embedder.EmbedMany(ctx, append(append([]string{}, candTexts...), refTexts...))
	if err != nil {
		for i := range candidates {
			results[i] = s.failOpen(ctx, &candidates[i], err)
		}
		return results
	}

	refVecs := vecs[len(candidates):]
	th := s.resolve(threshold)
	for i := range candidates {
		results[i] = s.score(vecs[i], refVecs, refTexts, th)
	}
	return results
}

func (s *Service) resolve(threshold float64) float64 {
	if threshold <= 0 {
		return s.threshold
	}
	return threshold
}

func (s *Service) score(cand []float32, refs [][]float32, refTexts []string, threshold float64) Result {
	res := Result{MatchedIndex: -1}
	for i, ref := range refs {
		sim := Cosine(cand, ref)
		if res.MatchedIndex == -1 || sim > res.Similarity {
			res.Similarity = sim
			res.MatchedIndex = i
		}
	}
	if res.MatchedIndex >= 0 {
		res.MatchedText = refTexts[res.MatchedIndex]
	}
	res.IsDuplicate = res.MatchedIndex >= 0 && res.Similarity >= threshold
	return res
}

func (s *Service) failOpen(ctx context.Context, candidate *models.Question, err error) Result {
	wrapped := fmt.Errorf("%w: %w", ErrDedupFailure, err)
	s.logger.Warn(ctx, "dedup check failed, accepting candidate",
		zap.String("area", string(candidate.ContentArea)),
		zap.Error(wrapped))
	return Result{MatchedIndex: -1, Err: wrapped}
}

func flattenAll(qs []models.Question) []string {
	out := make([]string, len(qs))
	for i := range qs {
		out[i] = Flatten(&qs[i])
	}
	return out
}
