package embeddings

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/abaquiz/backend/internal/logging"
)

const (
	DefaultMaxConcurrent = 50
	DefaultCachePrefix   = 500
)

// Service caches embeddings by text prefix and caps concurrent provider
// calls. Two texts sharing their first prefix characters share a vector.
type Service struct {
	embedder Embedder
	logger   *logging.Logger
	metrics  *Metrics
	sem      *semaphore.Weighted
	prefix   int

	mu    sync.RWMutex
	cache map[string][]float32
}

type Option func(*Service)

func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithCachePrefix(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.prefix = n
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(embedder Embedder, opts ...Option) *Service {
	s := &Service{
		embedder: embedder,
		logger:   logging.NewNop(),
		metrics:  NewMetrics(),
		sem:      semaphore.NewWeighted(DefaultMaxConcurrent),
		prefix:   DefaultCachePrefix,
		cache:    make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany returns one vector per text in input order. Cached texts are
// served locally; the rest go to the provider in a single call.
func (s *Service) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: text %d is blank", ErrEmptyInput, i)
		}
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var (
		missKeys  []string
		missTexts []string
		pending   = make(map[string]bool)
	)
	s.mu.RLock()
	for i, t := range texts {
		key := s.cacheKey(t)
		keys[i] = key
		if vec, ok := s.cache[key]; ok {
			out[i] = vec
			s.metrics.CacheLookups.WithLabelValues("hit").Inc()
			continue
		}
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
		if !pending[key] {
			pending[key] = true
			missKeys = append(missKeys, key)
			missTexts = append(missTexts, t)
		}
	}
	s.mu.RUnlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := s.call(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	fetched := make(map[string][]float32, len(missKeys))
	s.mu.Lock()
	for i, key := range missKeys {
		s.cache[key] = vecs[i]
		fetched[key] = vecs[i]
	}
	s.mu.Unlock()

	for i := range out {
		if out[i] == nil {
			out[i] = fetched[keys[i]]
		}
	}
	return out, nil
}

func (s *Service) call(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	start := time.Now()
	vecs, err := s.embedder.Embed(ctx, texts)
	s.metrics.Duration.Observe(time.Since(start).Seconds())
	s.metrics.BatchSize.Observe(float64(len(texts)))
	if err != nil {
		s.metrics.Calls.WithLabelValues("error").Inc()
		s.logger.Debug(ctx, "embedding call failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		s.metrics.Calls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, len(texts), len(vecs))
	}
	s.metrics.Calls.WithLabelValues("ok").Inc()
	return vecs, nil
}

// cacheKey is the first prefix runes of text.
func (s *Service) cacheKey(text string) string {
	n := 0
	for i := range text {
		if n == s.prefix {
			return text[:i]
		}
		n++
	}
	return text
}

func (s *Service) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string][]float32)
	s.mu.Unlock()
}

func (s *Service) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
