package embeddings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batches = append(c.batches, append([]string(nil), texts...))
	c.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (c *countingEmbedder) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestEmbedManyCachesAndPreservesOrder(t *testing.T) {
	e := &countingEmbedder{}
	s := NewService(e)
	ctx := context.Background()

	first, err := s.EmbedMany(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}}, first)
	assert.Equal(t, 2, s.CacheSize())

	second, err := s.EmbedMany(ctx, []string{"ccc", "a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}, {1, 1}, {2, 1}, {3, 1}}, second)

	require.Equal(t, 2, e.calls())
	// only the uncached text went out, once
	assert.Equal(t, []string{"ccc"}, e.batches[1])

	_, err = s.EmbedMany(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, 2, e.calls())
}

func TestCacheKeyIsPrefix(t *testing.T) {
	e := &countingEmbedder{}
	s := NewService(e, WithCachePrefix(5))
	ctx := context.Background()

	a, err := s.EmbedOne(ctx, "hello world")
	require.NoError(t, err)
	b, err := s.EmbedOne(ctx, "hello there, a different text")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, e.calls())
	assert.Equal(t, 1, s.CacheSize())
}

func TestCacheKeyIsRuneSafe(t *testing.T) {
	s := NewService(&countingEmbedder{}, WithCachePrefix(3))
	assert.Equal(t, "héé", s.cacheKey("héééllo"))
	assert.Equal(t, "ab", s.cacheKey("ab"))
	assert.Equal(t, 500, NewService(nil).prefix)

	long := strings.Repeat("x", 600)
	assert.Len(t, NewService(nil).cacheKey(long), 500)
}

func TestClearCache(t *testing.T) {
	e := &countingEmbedder{}
	s := NewService(e)
	ctx := context.Background()

	_, err := s.EmbedOne(ctx, "text")
	require.NoError(t, err)
	s.ClearCache()
	assert.Zero(t, s.CacheSize())

	_, err = s.EmbedOne(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, 2, e.calls())
}

func TestEmbedErrors(t *testing.T) {
	boom := errors.New("boom")
	s := NewService(EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, boom
	}))
	ctx := context.Background()

	_, err := s.EmbedMany(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = s.EmbedOne(ctx, "  ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = s.EmbedOne(ctx, "text")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, s.CacheSize())

	short := NewService(EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}))
	_, err = short.EmbedMany(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestSemaphoreCapsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	s := NewService(EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return [][]float32{{1}}, nil
	}), WithMaxConcurrent(2))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.EmbedOne(context.Background(), strings.Repeat("t", i+1))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
