package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCost(t *testing.T) {
	pricing := Pricing{GenerationInputPerMillion: 2, GenerationOutputPerMillion: 8, EmbeddingPerMillion: 0.02}

	est := EstimateCost(50, 5, false, pricing)
	assert.Equal(t, 10, est.GenerationCalls)
	assert.InDelta(t, 10*(0.004+0.016), est.GenerationCost, 1e-9)
	assert.Equal(t, 100, est.DedupCalls)
	assert.InDelta(t, 100*200/1e6*0.02, est.DedupCost, 1e-12)
	assert.InDelta(t, est.GenerationCost+est.DedupCost, est.TotalCost, 1e-12)
}

func TestEstimateCostSkipDedup(t *testing.T) {
	pricing := Pricing{GenerationInputPerMillion: 2, GenerationOutputPerMillion: 8, EmbeddingPerMillion: 0.02}

	est := EstimateCost(12, 5, true, pricing)
	assert.Equal(t, 3, est.GenerationCalls)
	assert.Zero(t, est.DedupCalls)
	assert.Zero(t, est.DedupCost)
	assert.InDelta(t, est.GenerationCost, est.TotalCost, 1e-12)
}

func TestEstimateCostZero(t *testing.T) {
	assert.Zero(t, EstimateCost(0, 5, false, Pricing{GenerationInputPerMillion: 1}))
}

func TestPerQuestionCost(t *testing.T) {
	pricing := Pricing{GenerationInputPerMillion: 1, GenerationOutputPerMillion: 1}
	assert.InDelta(t, 0.004/5, pricing.perQuestionCost(5), 1e-12)
	assert.InDelta(t, 0.004, pricing.perQuestionCost(0), 1e-12)
}
