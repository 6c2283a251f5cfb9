package pool

import "github.com/abaquiz/backend/internal/models"

// Token assumptions behind cost estimates. A generation call of five
// questions runs about 2000 tokens each way; a dedup check embeds one
// flattened candidate of roughly 200 tokens.
const (
	genInputTokensPerCall  = 2000
	genOutputTokensPerCall = 2000
	dedupTokensPerCheck    = 200
	// Candidates are over-provisioned two to one when dedup runs.
	dedupChecksPerQuestion = 2
)

// Pricing is dollars per million tokens.
type Pricing struct {
	GenerationInputPerMillion  float64
	GenerationOutputPerMillion float64
	EmbeddingPerMillion        float64
}

func (p Pricing) generationCallCost() float64 {
	return genInputTokensPerCall/1e6*p.GenerationInputPerMillion +
		genOutputTokensPerCall/1e6*p.GenerationOutputPerMillion
}

func (p Pricing) dedupCheckCost() float64 {
	return dedupTokensPerCheck / 1e6 * p.EmbeddingPerMillion
}

// perQuestionCost is the generation spend attributed to one accepted
// question when batches carry batchSize questions.
func (p Pricing) perQuestionCost(batchSize int) float64 {
	if batchSize <= 0 {
		batchSize = 1
	}
	return p.generationCallCost() / float64(batchSize)
}

// EstimateCost prices generating count questions in batches of batchSize.
func EstimateCost(count, batchSize int, skipDedup bool, pricing Pricing) models.CostEstimate {
	if count <= 0 {
		return models.CostEstimate{}
	}
	est := models.CostEstimate{
		GenerationCalls: ceilDiv(count, batchSize),
	}
	est.GenerationCost = float64(est.GenerationCalls) * pricing.generationCallCost()
	if !skipDedup {
		est.DedupCalls = count * dedupChecksPerQuestion
		est.DedupCost = float64(est.DedupCalls) * pricing.dedupCheckCost()
	}
	est.TotalCost = est.GenerationCost + est.DedupCost
	return est
}
