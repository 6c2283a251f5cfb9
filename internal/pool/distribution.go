// Package pool keeps the question pool healthy: it decides when to
// replenish, splits the work across content areas by exam weight, fans
// generation out under a global semaphore, filters near-duplicates and
// persists what survives.
package pool

import (
	"math"
	"sort"

	"github.com/abaquiz/backend/internal/models"
)

// SortedByWeight orders areas by weight, heaviest first. Equal weights keep
// the canonical enum order so rounding is deterministic. Areas missing from
// the canonical list sort after it by name.
func SortedByWeight(weights map[models.ContentArea]float64) []models.ContentArea {
	rank := make(map[models.ContentArea]int, len(models.AllContentAreas))
	for i, a := range models.AllContentAreas {
		rank[a] = i
	}

	areas := make([]models.ContentArea, 0, len(weights))
	for a := range weights {
		areas = append(areas, a)
	}
	sort.SliceStable(areas, func(i, j int) bool {
		wi, wj := weights[areas[i]], weights[areas[j]]
		if wi != wj {
			return wi > wj
		}
		ri, iok := rank[areas[i]]
		rj, jok := rank[areas[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return areas[i] < areas[j]
		}
	})
	return areas
}

// Distribution splits total across areas. Every area but the lightest gets
// total*w rounded half to even, capped at what is left; the lightest gets
// whatever remains, so the counts are never negative and always sum to total.
func Distribution(total int, weights map[models.ContentArea]float64) []models.AreaCount {
	areas := SortedByWeight(weights)
	out := make([]models.AreaCount, 0, len(areas))
	remaining := total
	for i, area := range areas {
		if i == len(areas)-1 {
			out = append(out, models.AreaCount{Area: area, Count: remaining})
			break
		}
		n := min(int(math.RoundToEven(float64(total)*weights[area])), remaining)
		out = append(out, models.AreaCount{Area: area, Count: n})
		remaining -= n
	}
	return out
}

// SingleArea is the plan for a run that targets one area.
func SingleArea(area models.ContentArea, count int) []models.AreaCount {
	return []models.AreaCount{{Area: area, Count: count}}
}

func planTotal(plan []models.AreaCount) int {
	var n int
	for _, ac := range plan {
		if ac.Count > 0 {
			n += ac.Count
		}
	}
	return n
}

// maxDedupBatches over-provisions for an expected duplicate rate of about
// half: ceil(2*count / batchSize) + 1.
func maxDedupBatches(count, batchSize int) int {
	return ceilDiv(count*2, batchSize) + 1
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
