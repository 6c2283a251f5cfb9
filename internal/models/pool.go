package models

import "time"

// PoolHealth is derived before every replenishment check and never stored.
type PoolHealth struct {
	TotalQuestions int     `json:"total_questions"`
	ActiveUsers    int     `json:"active_users"`
	AvgUnseen      float64 `json:"avg_unseen"`
}

type AreaCount struct {
	Area  ContentArea `json:"area"`
	Count int         `json:"count"`
}

// PoolResult is the aggregate outcome of one pool run.
type PoolResult struct {
	Needed         bool                   `json:"needed"`
	AvgUnseen      float64                `json:"avg_unseen"`
	ActiveUsers    int                    `json:"active_users"`
	TotalQuestions int                    `json:"total_questions"`
	Generated      int                    `json:"generated"`
	ByArea         map[ContentArea]int    `json:"by_area"`
	Cancelled      bool                   `json:"cancelled"`
	Errors         map[ContentArea]string `json:"errors,omitempty"`
}

type CostEstimate struct {
	GenerationCalls int     `json:"generation_calls"`
	GenerationCost  float64 `json:"generation_cost"`
	DedupCalls      int     `json:"dedup_calls"`
	DedupCost       float64 `json:"dedup_cost"`
	TotalCost       float64 `json:"total_cost"`
}

// ── Request Types ────────────────────────────────────────

type StartGenerationRequest struct {
	Count     int    `json:"count"`
	SkipDedup bool   `json:"skip_dedup"`
	Area      string `json:"area,omitempty"`
}

// ── Response Types ───────────────────────────────────────

type HealthStatus string

const (
	HealthEmpty    HealthStatus = "empty"
	HealthCritical HealthStatus = "critical"
	HealthWarning  HealthStatus = "warning"
	HealthHealthy  HealthStatus = "healthy"
)

// AreaStats is one row of the pool stats table.
type AreaStats struct {
	Area   ContentArea `json:"area"`
	Count  int         `json:"count"`
	Weight float64     `json:"weight"`
	Target int         `json:"target"`
}

type PoolStatsResponse struct {
	Health    PoolHealth   `json:"health"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message"`
	Needed    bool         `json:"needed"`
	Threshold int          `json:"threshold"`
	Areas     []AreaStats  `json:"areas"`
	CheckedAt time.Time    `json:"checked_at"`
}

type DistributionResponse struct {
	Count        int          `json:"count"`
	Distribution []AreaCount  `json:"distribution"`
	Estimate     CostEstimate `json:"estimate"`
}
