package pool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/models"
)

// MaxGenerationCount caps a single admin-triggered run.
const MaxGenerationCount = 500

// Handler serves the admin generation and pool endpoints. Runs it starts
// outlive the request; they are bound to the server context instead.
type Handler struct {
	manager *Manager
	baseCtx context.Context
	logger  *logging.Logger
}

func NewHandler(ctx context.Context, manager *Manager, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{manager: manager, baseCtx: ctx, logger: logger}
}

func (h *Handler) RegisterRoutes(protected *mux.Router) {
	protected.HandleFunc("/generation/start", h.StartGeneration).Methods("POST")
	protected.HandleFunc("/generation/progress", h.GetProgress).Methods("GET")
	protected.HandleFunc("/generation/cancel", h.CancelGeneration).Methods("POST")
	protected.HandleFunc("/pool/stats", h.GetStats).Methods("GET")
	protected.HandleFunc("/pool/distribution", h.GetDistribution).Methods("GET")
	protected.HandleFunc("/pool/replenish", h.Replenish).Methods("POST")
}

type startResponse struct {
	RunID        string              `json:"run_id"`
	Total        int                 `json:"total"`
	Distribution []models.AreaCount  `json:"distribution"`
	Estimate     models.CostEstimate `json:"estimate"`
}

func (h *Handler) StartGeneration(w http.ResponseWriter, r *http.Request) {
	var req models.StartGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.Count < 1 || req.Count > MaxGenerationCount {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "count must be between 1 and 500"})
		return
	}

	cfg := h.manager.Config()
	plan := Distribution(req.Count, cfg.Weights)
	if req.Area != "" {
		area, err := models.ParseContentArea(req.Area)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		plan = SingleArea(area, req.Count)
	}

	p, err := h.manager.Begin(req.SkipDedup)
	if errors.Is(err, ErrRunInProgress) {
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "A generation run is already in progress"})
		return
	}
	p.Plan(plan)

	go h.runGeneration(plan, req.SkipDedup, p)

	writeJSON(w, http.StatusAccepted, startResponse{
		RunID:        p.RunID(),
		Total:        req.Count,
		Distribution: plan,
		Estimate:     EstimateCost(req.Count, cfg.GenerationBatchSize, req.SkipDedup, cfg.Pricing),
	})
}

func (h *Handler) runGeneration(plan []models.AreaCount, skipDedup bool, p *Progress) {
	defer h.manager.End(p)
	ctx := logging.WithRunID(h.baseCtx, p.RunID())

	h.logger.Info(ctx, "admin generation started",
		zap.Int("total", planTotal(plan)), zap.Bool("skip_dedup", skipDedup))

	generated := 0
	for _, o := range h.manager.RunPlan(ctx, plan, skipDedup, p) {
		generated += o.Persisted
		if o.Err != nil {
			h.logger.Warn(ctx, "area finished with error", zap.String("area", string(o.Area)), zap.Error(o.Err))
		}
	}
	p.SetState(StateDone)

	h.logger.Info(ctx, "admin generation finished",
		zap.Int("generated", generated), zap.Bool("cancelled", p.CancelRequested()))
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	p := h.manager.Current()
	if p == nil {
		writeJSON(w, http.StatusOK, ProgressSnapshot{State: StateIdle, Areas: []AreaProgress{}})
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (h *Handler) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	p := h.manager.Current()
	if p == nil || p.Complete() {
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "No generation run in progress"})
		return
	}
	p.RequestCancel()
	h.logger.Info(r.Context(), "generation cancel requested", zap.String("run_id", p.RunID()))
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": p.RunID(), "status": "cancelling"})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats(r.Context())
	if err != nil {
		h.logger.Error(r.Context(), "pool stats failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get pool stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	cfg := h.manager.Config()
	count := cfg.BatchSize
	if s := r.URL.Query().Get("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > MaxGenerationCount {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "count must be between 0 and 500"})
			return
		}
		count = n
	}
	skipDedup := r.URL.Query().Get("skip_dedup") == "true"

	writeJSON(w, http.StatusOK, models.DistributionResponse{
		Count:        count,
		Distribution: Distribution(count, cfg.Weights),
		Estimate:     EstimateCost(count, cfg.GenerationBatchSize, skipDedup, cfg.Pricing),
	})
}

// Replenish starts an out-of-schedule pool check. It returns as soon as the
// run is claimed; progress is polled like any other run.
func (h *Handler) Replenish(w http.ResponseWriter, r *http.Request) {
	p, err := h.manager.Begin(false)
	if errors.Is(err, ErrRunInProgress) {
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "A generation run is already in progress"})
		return
	}

	go func() {
		defer h.manager.End(p)
		if _, err := h.manager.Replenish(h.baseCtx, p); err != nil {
			h.logger.Error(h.baseCtx, "manual replenishment failed", zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": p.RunID(), "status": "started"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
