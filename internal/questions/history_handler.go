package questions

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/abaquiz/backend/internal/models"
)

// RegisterBotRoutes registers the delivery and answer endpoints the chat
// bot writes to. The pool health check reads what they record.
func (h *Handler) RegisterBotRoutes(bot *mux.Router) {
	bot.HandleFunc("/deliveries", h.RecordDelivery).Methods("POST")
	bot.HandleFunc("/answers", h.RecordAnswer).Methods("POST")
}

func (h *Handler) RecordDelivery(w http.ResponseWriter, r *http.Request) {
	var req models.RecordDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	sent, err := h.service.RecordDelivery(r.Context(), req)
	if err != nil {
		h.writeRecordError(w, r, "record delivery", err)
		return
	}

	writeJSON(w, http.StatusCreated, sent)
}

func (h *Handler) RecordAnswer(w http.ResponseWriter, r *http.Request) {
	var req models.RecordAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.service.RecordAnswer(r.Context(), req)
	if err != nil {
		h.writeRecordError(w, r, "record answer", err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) writeRecordError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Question not found"})
	default:
		h.logger.Error(r.Context(), op+" failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to " + op})
	}
}
