package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/20SB/saba/internal/console/service"
)

type TransitionHandler struct {
	service *service.TransitionService
}

func NewTransitionHandler(s *service.TransitionService) *TransitionHandler {
	return &TransitionHandler{service: s}
}

// GetTransitions возвращает журнал переходов состояний с фильтрацией
// GET /v1/transitions?agent_id=...&limit=...
func (h *TransitionHandler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.service.FetchTransitions(r.Context(), agentID, limit)
	if err != nil {
		http.Error(w, "Failed to fetch transitions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
