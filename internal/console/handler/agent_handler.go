package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/20SB/saba/internal/console/service"
	"github.com/20SB/saba/internal/domain"
)

// AgentCommander Описываем, что нам нужно от сервиса
type AgentCommander interface {
	CreateAgent(ctx context.Context, req service.CreateAgentRequest, issuedBy string) (string, error)
	StopAgent(ctx context.Context, agentID, issuedBy string) (string, error)
	StartAgent(ctx context.Context, agentID, issuedBy string) (string, error)
	DeleteAgent(ctx context.Context, agentID, issuedBy string) (string, error)
	GetAgent(ctx context.Context, agentID string) (*domain.AgentView, error)
	ListAgents(ctx context.Context) ([]*domain.AgentView, error)
}

type AgentHandler struct {
	service AgentCommander
}

func NewAgentHandler(s AgentCommander) *AgentHandler {
	return &AgentHandler{service: s}
}

// commandAccepted — стандартный ответ на асинхронную команду
type commandAccepted struct {
	CommandID string `json:"command_id"`
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.ListAgents(r.Context())
	if err != nil {
		http.Error(w, "Failed to list agents", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agents)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	agent, err := h.service.GetAgent(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agent)
}

// Create принимает заявку и отвечает 202: сам жизненный цикл
// агента идет асинхронно на стороне оркестратора.
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cmdID, err := h.service.CreateAgent(r.Context(), req, operatorID(r))
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "already exists") {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(commandAccepted{CommandID: cmdID})
}

func (h *AgentHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.StopAgent)
}

func (h *AgentHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.StartAgent)
}

func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.DeleteAgent)
}

func (h *AgentHandler) lifecycle(
	w http.ResponseWriter,
	r *http.Request,
	cmd func(ctx context.Context, agentID, issuedBy string) (string, error),
) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "agent id is required", http.StatusBadRequest)
		return
	}

	cmdID, err := cmd(r.Context(), id, operatorID(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(commandAccepted{CommandID: cmdID})
}

// operatorID достает user_id авторизованного админа из контекста
func operatorID(r *http.Request) string {
	if v, ok := r.Context().Value("user_id").(string); ok {
		return v
	}
	return ""
}
