package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/audit"
	"github.com/20SB/saba/internal/domain"
)

// transitions — закрытый граф допустимых переходов.
// Статическая мапа по закрытому типу: тест на полноту ловит забытые состояния.
var transitions = map[domain.AgentState][]domain.AgentState{
	domain.StateRequested:       {domain.StatePlanningInitial, domain.StateFailed, domain.StateDeleted},
	domain.StatePlanningInitial: {domain.StatePlanningDetail, domain.StateFailed, domain.StateDeleted},
	domain.StatePlanningDetail:  {domain.StateSecurityDefined, domain.StateFailed, domain.StateDeleted},
	domain.StateSecurityDefined: {domain.StateWaitingApproval, domain.StateGenerating, domain.StateFailed, domain.StateDeleted},
	// Отказ оператора возвращает на детальное планирование; отмена допустима прямо из очереди
	domain.StateWaitingApproval: {domain.StateGenerating, domain.StatePlanningDetail, domain.StateFailed, domain.StateDeleted},
	// Self-loop: восстановление после сбоя генерации заново входит в GENERATING
	domain.StateGenerating: {domain.StateGenerating, domain.StateValidating, domain.StateFailed, domain.StateDeleted},
	// Repair loop: валидация может вернуть на регенерацию
	domain.StateValidating: {domain.StateDeploying, domain.StateGenerating, domain.StateFailed},
	// Self-loop: редеплой после сбоя деплоя
	domain.StateDeploying: {domain.StateDeploying, domain.StateActive, domain.StateFailed, domain.StateDeleted},
	domain.StateActive:     {domain.StatePaused, domain.StateDeleted, domain.StateFailed},
	domain.StatePaused:     {domain.StateActive, domain.StateDeleted, domain.StateFailed},
	// Retry или отказ от агента
	domain.StateFailed: {domain.StateRequested, domain.StateGenerating, domain.StateDeleted},
	// Терминальное: выходов нет
	domain.StateDeleted: {},
}

// progress — монотонный маппинг состояния в проценты для внешней отчетности
var progress = map[domain.AgentState]int{
	domain.StateRequested:       0,
	domain.StatePlanningInitial: 10,
	domain.StatePlanningDetail:  20,
	domain.StateSecurityDefined: 30,
	domain.StateWaitingApproval: 40,
	domain.StateGenerating:      55,
	domain.StateValidating:      70,
	domain.StateDeploying:       85,
	domain.StateActive:          100,
	domain.StatePaused:          100,
	domain.StateFailed:          0,
	domain.StateDeleted:         100,
}

// Подписи для внешней отчетности — на английском, как и все runtime-строки
var descriptions = map[domain.AgentState]string{
	domain.StateRequested:       "Request accepted",
	domain.StatePlanningInitial: "Building initial plan",
	domain.StatePlanningDetail:  "Building detailed plan",
	domain.StateSecurityDefined: "Security rules defined",
	domain.StateWaitingApproval: "Waiting for operator approval",
	domain.StateGenerating:      "Generating sources",
	domain.StateValidating:      "Validating generated code",
	domain.StateDeploying:       "Deploying",
	domain.StateActive:          "Running",
	domain.StatePaused:          "Paused",
	domain.StateFailed:          "Failed",
	domain.StateDeleted:         "Deleted",
}

// AgentStore — узкий контракт к персистенции, нужный State Machine
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	UpdateAgentState(ctx context.Context, id string, state domain.AgentState) error
}

// StateMachine валидирует и персистит переходы состояний агентов.
// Переход — это read-then-write без CAS: два конкурентных вызова по одному
// агенту могут потерять одно обновление. Воркфлоу обязан слать не больше
// одного перехода на агента одновременно (документированный пробел).
type StateMachine struct {
	store    AgentStore
	recorder audit.Recorder
	logger   *zap.Logger
}

func NewStateMachine(store AgentStore, recorder audit.Recorder, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		store:    store,
		recorder: recorder,
		logger:   logger.With(zap.String("mod", "statemachine")),
	}
}

// IsValidTransition — чистая проверка ребра по таблице
func IsValidTransition(from, to domain.AgentState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal — у терминального состояния нет исходящих ребер
func IsTerminal(state domain.AgentState) bool {
	return len(transitions[state]) == 0
}

// ValidNextStates возвращает копию списка допустимых следующих состояний
func ValidNextStates(from domain.AgentState) []domain.AgentState {
	next := transitions[from]
	out := make([]domain.AgentState, len(next))
	copy(out, next)
	return out
}

// ProgressPercent — монотонный 0–100 для статус-отчетов
func ProgressPercent(state domain.AgentState) int {
	return progress[state]
}

// Description — человекочитаемая подпись состояния
func Description(state domain.AgentState) string {
	if d, ok := descriptions[state]; ok {
		return d
	}
	return string(state)
}

// Transition переводит агента в новое состояние.
// Невалидное ребро или неизвестный агент — лог + false, без паник и исключений.
func (m *StateMachine) Transition(ctx context.Context, agentID string, to domain.AgentState, reason string) bool {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		m.logger.Warn("transition rejected: unknown agent",
			zap.String("agent_id", agentID),
			zap.String("to", string(to)),
			zap.Error(err))
		return false
	}

	if !IsValidTransition(agent.State, to) {
		m.logger.Warn("transition rejected: invalid edge",
			zap.String("agent_id", agentID),
			zap.String("from", string(agent.State)),
			zap.String("to", string(to)),
			zap.String("reason", reason))
		return false
	}

	return m.commit(ctx, agent, to, reason)
}

// TransitionToFailed разрешен из любого нетерминального состояния.
// FAILED всегда достижим и всегда несет причину.
func (m *StateMachine) TransitionToFailed(ctx context.Context, agentID, reason string, cause error) bool {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		m.logger.Warn("fail-transition rejected: unknown agent", zap.String("agent_id", agentID), zap.Error(err))
		return false
	}
	if IsTerminal(agent.State) {
		m.logger.Warn("fail-transition rejected: agent already terminal", zap.String("agent_id", agentID))
		return false
	}

	if cause != nil {
		reason = fmt.Sprintf("%s: %v", reason, cause)
	}
	return m.commit(ctx, agent, domain.StateFailed, reason)
}

func (m *StateMachine) commit(ctx context.Context, agent *domain.Agent, to domain.AgentState, reason string) bool {
	if err := m.store.UpdateAgentState(ctx, agent.ID, to); err != nil {
		m.logger.Error("failed to persist transition",
			zap.String("agent_id", agent.ID),
			zap.String("to", string(to)),
			zap.Error(err))
		return false
	}

	// Асинхронный audit trail, не тормозит переход
	m.recorder.Record(audit.TransitionEvent{
		ID:      uuid.New().String(),
		AgentID: agent.ID,
		From:    string(agent.State),
		To:      string(to),
		Reason:  reason,
	})

	m.logger.Info("state transition",
		zap.String("agent_id", agent.ID),
		zap.String("from", string(agent.State)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	return true
}
