package domain

import "time"

// AgentState — состояние агента в жизненном цикле оркестратора.
// Граф допустимых переходов живет в пакете lifecycle.
type AgentState string

const (
	StateRequested       AgentState = "REQUESTED"        // Заявка принята
	StatePlanningInitial AgentState = "PLANNING_INITIAL" // Черновой план (LLM)
	StatePlanningDetail  AgentState = "PLANNING_DETAILED"
	StateSecurityDefined AgentState = "SECURITY_DEFINED"
	StateWaitingApproval AgentState = "WAITING_APPROVAL" // Ждем решения оператора (HITL)
	StateGenerating      AgentState = "GENERATING"       // Кодогенерация
	StateValidating      AgentState = "VALIDATING"
	StateDeploying       AgentState = "DEPLOYING"
	StateActive          AgentState = "ACTIVE" // Процесс/контейнер работает, мониторинг включен
	StatePaused          AgentState = "PAUSED"
	StateFailed          AgentState = "FAILED"
	StateDeleted         AgentState = "DELETED" // Терминальное, выходов нет
)

// RiskLevel — ординальная классификация риска агента.
// Порядок важен: SAFE < MODERATE < SENSITIVE < CRITICAL.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskModerate
	RiskSensitive
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "SAFE"
	case RiskModerate:
		return "MODERATE"
	case RiskSensitive:
		return "SENSITIVE"
	case RiskCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// ParseRiskLevel возвращает уровень риска по строке из БД/API.
// Неизвестные значения трактуем как CRITICAL (Zero Trust).
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "SAFE":
		return RiskSafe
	case "MODERATE":
		return RiskModerate
	case "SENSITIVE":
		return RiskSensitive
	case "CRITICAL":
		return RiskCritical
	}
	return RiskCritical
}

// DeployTarget — куда разворачиваем агента.
type DeployTarget string

const (
	TargetLocalProcess DeployTarget = "local-process"
	TargetContainer    DeployTarget = "container"
)

type Agent struct {
	ID     string       `json:"id"`   // UUID
	Name   string       `json:"name"` // Уникальное человекочитаемое имя ("weather-bot")
	Goal   string       `json:"goal"` // Что агент должен делать (текст заявки)
	State  AgentState   `json:"state"`
	Risk   RiskLevel    `json:"risk_level"`
	Target DeployTarget `json:"deployment_target"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
