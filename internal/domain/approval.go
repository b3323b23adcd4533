package domain

import "time"

// Статусы State Machine заявки на подтверждение
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	// ApprovalTimeout — дедлайн ожидания вышел, трактуем как неявный отказ
	ApprovalTimeout ApprovalStatus = "TIMEOUT"
)

// ApprovalType — этап жизненного цикла, требующий решения оператора
type ApprovalType string

const (
	ApprovalInitialPlan   ApprovalType = "INITIAL_PLAN"
	ApprovalDetailedPlan  ApprovalType = "DETAILED_PLAN"
	ApprovalSecurityRules ApprovalType = "SECURITY_RULES"
	ApprovalDeployment    ApprovalType = "DEPLOYMENT"
	ApprovalModification  ApprovalType = "MODIFICATION"
	ApprovalDeletion      ApprovalType = "DELETION"
)

type ApprovalRequest struct {
	ID      string         `json:"id"`
	AgentID string         `json:"agent_id"`
	Type    ApprovalType   `json:"approval_type"`
	Details string         `json:"details"` // Что именно оператор подтверждает
	Status  ApprovalStatus `json:"status"`

	// Кто и с каким комментарием принял решение
	Approver *string `json:"approver,omitempty"`
	Notes    *string `json:"notes,omitempty"`

	RequestedAt time.Time  `json:"requested_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// IsResolved — заявка покинула PENDING ровно один раз и больше не меняется
func (a *ApprovalRequest) IsResolved() bool {
	return a.Status != ApprovalPending
}

// CanTransitionTo проверяет правила конечного автомата заявки
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != ApprovalPending {
		return ErrAlreadyProcessed
	}
	if next == ApprovalPending {
		return ErrInvalidTransition
	}
	return nil
}
