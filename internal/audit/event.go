package audit

import "time"

// TransitionEvent — запись о переходе состояния агента.
// Потребляется персистенцией и консолью как audit trail жизненного цикла.
type TransitionEvent struct {
	ID         string    `json:"id"`       // UUID события
	AgentID    string    `json:"agent_id"` // Чье состояние менялось
	From       string    `json:"from_state"`
	To         string    `json:"to_state"`
	Reason     string    `json:"reason"` // Почему (текст для оператора)
	OccurredAt time.Time `json:"occurred_at"`
}
