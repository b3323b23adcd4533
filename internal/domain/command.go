package domain

import "time"

// CommandType — тип команды администратора.
// Вместо callback-проводки между консолью и воркфлоу используем
// явные типизированные сообщения в одном упорядоченном канале.
type CommandType string

const (
	CmdCreateAgent      CommandType = "CreateAgent"
	CmdStopAgent        CommandType = "StopAgent"
	CmdStartAgent       CommandType = "StartAgent"
	CmdDeleteAgent      CommandType = "DeleteAgent"
	CmdApprovalResponse CommandType = "ApprovalResponse"
)

// Command — JSON-конверт, который консоль публикует в Redis,
// а диспетчер оркестратора вычитывает в единственном цикле обработки.
type Command struct {
	ID       string      `json:"id"` // UUID для трассировки
	Type     CommandType `json:"type"`
	IssuedBy string      `json:"issued_by"` // user_id оператора
	IssuedAt time.Time   `json:"issued_at"`

	// CreateAgent
	AgentName string `json:"agent_name,omitempty"`
	Goal      string `json:"goal,omitempty"`
	Risk      string `json:"risk_level,omitempty"`
	Target    string `json:"target,omitempty"`

	// Stop/Start/Delete
	AgentID string `json:"agent_id,omitempty"`

	// ApprovalResponse
	ApprovalID string `json:"approval_id,omitempty"`
	Approved   bool   `json:"approved,omitempty"`
	Notes      string `json:"notes,omitempty"`
}
