package domain

// GlobalStats — агрегаты для дашборда консоли
type GlobalStats struct {
	AgentsByState     map[string]int64 `json:"agents_by_state"`
	PendingApprovals  int64            `json:"pending_approvals"`
	ActiveDeployments int64            `json:"active_deployments"`
	FailedAgents      int64            `json:"failed_agents"`
}

// AgentView — агент + производные поля для внешней отчетности
type AgentView struct {
	Agent
	ProgressPercent  int    `json:"progress_percent"`
	StateDescription string `json:"state_description"`
}
