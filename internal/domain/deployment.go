package domain

import "time"

// DeploymentStatus — состояние активного деплоя агента
type DeploymentStatus string

const (
	DeployRunning DeploymentStatus = "running"
	DeployStopped DeploymentStatus = "stopped"
	DeployFailed  DeploymentStatus = "failed"
)

// DeploymentRecord — запись об активном деплое.
// Инвариант: не более одной активной записи на agent_id (уникальный индекс в БД).
type DeploymentRecord struct {
	AgentID string       `json:"agent_id"`
	Target  DeployTarget `json:"target"`

	// Handle — PID для локального процесса или container id для Docker.
	// Для локального процесса после рестарта оркестратора handle бесполезен:
	// живой os.Process мы не персистим (известный пробел, см. DESIGN.md).
	Handle string `json:"handle"`

	Status     DeploymentStatus `json:"status"`
	DeployedAt time.Time        `json:"deployed_at"`
}

// DeployResult — структурированный результат операции деплоя.
// Компонент деплоя никогда не пробрасывает панику/исключение наружу:
// любой сбой превращается в Success=false + диагностика.
type DeployResult struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ProcessID   int    `json:"process_id,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
}

// FailureClass — символьная метка этапа, породившего сбой.
// По ней RecoveryEngine выбирает стратегию восстановления.
type FailureClass string

const (
	FailureGeneration FailureClass = "generation_failure"
	FailureValidation FailureClass = "validation_failure"
	FailureDeployment FailureClass = "deployment_failure"
	FailureRuntime    FailureClass = "runtime_crash"
)
