package domain

// DetailedPlan — контракт с внешним планировщиком (LLM).
// Оркестратор потребляет только стратегии деплоя и мониторинга;
// качество самого плана — вне нашей зоны ответственности.
type DetailedPlan struct {
	AgentID    string             `json:"agent_id"`
	Deployment DeploymentStrategy `json:"deployment_strategy"`
	Monitoring MonitoringStrategy `json:"monitoring_strategy"`
}

type DeploymentStrategy struct {
	Target         DeployTarget      `json:"target"`
	ResourceLimits ResourceLimits    `json:"resource_limits"`
	Environment    map[string]string `json:"environment_variables"`
}

// ResourceLimits — человекочитаемые лимиты из плана.
// Формат: память "<целое><m|g>" (MiB/GiB), CPU — десятичная доля ядра ("0.5").
type ResourceLimits struct {
	MemoryLimit string `json:"memory_limit,omitempty"`
	CPULimit    string `json:"cpu_limit,omitempty"`
}

type MonitoringStrategy struct {
	HealthCheckIntervalMs int              `json:"health_check_interval_ms"`
	MetricsToTrack        []string         `json:"metrics_to_track"`
	AlertConditions       []AlertCondition `json:"alert_conditions"`
}

// AlertComparator — оператор сравнения метрики с порогом
type AlertComparator string

const (
	CmpGT  AlertComparator = ">"
	CmpLT  AlertComparator = "<"
	CmpGTE AlertComparator = ">="
	CmpLTE AlertComparator = "<="
	CmpEQ  AlertComparator = "=="
	CmpNEQ AlertComparator = "!="
)

// AlertAction — что делать при сработке условия
type AlertAction string

const (
	ActionNotify   AlertAction = "notify"
	ActionRestart  AlertAction = "restart"
	ActionPause    AlertAction = "pause"
	ActionEscalate AlertAction = "escalate"
)

type AlertCondition struct {
	Metric     string          `json:"metric"`
	Threshold  float64         `json:"threshold"`
	Comparator AlertComparator `json:"comparator"`
	Action     AlertAction     `json:"action"`
}
