package domain

import "time"

// HealthStatus — классификация результата одной проверки
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	// HealthUnknown — только если запись о деплое вообще отсутствует
	HealthUnknown HealthStatus = "unknown"
)

type HealthCheckResult struct {
	Timestamp time.Time    `json:"timestamp"`
	Status    HealthStatus `json:"status"`
	Issues    []string     `json:"issues,omitempty"`

	// Metrics всегда содержит как минимум error_count
	Metrics map[string]float64 `json:"metrics"`
}
