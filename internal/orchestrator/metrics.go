package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: команды консоли по типам
	CommandsTotal *prometheus.CounterVec

	// Деплои по цели и исходу
	DeploymentsTotal *prometheus.CounterVec

	// Health-чеки по агенту и статусу
	HealthChecksTotal *prometheus.CounterVec

	// Попытки восстановления по классу сбоя
	RecoveryAttemptsTotal *prometheus.CounterVec

	// Saturation: активные сессии мониторинга
	MonitorSessions prometheus.Gauge

	// Latency: сколько воркфлоу ждал решения оператора
	ApprovalWaitSeconds prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		CommandsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "saba_commands_total",
			Help: "Total number of operator commands processed by the dispatcher.",
		}, []string{"type"}),

		DeploymentsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "saba_deployments_total",
			Help: "Total number of deployment attempts by target and outcome.",
		}, []string{"target", "status"}),

		HealthChecksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "saba_health_checks_total",
			Help: "Total number of health checks by agent and resulting status.",
		}, []string{"agent_id", "status"}),

		RecoveryAttemptsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "saba_recovery_attempts_total",
			Help: "Total number of recovery attempts by failure class.",
		}, []string{"class"}),

		MonitorSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "saba_monitor_sessions",
			Help: "Current number of active monitoring sessions.",
		}),

		ApprovalWaitSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "saba_approval_wait_seconds",
			Help:    "Histogram of time spent waiting for operator approval.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}),
	}
}
