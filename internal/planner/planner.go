package planner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
)

// Дефолты стратегии деплоя для контейнеров. Локальный процесс лимитов
// не получает: ограничивать его некому.
const (
	defaultMemoryLimit = "512m"
	defaultCPULimit    = "0.5"

	defaultHealthIntervalMs = 30000
	defaultErrorThreshold   = 5.0
)

// Static — детерминированный планировщик. Занимает место внешнего
// LLM-планировщика: строит один и тот же шаблонный план из заявки,
// без обращения к сети. Контракт (DetailedPlan) при замене на LLM
// не меняется.
type Static struct {
	logger *zap.Logger
}

func NewStatic(logger *zap.Logger) *Static {
	return &Static{logger: logger.With(zap.String("mod", "planner"))}
}

// BuildInitialPlan — человекочитаемая сводка для оператора.
func (p *Static) BuildInitialPlan(ctx context.Context, agent *domain.Agent) (string, error) {
	if agent.Goal == "" {
		return "", fmt.Errorf("agent %s has empty goal", agent.ID)
	}
	summary := fmt.Sprintf("build a %s agent that will %s", agent.Target, agent.Goal)
	p.logger.Info("initial plan built",
		zap.String("agent_id", agent.ID),
		zap.String("summary", summary))
	return summary, nil
}

// BuildDetailedPlan строит стратегии деплоя и мониторинга из заявки.
func (p *Static) BuildDetailedPlan(ctx context.Context, agent *domain.Agent) (*domain.DetailedPlan, error) {
	plan := &domain.DetailedPlan{
		AgentID: agent.ID,
		Deployment: domain.DeploymentStrategy{
			Target: agent.Target,
			Environment: map[string]string{
				"AGENT_NAME": agent.Name,
				"AGENT_GOAL": agent.Goal,
			},
		},
		Monitoring: domain.MonitoringStrategy{
			HealthCheckIntervalMs: defaultHealthIntervalMs,
			MetricsToTrack:        []string{"error_count", "running"},
			AlertConditions: []domain.AlertCondition{
				{
					Metric:     "error_count",
					Threshold:  defaultErrorThreshold,
					Comparator: domain.CmpGT,
					Action:     domain.ActionNotify,
				},
			},
		},
	}

	if agent.Target == domain.TargetContainer {
		plan.Deployment.ResourceLimits = domain.ResourceLimits{
			MemoryLimit: defaultMemoryLimit,
			CPULimit:    defaultCPULimit,
		}
	}

	// Чувствительные агенты при провале health-чеков эскалируются
	// на оператора, а не молча перезапускаются
	if agent.Risk >= domain.RiskSensitive {
		plan.Monitoring.AlertConditions = append(plan.Monitoring.AlertConditions,
			domain.AlertCondition{
				Metric:     "running",
				Threshold:  1,
				Comparator: domain.CmpLT,
				Action:     domain.ActionEscalate,
			})
	}

	p.logger.Info("detailed plan built",
		zap.String("agent_id", agent.ID),
		zap.String("target", string(plan.Deployment.Target)))
	return plan, nil
}
