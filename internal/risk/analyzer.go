package risk

import (
	"strings"

	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
)

// Ключевые слова в цели агента, поднимающие уровень риска.
// Матчинг по подстроке после приведения к нижнему регистру.
var keywordLevels = map[domain.RiskLevel][]string{
	domain.RiskCritical: {
		"delete", "payment", "transfer", "credential", "secret",
		"password", "production", "prod ",
	},
	domain.RiskSensitive: {
		"write", "database", "deploy", "email", "send", "modify",
		"user data", "personal",
	},
	domain.RiskModerate: {
		"fetch", "download", "network", "api", "external",
	},
}

// Analyzer оценивает риск агента по тексту заявки. Оператор может заявить
// любой уровень, но анализатор умеет только поднимать его, не опускать:
// заявленный SAFE с целью "delete production data" станет CRITICAL.
type Analyzer struct {
	logger *zap.Logger
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("risk-analyzer")}
}

// Assess возвращает эффективный уровень риска агента.
func (a *Analyzer) Assess(agent *domain.Agent) domain.RiskLevel {
	assessed := classifyGoal(agent.Goal)
	if assessed <= agent.Risk {
		return agent.Risk
	}

	a.logger.Warn("declared risk raised by goal analysis",
		zap.String("agent_id", agent.ID),
		zap.String("declared", agent.Risk.String()),
		zap.String("assessed", assessed.String()))
	return assessed
}

func classifyGoal(goal string) domain.RiskLevel {
	lowered := strings.ToLower(goal)

	for _, level := range []domain.RiskLevel{domain.RiskCritical, domain.RiskSensitive, domain.RiskModerate} {
		for _, kw := range keywordLevels[level] {
			if strings.Contains(lowered, kw) {
				return level
			}
		}
	}
	return domain.RiskSafe
}
