package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
)

func TestClassifyGoal(t *testing.T) {
	cases := []struct {
		goal string
		want domain.RiskLevel
	}{
		{"Summarize daily standup notes", domain.RiskSafe},
		{"Fetch weather forecasts from an external API", domain.RiskModerate},
		{"Download exchange rates over the network", domain.RiskModerate},
		{"Write summaries into the reports database", domain.RiskSensitive},
		{"Send weekly email digests", domain.RiskSensitive},
		{"Delete stale records from production", domain.RiskCritical},
		{"Automate payment reconciliation", domain.RiskCritical},
		{"Rotate service credentials", domain.RiskCritical},
		// Регистр не важен
		{"DELETE EVERYTHING", domain.RiskCritical},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, classifyGoal(c.goal), "goal %q", c.goal)
	}
}

func TestAssessRaisesDeclaredRisk(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())

	agent := &domain.Agent{
		ID:   "a1",
		Goal: "Delete old backups from production storage",
		Risk: domain.RiskSafe,
	}
	assert.Equal(t, domain.RiskCritical, a.Assess(agent))
}

func TestAssessNeverLowersDeclaredRisk(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())

	// Безобидная цель, но оператор заявил CRITICAL — верим оператору
	agent := &domain.Agent{
		ID:   "a1",
		Goal: "Summarize meeting notes",
		Risk: domain.RiskCritical,
	}
	assert.Equal(t, domain.RiskCritical, a.Assess(agent))
}

func TestAssessKeepsMatchingLevel(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())

	agent := &domain.Agent{
		ID:   "a1",
		Goal: "Fetch currency rates from an api",
		Risk: domain.RiskModerate,
	}
	assert.Equal(t, domain.RiskModerate, a.Assess(agent))
}
