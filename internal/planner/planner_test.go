package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
)

func testAgent(target domain.DeployTarget, risk domain.RiskLevel) *domain.Agent {
	return &domain.Agent{
		ID:     "a1",
		Name:   "weather-bot",
		Goal:   "fetch weather forecasts",
		Risk:   risk,
		Target: target,
	}
}

func TestBuildInitialPlan(t *testing.T) {
	p := NewStatic(zap.NewNop())

	summary, err := p.BuildInitialPlan(context.Background(), testAgent(domain.TargetLocalProcess, domain.RiskSafe))
	require.NoError(t, err)
	assert.Contains(t, summary, "weather")
	assert.Contains(t, summary, "local-process")
}

func TestBuildInitialPlanEmptyGoal(t *testing.T) {
	p := NewStatic(zap.NewNop())
	agent := testAgent(domain.TargetLocalProcess, domain.RiskSafe)
	agent.Goal = ""

	_, err := p.BuildInitialPlan(context.Background(), agent)
	assert.Error(t, err)
}

func TestBuildDetailedPlanContainerDefaults(t *testing.T) {
	p := NewStatic(zap.NewNop())

	plan, err := p.BuildDetailedPlan(context.Background(), testAgent(domain.TargetContainer, domain.RiskSafe))
	require.NoError(t, err)

	assert.Equal(t, "a1", plan.AgentID)
	assert.Equal(t, domain.TargetContainer, plan.Deployment.Target)
	assert.Equal(t, "512m", plan.Deployment.ResourceLimits.MemoryLimit)
	assert.Equal(t, "0.5", plan.Deployment.ResourceLimits.CPULimit)
	assert.Equal(t, "weather-bot", plan.Deployment.Environment["AGENT_NAME"])

	assert.Equal(t, defaultHealthIntervalMs, plan.Monitoring.HealthCheckIntervalMs)
	assert.ElementsMatch(t, []string{"error_count", "running"}, plan.Monitoring.MetricsToTrack)
	require.Len(t, plan.Monitoring.AlertConditions, 1)
	assert.Equal(t, domain.ActionNotify, plan.Monitoring.AlertConditions[0].Action)
}

func TestBuildDetailedPlanLocalHasNoLimits(t *testing.T) {
	p := NewStatic(zap.NewNop())

	plan, err := p.BuildDetailedPlan(context.Background(), testAgent(domain.TargetLocalProcess, domain.RiskSafe))
	require.NoError(t, err)
	assert.Empty(t, plan.Deployment.ResourceLimits.MemoryLimit)
	assert.Empty(t, plan.Deployment.ResourceLimits.CPULimit)
}

func TestBuildDetailedPlanSensitiveEscalates(t *testing.T) {
	p := NewStatic(zap.NewNop())

	plan, err := p.BuildDetailedPlan(context.Background(), testAgent(domain.TargetLocalProcess, domain.RiskSensitive))
	require.NoError(t, err)
	require.Len(t, plan.Monitoring.AlertConditions, 2)

	esc := plan.Monitoring.AlertConditions[1]
	assert.Equal(t, "running", esc.Metric)
	assert.Equal(t, domain.CmpLT, esc.Comparator)
	assert.Equal(t, domain.ActionEscalate, esc.Action)
}

func TestGenerateWritesSources(t *testing.T) {
	workspace := t.TempDir()
	g := NewGenerator(workspace, zap.NewNop())
	p := NewStatic(zap.NewNop())
	ctx := context.Background()

	agent := testAgent(domain.TargetLocalProcess, domain.RiskSafe)
	plan, err := p.BuildDetailedPlan(ctx, agent)
	require.NoError(t, err)
	require.NoError(t, g.Generate(ctx, agent, plan))

	dir := filepath.Join(workspace, "weather-bot")
	assert.FileExists(t, filepath.Join(dir, "main.go"))
	assert.FileExists(t, filepath.Join(dir, "go.mod"))
	assert.NoFileExists(t, filepath.Join(dir, "Dockerfile"), "local target needs no Dockerfile")

	goMod, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	require.NoError(t, err)
	assert.Contains(t, string(goMod), "module weather-bot")
}

func TestGenerateContainerIncludesDockerfile(t *testing.T) {
	workspace := t.TempDir()
	g := NewGenerator(workspace, zap.NewNop())
	p := NewStatic(zap.NewNop())
	ctx := context.Background()

	agent := testAgent(domain.TargetContainer, domain.RiskSafe)
	plan, err := p.BuildDetailedPlan(ctx, agent)
	require.NoError(t, err)
	require.NoError(t, g.Generate(ctx, agent, plan))

	assert.FileExists(t, filepath.Join(workspace, "weather-bot", "Dockerfile"))
}

func TestValidatePassesGeneratedTree(t *testing.T) {
	workspace := t.TempDir()
	g := NewGenerator(workspace, zap.NewNop())
	v := NewValidator(workspace, zap.NewNop())
	p := NewStatic(zap.NewNop())
	ctx := context.Background()

	agent := testAgent(domain.TargetContainer, domain.RiskSafe)
	plan, err := p.BuildDetailedPlan(ctx, agent)
	require.NoError(t, err)
	require.NoError(t, g.Generate(ctx, agent, plan))

	assert.Empty(t, v.Validate(ctx, agent, plan))
}

func TestValidateCatchesMissingFile(t *testing.T) {
	workspace := t.TempDir()
	g := NewGenerator(workspace, zap.NewNop())
	v := NewValidator(workspace, zap.NewNop())
	p := NewStatic(zap.NewNop())
	ctx := context.Background()

	agent := testAgent(domain.TargetLocalProcess, domain.RiskSafe)
	plan, err := p.BuildDetailedPlan(ctx, agent)
	require.NoError(t, err)
	require.NoError(t, g.Generate(ctx, agent, plan))

	require.NoError(t, os.Remove(filepath.Join(workspace, "weather-bot", "go.mod")))

	issues := v.Validate(ctx, agent, plan)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "missing go.mod")
}

func TestValidateCatchesSyntaxError(t *testing.T) {
	workspace := t.TempDir()
	g := NewGenerator(workspace, zap.NewNop())
	v := NewValidator(workspace, zap.NewNop())
	p := NewStatic(zap.NewNop())
	ctx := context.Background()

	agent := testAgent(domain.TargetLocalProcess, domain.RiskSafe)
	plan, err := p.BuildDetailedPlan(ctx, agent)
	require.NoError(t, err)
	require.NoError(t, g.Generate(ctx, agent, plan))

	broken := filepath.Join(workspace, "weather-bot", "main.go")
	require.NoError(t, os.WriteFile(broken, []byte("package main\n\nfunc main( {"), 0o644))

	issues := v.Validate(ctx, agent, plan)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], "syntax error in main.go")
}

func TestValidateMissingTree(t *testing.T) {
	workspace := t.TempDir()
	v := NewValidator(workspace, zap.NewNop())
	p := NewStatic(zap.NewNop())
	ctx := context.Background()

	agent := testAgent(domain.TargetLocalProcess, domain.RiskSafe)
	plan, err := p.BuildDetailedPlan(ctx, agent)
	require.NoError(t, err)

	issues := v.Validate(ctx, agent, plan)
	assert.GreaterOrEqual(t, len(issues), 2, "every required file plus the unreadable dir")
}

func TestGeneratedAgentSourceParses(t *testing.T) {
	workspace := t.TempDir()
	g := NewGenerator(workspace, zap.NewNop())
	p := NewStatic(zap.NewNop())
	ctx := context.Background()

	// Repair loop: повторная генерация перезаписывает испорченное дерево
	agent := testAgent(domain.TargetLocalProcess, domain.RiskSafe)
	plan, err := p.BuildDetailedPlan(ctx, agent)
	require.NoError(t, err)
	require.NoError(t, g.Generate(ctx, agent, plan))

	broken := filepath.Join(workspace, "weather-bot", "main.go")
	require.NoError(t, os.WriteFile(broken, []byte("garbage"), 0o644))
	require.NoError(t, g.Generate(ctx, agent, plan))

	v := NewValidator(workspace, zap.NewNop())
	assert.Empty(t, v.Validate(ctx, agent, plan))
}
