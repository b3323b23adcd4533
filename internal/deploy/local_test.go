package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/infra"
)

func newLocalManager(t *testing.T, store Store, grace time.Duration) *Manager {
	cfg := infra.DeployConfig{
		Workspace:      t.TempDir(),
		InstallTimeout: 5 * time.Second,
		BuildTimeout:   5 * time.Second,
		StartupGrace:   grace,
		RestartDelay:   time.Millisecond,
	}
	m := NewManager(store, nil, cfg, zap.NewNop())
	// Реальные install/build шаги здесь ни к чему — подменяем на no-op
	m.installCmd = "true"
	m.buildCmd = "true"
	return m
}

// writeEntryPoint кладет исполняемый bin/agent в дерево исходников агента
func writeEntryPoint(t *testing.T, m *Manager, agentName, script string) {
	t.Helper()
	dir := m.sourceDir(agentName)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, entryPoint), []byte(script), 0o755))
}

func localStrategy() domain.DeploymentStrategy {
	return domain.DeploymentStrategy{Target: domain.TargetLocalProcess}
}

func TestDeployLocalHappyPath(t *testing.T) {
	store := newFakeDeployStore(&domain.Agent{ID: "a1", Name: "digest-bot"})
	m := newLocalManager(t, store, 50*time.Millisecond)
	writeEntryPoint(t, m, "digest-bot", "#!/bin/sh\nexec sleep 60\n")

	res := m.DeployAgent(context.Background(), "a1", localStrategy())
	require.True(t, res.Success, res.Error)
	assert.Greater(t, res.ProcessID, 0)

	rec, err := store.GetDeployment(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.TargetLocalProcess, rec.Target)
	assert.Equal(t, strconv.Itoa(res.ProcessID), rec.Handle)
	assert.Equal(t, domain.DeployRunning, rec.Status)

	running, err := m.IsAgentRunning(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, running)

	stop := m.StopAgent(context.Background(), "a1")
	require.True(t, stop.Success, stop.Error)
	assert.Equal(t, []domain.DeploymentStatus{domain.DeployStopped}, store.statuses)

	// Handle убран из таблицы — живость после stop равна false
	running, err = m.IsAgentRunning(context.Background(), "a1")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestDeployLocalProcessDiesInGraceWindow(t *testing.T) {
	store := newFakeDeployStore(&domain.Agent{ID: "a1", Name: "digest-bot"})
	m := newLocalManager(t, store, 200*time.Millisecond)
	writeEntryPoint(t, m, "digest-bot", "#!/bin/sh\nexit 1\n")

	res := m.DeployAgent(context.Background(), "a1", localStrategy())
	assert.False(t, res.Success)
	assert.Equal(t, "Process failed to start", res.Error)

	// Ни записи о деплое, ни висящего handle после мгновенного падения
	_, err := store.GetDeployment(context.Background(), "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, ok := m.processes.get("a1")
	assert.False(t, ok)
}

func TestDeployLocalMissingEntryPoint(t *testing.T) {
	store := newFakeDeployStore(&domain.Agent{ID: "a1", Name: "digest-bot"})
	m := newLocalManager(t, store, 50*time.Millisecond)
	require.NoError(t, os.MkdirAll(m.sourceDir("digest-bot"), 0o755))

	res := m.DeployAgent(context.Background(), "a1", localStrategy())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "failed to spawn process")
}

func TestRunStepTimeout(t *testing.T) {
	m := newLocalManager(t, newFakeDeployStore(), time.Millisecond)
	err := m.runStep(context.Background(), t.TempDir(), "sleep 1", 30*time.Millisecond, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "sleep 1" timed out after`)
}

func TestRunStepFailureCarriesOutput(t *testing.T) {
	m := newLocalManager(t, newFakeDeployStore(), time.Millisecond)
	err := m.runStep(context.Background(), t.TempDir(), "ls definitely-absent-entry", 5*time.Second, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "ls definitely-absent-entry" failed`)
}
