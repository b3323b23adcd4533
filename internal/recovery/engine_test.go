package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/notify"
)

type fakeStates struct {
	transitions []domain.AgentState
	failReasons []string
	allow       bool
}

func (s *fakeStates) Transition(_ context.Context, _ string, to domain.AgentState, _ string) bool {
	s.transitions = append(s.transitions, to)
	return s.allow
}

func (s *fakeStates) TransitionToFailed(_ context.Context, _ string, reason string, _ error) bool {
	s.failReasons = append(s.failReasons, reason)
	return true
}

type fakeDeploy struct {
	calls      []string
	restartOK  bool
	stopFailed bool
}

func (d *fakeDeploy) StopAgent(_ context.Context, _ string) domain.DeployResult {
	d.calls = append(d.calls, "stop")
	return domain.DeployResult{Success: !d.stopFailed}
}

func (d *fakeDeploy) RestartAgent(_ context.Context, _ string) domain.DeployResult {
	d.calls = append(d.calls, "restart")
	if !d.restartOK {
		return domain.DeployResult{Success: false, Error: "container exited"}
	}
	return domain.DeployResult{Success: true}
}

type fakeNamer struct{}

func (fakeNamer) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	return &domain.Agent{ID: id, Name: "agent-" + id}, nil
}

type recordingNotifier struct {
	kinds []notify.Kind
	texts []string
}

func (n *recordingNotifier) ApprovalRequested(_ context.Context, _, _, details string) {
	n.kinds = append(n.kinds, notify.KindApprovalRequest)
	n.texts = append(n.texts, details)
}
func (n *recordingNotifier) StatusUpdate(_ context.Context, _, text string) {
	n.kinds = append(n.kinds, notify.KindStatusUpdate)
	n.texts = append(n.texts, text)
}
func (n *recordingNotifier) Alert(_ context.Context, _, text string, _ notify.Severity) {
	n.kinds = append(n.kinds, notify.KindAlert)
	n.texts = append(n.texts, text)
}
func (n *recordingNotifier) Error(_ context.Context, _, text string) {
	n.kinds = append(n.kinds, notify.KindError)
	n.texts = append(n.texts, text)
}
func (n *recordingNotifier) Success(_ context.Context, _, text string) {
	n.kinds = append(n.kinds, notify.KindSuccess)
	n.texts = append(n.texts, text)
}

func newTestEngine(states *fakeStates, dep *fakeDeploy) (*Engine, *recordingNotifier) {
	n := &recordingNotifier{}
	e := NewEngine(states, dep, fakeNamer{}, n, zap.NewNop(), 3, time.Millisecond)
	return e, n
}

func TestRecoverGenerationCeiling(t *testing.T) {
	states := &fakeStates{allow: true}
	e, n := newTestEngine(states, &fakeDeploy{})
	ctx := context.Background()

	// Каждая диспетчеризация успешна, но счетчик не гасится: этап так и не пройден
	for i := 0; i < 3; i++ {
		assert.True(t, e.Recover(ctx, "a1", domain.FailureGeneration, errors.New("gen broke"), nil))
	}
	require.Len(t, states.transitions, 3)
	for _, to := range states.transitions {
		assert.Equal(t, domain.StateGenerating, to)
	}

	// Четвертый вызов упирается в потолок: без диспетчеризации, агент в FAILED
	assert.False(t, e.Recover(ctx, "a1", domain.FailureGeneration, errors.New("gen broke"), nil))
	assert.Len(t, states.transitions, 3, "no dispatch past the ceiling")

	require.Len(t, states.failReasons, 1)
	assert.Equal(t, "Recovery failed after 3 attempts: generation_failure", states.failReasons[0])
	assert.Contains(t, n.texts, "Recovery failed after 3 attempts: generation_failure")
}

func TestRecoverRuntimeClearsCounterOnSuccess(t *testing.T) {
	states := &fakeStates{allow: true}
	dep := &fakeDeploy{restartOK: true}
	e, n := newTestEngine(states, dep)
	ctx := context.Background()

	// Успешный рестарт — полноценное восстановление, потолок не накапливается
	for i := 0; i < 5; i++ {
		require.True(t, e.Recover(ctx, "a1", domain.FailureRuntime, errors.New("crash"), nil))
	}
	assert.Len(t, dep.calls, 5)
	for _, k := range n.kinds {
		assert.Equal(t, notify.KindSuccess, k)
	}
	// Каждая попытка шла под номером 1
	assert.Equal(t, "Recovery succeeded (runtime_crash, attempt 1)", n.texts[4])
}

func TestRecoverRuntimeFailedRestartHitsCeiling(t *testing.T) {
	states := &fakeStates{allow: true}
	dep := &fakeDeploy{restartOK: false}
	e, _ := newTestEngine(states, dep)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.False(t, e.Recover(ctx, "a1", domain.FailureRuntime, errors.New("crash"), nil))
	}
	assert.False(t, e.Recover(ctx, "a1", domain.FailureRuntime, errors.New("crash"), nil))
	assert.Len(t, dep.calls, 3)
	require.Len(t, states.failReasons, 1)
	assert.Equal(t, "Recovery failed after 3 attempts: runtime_crash", states.failReasons[0])
}

func TestRecoverDeploymentStopsBeforeRedeploy(t *testing.T) {
	states := &fakeStates{allow: true}
	dep := &fakeDeploy{}
	e, n := newTestEngine(states, dep)

	require.True(t, e.Recover(context.Background(), "a1", domain.FailureDeployment, errors.New("deploy broke"), nil))

	assert.Equal(t, []string{"stop"}, dep.calls)
	require.Len(t, states.transitions, 1)
	assert.Equal(t, domain.StateDeploying, states.transitions[0])
	assert.Contains(t, n.texts, "Recovery initiated (deployment_failure, attempt 1)")
}

func TestRecoverDeploymentRespectsCancelledContext(t *testing.T) {
	states := &fakeStates{allow: true}
	e, _ := newTestEngine(states, &fakeDeploy{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, e.Recover(ctx, "a1", domain.FailureDeployment, errors.New("deploy broke"), nil))
	assert.Empty(t, states.transitions, "no redeploy transition after cancellation")
}

func TestClearAttemptsResetsCeiling(t *testing.T) {
	states := &fakeStates{allow: true}
	e, _ := newTestEngine(states, &fakeDeploy{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, e.Recover(ctx, "a1", domain.FailureGeneration, errors.New("gen broke"), nil))
	}
	e.ClearAttempts("a1", domain.FailureGeneration)

	// Счетчик обнулен: следующий сбой того же класса снова восстановим
	assert.True(t, e.Recover(ctx, "a1", domain.FailureGeneration, errors.New("gen broke"), nil))
	assert.Empty(t, states.failReasons)
}

func TestRecoverCountersAreIndependentPerAgentAndClass(t *testing.T) {
	states := &fakeStates{allow: true}
	e, _ := newTestEngine(states, &fakeDeploy{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, e.Recover(ctx, "a1", domain.FailureGeneration, errors.New("x"), nil))
	}
	// Потолок a1/generation не задевает ни другой класс, ни другого агента
	assert.True(t, e.Recover(ctx, "a1", domain.FailureValidation, errors.New("x"), nil))
	assert.True(t, e.Recover(ctx, "a2", domain.FailureGeneration, errors.New("x"), nil))
	assert.Empty(t, states.failReasons)
}

func TestRecoverUnknownClass(t *testing.T) {
	states := &fakeStates{allow: true}
	e, _ := newTestEngine(states, &fakeDeploy{})

	ok := e.Recover(context.Background(), "a1", domain.FailureClass("cosmic_rays"), errors.New("x"), nil)
	assert.False(t, ok)
	require.Len(t, states.failReasons, 1)
	assert.Contains(t, states.failReasons[0], "cosmic_rays")
}

func TestRecoverValidationCarriesIssues(t *testing.T) {
	states := &fakeStates{allow: true}
	e, _ := newTestEngine(states, &fakeDeploy{})

	ok := e.Recover(context.Background(), "a1", domain.FailureValidation, errors.New("validation failed"),
		map[string]interface{}{"validation_errors": []string{"main.go: syntax error"}})
	require.True(t, ok)
	require.Len(t, states.transitions, 1)
	assert.Equal(t, domain.StateGenerating, states.transitions[0])
}
