package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/notify"
)

// scriptedProbe отдает заранее заданные ответы по одному на тик
type scriptedProbe struct {
	mu sync.Mutex

	running    []bool // ответы IsAgentRunning по порядку; последний повторяется
	runningErr error
	errorCount int
	restartOK  bool

	idx      int
	restarts int
	stops    int
}

func (p *scriptedProbe) IsAgentRunning(_ context.Context, _ string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runningErr != nil {
		return false, p.runningErr
	}
	if len(p.running) == 0 {
		return true, nil
	}
	i := p.idx
	if i >= len(p.running) {
		i = len(p.running) - 1
	}
	p.idx++
	return p.running[i], nil
}

func (p *scriptedProbe) RecentErrorCount(_ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorCount
}

func (p *scriptedProbe) RestartAgent(_ context.Context, _ string) domain.DeployResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restarts++
	if !p.restartOK {
		return domain.DeployResult{Success: false, Error: "restart refused"}
	}
	return domain.DeployResult{Success: true}
}

func (p *scriptedProbe) StopAgent(_ context.Context, _ string) domain.DeployResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return domain.DeployResult{Success: true}
}

func (p *scriptedProbe) restartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

type fakeRecoverer struct {
	mu      sync.Mutex
	classes []domain.FailureClass
}

func (r *fakeRecoverer) Recover(_ context.Context, _ string, class domain.FailureClass, _ error, _ map[string]interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes = append(r.classes, class)
	return true
}

type captureNotifier struct {
	mu         sync.Mutex
	alerts     []string
	severities []notify.Severity
	statuses   []string
}

func (n *captureNotifier) ApprovalRequested(context.Context, string, string, string) {}
func (n *captureNotifier) StatusUpdate(_ context.Context, _, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, text)
}
func (n *captureNotifier) Alert(_ context.Context, _, text string, sev notify.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, text)
	n.severities = append(n.severities, sev)
}
func (n *captureNotifier) Error(context.Context, string, string)   {}
func (n *captureNotifier) Success(context.Context, string, string) {}

func newTestSession(probe *scriptedProbe, rec Recoverer, n notify.Notifier, conditions []domain.AlertCondition) *session {
	e := NewEngine(probe, rec, n, zap.NewNop(), time.Minute, 5)
	return newSession(e, "a1", "weather-bot", time.Minute, conditions)
}

func TestCheckClassification(t *testing.T) {
	ctx := context.Background()

	t.Run("missing deployment record is unknown", func(t *testing.T) {
		probe := &scriptedProbe{runningErr: domain.ErrNotFound}
		s := newTestSession(probe, nil, &captureNotifier{}, nil)
		r, err := s.check(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.HealthUnknown, r.Status)
		assert.Contains(t, r.Issues, "deployment record missing")
	})

	t.Run("query failure is an error, not a status", func(t *testing.T) {
		probe := &scriptedProbe{runningErr: errors.New("docker daemon down")}
		s := newTestSession(probe, nil, &captureNotifier{}, nil)
		_, err := s.check(ctx)
		assert.EqualError(t, err, "docker daemon down")
	})

	t.Run("not running is unhealthy", func(t *testing.T) {
		probe := &scriptedProbe{running: []bool{false}}
		s := newTestSession(probe, nil, &captureNotifier{}, nil)
		r, err := s.check(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.HealthUnhealthy, r.Status)
		assert.Contains(t, r.Issues, "agent is not running")
		assert.Equal(t, float64(0), r.Metrics["running"])
	})

	t.Run("error count over threshold is degraded", func(t *testing.T) {
		probe := &scriptedProbe{running: []bool{true}, errorCount: 6}
		s := newTestSession(probe, nil, &captureNotifier{}, nil)
		r, err := s.check(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.HealthDegraded, r.Status)
		assert.Equal(t, float64(6), r.Metrics["error_count"])
	})

	t.Run("running under threshold is healthy", func(t *testing.T) {
		probe := &scriptedProbe{running: []bool{true}, errorCount: 2}
		s := newTestSession(probe, nil, &captureNotifier{}, nil)
		r, err := s.check(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.HealthHealthy, r.Status)
		assert.Equal(t, float64(1), r.Metrics["running"])
	})
}

func TestQueryFaultsDoNotFeedStreak(t *testing.T) {
	ctx := context.Background()
	probe := &scriptedProbe{runningErr: errors.New("docker daemon down"), restartOK: true}
	s := newTestSession(probe, nil, &captureNotifier{}, nil)

	// Серия сбоев самого опроса: история пуста, авторестарт не срабатывает
	for i := 0; i < 5; i++ {
		s.tick(ctx)
	}
	assert.Empty(t, s.history())
	assert.Equal(t, 0, probe.restartCount())
}

func TestUnhealthyStreakTriggersSingleRestart(t *testing.T) {
	ctx := context.Background()
	probe := &scriptedProbe{running: []bool{true, false, false, false, false, false}, restartOK: true}
	n := &captureNotifier{}
	s := newTestSession(probe, nil, n, nil)

	// Два unhealthy из пяти — рано
	for i := 0; i < 3; i++ {
		s.tick(ctx)
	}
	assert.Equal(t, 0, probe.restartCount())

	// Третий unhealthy в окне — ровно один автономный рестарт
	s.tick(ctx)
	assert.Equal(t, 1, probe.restartCount())
	assert.Contains(t, n.statuses[0], "Auto-restart succeeded after 3 unhealthy checks")

	// Дальнейшие unhealthy тики того же эпизода рестарт не повторяют
	s.tick(ctx)
	s.tick(ctx)
	assert.Equal(t, 1, probe.restartCount())
}

func TestAutoRestartRearmsAfterHealthy(t *testing.T) {
	ctx := context.Background()
	probe := &scriptedProbe{
		running:   []bool{false, false, false, true, false, false, false},
		restartOK: true,
	}
	s := newTestSession(probe, nil, &captureNotifier{}, nil)

	for i := 0; i < 3; i++ {
		s.tick(ctx)
	}
	assert.Equal(t, 1, probe.restartCount())

	// healthy тик закрывает эпизод, следующая деградация — новый рестарт
	for i := 0; i < 4; i++ {
		s.tick(ctx)
	}
	assert.Equal(t, 2, probe.restartCount())
}

func TestFailedAutoRestartEscalatesToRecovery(t *testing.T) {
	ctx := context.Background()
	probe := &scriptedProbe{running: []bool{false}, restartOK: false}
	rec := &fakeRecoverer{}
	n := &captureNotifier{}
	s := newTestSession(probe, rec, n, nil)

	for i := 0; i < 3; i++ {
		s.tick(ctx)
	}

	require.Len(t, rec.classes, 1)
	assert.Equal(t, domain.FailureRuntime, rec.classes[0])

	require.NotEmpty(t, n.alerts)
	assert.Contains(t, n.alerts[0], "Auto-restart failed: restart refused")
	assert.Equal(t, notify.SeverityCritical, n.severities[0])
}

func TestHistoryRingBuffer(t *testing.T) {
	s := newTestSession(&scriptedProbe{}, nil, &captureNotifier{}, nil)
	for i := 0; i < 150; i++ {
		s.append(domain.HealthCheckResult{Status: domain.HealthHealthy})
	}
	assert.Len(t, s.history(), historyCap)
}

func TestAlertConditions(t *testing.T) {
	ctx := context.Background()

	t.Run("restart action calls probe", func(t *testing.T) {
		probe := &scriptedProbe{running: []bool{true}, errorCount: 10, restartOK: true}
		s := newTestSession(probe, nil, &captureNotifier{}, []domain.AlertCondition{
			{Metric: "error_count", Threshold: 5, Comparator: domain.CmpGT, Action: domain.ActionRestart},
		})
		s.tick(ctx)
		assert.Equal(t, 1, probe.restartCount())
	})

	t.Run("pause action stops agent", func(t *testing.T) {
		probe := &scriptedProbe{running: []bool{true}, errorCount: 10}
		s := newTestSession(probe, nil, &captureNotifier{}, []domain.AlertCondition{
			{Metric: "error_count", Threshold: 5, Comparator: domain.CmpGT, Action: domain.ActionPause},
		})
		s.tick(ctx)
		assert.Equal(t, 1, probe.stops)
	})

	t.Run("escalate action raises critical alert", func(t *testing.T) {
		n := &captureNotifier{}
		probe := &scriptedProbe{running: []bool{false}}
		s := newTestSession(probe, nil, n, []domain.AlertCondition{
			{Metric: "running", Threshold: 1, Comparator: domain.CmpLT, Action: domain.ActionEscalate},
		})
		s.tick(ctx)
		// Первый алерт — warning о сработке, второй — критическая эскалация
		require.Len(t, n.alerts, 2)
		assert.Equal(t, notify.SeverityWarning, n.severities[0])
		assert.Equal(t, notify.SeverityCritical, n.severities[1])
		assert.Contains(t, n.alerts[1], "Escalation:")
	})

	t.Run("notify action fires once without side effects", func(t *testing.T) {
		n := &captureNotifier{}
		probe := &scriptedProbe{running: []bool{true}, errorCount: 10}
		s := newTestSession(probe, nil, n, []domain.AlertCondition{
			{Metric: "error_count", Threshold: 5, Comparator: domain.CmpGT, Action: domain.ActionNotify},
		})
		s.tick(ctx)
		assert.Len(t, n.alerts, 1)
		assert.Equal(t, 0, probe.restartCount())
		assert.Equal(t, 0, probe.stops)
	})

	t.Run("absent metric is skipped", func(t *testing.T) {
		n := &captureNotifier{}
		probe := &scriptedProbe{running: []bool{true}}
		s := newTestSession(probe, nil, n, []domain.AlertCondition{
			{Metric: "latency_ms", Threshold: 100, Comparator: domain.CmpGT, Action: domain.ActionNotify},
		})
		s.tick(ctx)
		assert.Empty(t, n.alerts)
	})
}

func TestCompare(t *testing.T) {
	cases := []struct {
		value     float64
		cmp       domain.AlertComparator
		threshold float64
		want      bool
	}{
		{6, domain.CmpGT, 5, true},
		{5, domain.CmpGT, 5, false},
		{4, domain.CmpLT, 5, true},
		{5, domain.CmpGTE, 5, true},
		{5, domain.CmpLTE, 5, true},
		{5, domain.CmpEQ, 5, true},
		{4, domain.CmpEQ, 5, false},
		{4, domain.CmpNEQ, 5, true},
		{1, domain.AlertComparator("~"), 1, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, compare(c.value, c.cmp, c.threshold), "%v %s %v", c.value, c.cmp, c.threshold)
	}
}

func TestStartStopMonitoring(t *testing.T) {
	probe := &scriptedProbe{running: []bool{true}}
	e := NewEngine(probe, nil, &captureNotifier{}, zap.NewNop(), time.Hour, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.StartMonitoring(ctx, "a1", "weather-bot", domain.MonitoringStrategy{HealthCheckIntervalMs: 3600000})

	require.Eventually(t, func() bool {
		return len(e.History("a1")) >= 1
	}, time.Second, 5*time.Millisecond, "first check fires before the first tick")

	e.StopMonitoring("a1")
	assert.Nil(t, e.History("a1"), "stopped session leaves no history handle")

	// Повторный стоп безопасен
	e.StopMonitoring("a1")
}
