package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/notify"
)

// DeploymentProbe — что мониторингу нужно от менеджера деплоя
type DeploymentProbe interface {
	IsAgentRunning(ctx context.Context, agentID string) (bool, error)
	RecentErrorCount(agentID string) int
	RestartAgent(ctx context.Context, agentID string) domain.DeployResult
	StopAgent(ctx context.Context, agentID string) domain.DeployResult
}

// Recoverer — эскалация в движок восстановления, когда рестарт не помог
type Recoverer interface {
	Recover(ctx context.Context, agentID string, class domain.FailureClass, cause error, info map[string]interface{}) bool
}

// Engine держит по одной независимой сессии проверок на каждого ACTIVE агента.
// Явное состояние внутри инстанса, никаких глобальных мап.
type Engine struct {
	probe    DeploymentProbe
	recovery Recoverer
	notifier notify.Notifier
	logger   *zap.Logger

	defaultInterval time.Duration
	errorThreshold  int

	mu       sync.RWMutex
	sessions map[string]*session // agentID -> активная сессия

	// Метрики опциональны (Null Object — без регистрации просто nil-safe)
	checksTotal   *prometheus.CounterVec
	sessionsGauge prometheus.Gauge
}

type Option func(*Engine)

// WithMetrics подключает счетчики тиков и gauge активных сессий
func WithMetrics(checks *prometheus.CounterVec, sessions prometheus.Gauge) Option {
	return func(e *Engine) {
		e.checksTotal = checks
		e.sessionsGauge = sessions
	}
}

func NewEngine(probe DeploymentProbe, recovery Recoverer, notifier notify.Notifier, logger *zap.Logger, defaultInterval time.Duration, errorThreshold int, opts ...Option) *Engine {
	if defaultInterval <= 0 {
		defaultInterval = 30 * time.Second
	}
	if errorThreshold <= 0 {
		errorThreshold = 5
	}
	e := &Engine{
		probe:           probe,
		recovery:        recovery,
		notifier:        notifier,
		logger:          logger.With(zap.String("mod", "monitor")),
		defaultInterval: defaultInterval,
		errorThreshold:  errorThreshold,
		sessions:        make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartMonitoring запускает сессию для агента. Идемпотентно: прежняя сессия
// того же агента останавливается, затем немедленная первая проверка и тики.
func (e *Engine) StartMonitoring(ctx context.Context, agentID, agentName string, strategy domain.MonitoringStrategy) {
	e.StopMonitoring(agentID)

	interval := e.defaultInterval
	if strategy.HealthCheckIntervalMs > 0 {
		interval = time.Duration(strategy.HealthCheckIntervalMs) * time.Millisecond
	}

	s := newSession(e, agentID, agentName, interval, strategy.AlertConditions)

	e.mu.Lock()
	e.sessions[agentID] = s
	e.mu.Unlock()

	if e.sessionsGauge != nil {
		e.sessionsGauge.Inc()
	}

	go s.run(ctx)
	e.logger.Info("monitoring session started",
		zap.String("agent_id", agentID),
		zap.Duration("interval", interval))
}

// StopMonitoring останавливает сессию агента, если она есть
func (e *Engine) StopMonitoring(agentID string) {
	e.mu.Lock()
	s, ok := e.sessions[agentID]
	if ok {
		delete(e.sessions, agentID)
	}
	e.mu.Unlock()

	if ok {
		s.stop()
		if e.sessionsGauge != nil {
			e.sessionsGauge.Dec()
		}
		e.logger.Info("monitoring session stopped", zap.String("agent_id", agentID))
	}
}

// StopAll — best-effort sweep при остановке оркестратора.
// Никакого координированного дожидания in-flight проверок.
func (e *Engine) StopAll() {
	e.mu.Lock()
	all := e.sessions
	e.sessions = make(map[string]*session)
	e.mu.Unlock()

	for id, s := range all {
		s.stop()
		if e.sessionsGauge != nil {
			e.sessionsGauge.Dec()
		}
		e.logger.Info("monitoring session stopped", zap.String("agent_id", id))
	}
}

// History возвращает копию накопленных результатов проверок агента
func (e *Engine) History(agentID string) []domain.HealthCheckResult {
	e.mu.RLock()
	s, ok := e.sessions[agentID]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.history()
}
