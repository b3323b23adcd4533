package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/notify"
)

// StateTransitioner — узкий контракт к State Machine
type StateTransitioner interface {
	Transition(ctx context.Context, agentID string, to domain.AgentState, reason string) bool
	TransitionToFailed(ctx context.Context, agentID, reason string, cause error) bool
}

// DeployController — узкий контракт к менеджеру деплоя
type DeployController interface {
	StopAgent(ctx context.Context, agentID string) domain.DeployResult
	RestartAgent(ctx context.Context, agentID string) domain.DeployResult
}

// AgentNamer нужен только чтобы адресовать уведомления по имени агента
type AgentNamer interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
}

// Engine классифицирует сбои и диспетчеризует стратегии восстановления
// с ограниченным числом попыток на пару (агент, класс сбоя).
type Engine struct {
	states   StateTransitioner
	deploy   DeployController
	store    AgentNamer
	notifier notify.Notifier
	logger   *zap.Logger

	maxAttempts   int
	redeployDelay time.Duration

	mu       sync.Mutex
	attempts map[string]int // "agentID/failureClass" -> счетчик попыток

	attemptsTotal *prometheus.CounterVec
}

type Option func(*Engine)

// WithMetric подключает счетчик попыток восстановления
func WithMetric(c *prometheus.CounterVec) Option {
	return func(e *Engine) { e.attemptsTotal = c }
}

func NewEngine(states StateTransitioner, deploy DeployController, store AgentNamer, notifier notify.Notifier, logger *zap.Logger, maxAttempts int, redeployDelay time.Duration, opts ...Option) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if redeployDelay <= 0 {
		redeployDelay = 2 * time.Second
	}
	e := &Engine{
		states:        states,
		deploy:        deploy,
		store:         store,
		notifier:      notifier,
		logger:        logger.With(zap.String("mod", "recovery")),
		maxAttempts:   maxAttempts,
		redeployDelay: redeployDelay,
		attempts:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func key(agentID string, class domain.FailureClass) string {
	return agentID + "/" + string(class)
}

// Recover пытается восстановить агента после сбоя указанного класса.
// Никогда не пробрасывает ошибку наружу: вызывающий получает bool и сам
// решает, поднимать ли сбой выше.
func (e *Engine) Recover(ctx context.Context, agentID string, class domain.FailureClass, cause error, info map[string]interface{}) bool {
	agentName := e.agentName(ctx, agentID)

	e.mu.Lock()
	k := key(agentID, class)
	attempt := e.attempts[k]
	if attempt >= e.maxAttempts {
		e.mu.Unlock()
		return e.exhausted(ctx, agentID, agentName, class, attempt)
	}
	e.attempts[k] = attempt + 1
	e.mu.Unlock()

	if e.attemptsTotal != nil {
		e.attemptsTotal.WithLabelValues(string(class)).Inc()
	}

	e.logger.Info("recovery attempt",
		zap.String("agent_id", agentID),
		zap.String("class", string(class)),
		zap.Int("attempt", attempt+1),
		zap.Error(cause))

	ok := e.dispatch(ctx, agentID, class, cause, info)

	if ok {
		// Для runtime-класса успешный рестарт и есть восстановление.
		// Для остальных классов диспетчеризация лишь возвращает агента на
		// ранний этап: счетчик гасит воркфлоу через ClearAttempts, когда
		// этап наконец пройден. Иначе вечно падающий деплой обнулял бы
		// счетчик на каждом круге и потолок был бы недостижим.
		if class == domain.FailureRuntime {
			e.ClearAttempts(agentID, class)
			e.notifier.Success(ctx, agentName,
				fmt.Sprintf("Recovery succeeded (%s, attempt %d)", class, attempt+1))
		} else {
			e.notifier.StatusUpdate(ctx, agentName,
				fmt.Sprintf("Recovery initiated (%s, attempt %d)", class, attempt+1))
		}
	} else {
		e.notifier.Error(ctx, agentName,
			fmt.Sprintf("Recovery attempt %d failed (%s): %v", attempt+1, class, cause))
	}
	return ok
}

// ClearAttempts сбрасывает счетчики восстановления: следующий несвязанный
// сбой того же класса начинает отсчет заново.
func (e *Engine) ClearAttempts(agentID string, classes ...domain.FailureClass) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, class := range classes {
		delete(e.attempts, key(agentID, class))
	}
}

// exhausted — лимит попыток исчерпан: уведомление с числом попыток,
// перевод в FAILED, false без диспетчеризации стратегии.
func (e *Engine) exhausted(ctx context.Context, agentID, agentName string, class domain.FailureClass, attempts int) bool {
	reason := fmt.Sprintf("Recovery failed after %d attempts: %s", attempts, class)

	e.logger.Error("recovery exhausted",
		zap.String("agent_id", agentID),
		zap.String("class", string(class)),
		zap.Int("attempts", attempts))

	e.notifier.Error(ctx, agentName, reason)
	e.states.TransitionToFailed(ctx, agentID, reason, domain.ErrRecoveryExhausted)
	return false
}

func (e *Engine) dispatch(ctx context.Context, agentID string, class domain.FailureClass, cause error, info map[string]interface{}) bool {
	switch class {
	case domain.FailureGeneration:
		return e.states.Transition(ctx, agentID, domain.StateGenerating, "recovery: regenerate after generation failure")

	case domain.FailureValidation:
		// Список ошибок валидации едет в info для будущего repair-хука;
		// пока это честная регенерация с нуля
		if errs, ok := info["validation_errors"]; ok {
			e.logger.Debug("validation errors carried to regeneration",
				zap.String("agent_id", agentID),
				zap.Any("errors", errs))
		}
		return e.states.Transition(ctx, agentID, domain.StateGenerating, "recovery: regenerate after validation failure")

	case domain.FailureDeployment:
		if res := e.deploy.StopAgent(ctx, agentID); !res.Success {
			e.logger.Warn("stop before redeploy failed",
				zap.String("agent_id", agentID),
				zap.String("error", res.Error))
		}
		select {
		case <-time.After(e.redeployDelay):
		case <-ctx.Done():
			return false
		}
		return e.states.Transition(ctx, agentID, domain.StateDeploying, "recovery: redeploy after deployment failure")

	case domain.FailureRuntime:
		// Рестарт напрямую, состояние агента не трогаем
		return e.deploy.RestartAgent(ctx, agentID).Success

	default:
		// Неизвестный класс — терминальная ветка, не считается ретраем
		e.states.TransitionToFailed(ctx, agentID,
			fmt.Sprintf("unrecoverable failure class %q", class), cause)
		return false
	}
}

func (e *Engine) agentName(ctx context.Context, agentID string) string {
	if agent, err := e.store.GetAgent(ctx, agentID); err == nil {
		return agent.Name
	}
	return agentID
}
