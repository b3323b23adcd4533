package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/notify"
)

// historyCap — скользящее окно последних результатов на сессию
const historyCap = 100

// session — один периодический цикл проверок, привязанный ровно к одному
// ACTIVE агенту. Тик одной сессии никогда не блокирует тики других.
type session struct {
	engine     *Engine
	agentID    string
	agentName  string
	interval   time.Duration
	conditions []domain.AlertCondition

	stopCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	results []domain.HealthCheckResult // Кольцевой буфер, старые вытесняются

	// Защита от рестарт-шторма: один автономный рестарт на эпизод деградации
	autoRestarted bool
}

func newSession(e *Engine, agentID, agentName string, interval time.Duration, conditions []domain.AlertCondition) *session {
	return &session{
		engine:     e,
		agentID:    agentID,
		agentName:  agentName,
		interval:   interval,
		conditions: conditions,
		stopCh:     make(chan struct{}),
	}
}

func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *session) run(ctx context.Context) {
	// Немедленная проверка до первого тика
	s.safeTick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

// safeTick изолирует сбой одной проверки: ошибка логируется, сессия живет дальше
func (s *session) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.engine.logger.Error("health check panic",
				zap.String("agent_id", s.agentID),
				zap.Any("panic", r))
		}
	}()
	s.tick(ctx)
}

func (s *session) tick(ctx context.Context) {
	result, err := s.check(ctx)
	if err != nil {
		// Сбой самой проверки — не приговор агенту: в историю ничего не пишем,
		// чтобы мигающий Docker API не накрутил unhealthy-серию
		s.engine.logger.Warn("health check query failed",
			zap.String("agent_id", s.agentID),
			zap.Error(err))
		return
	}
	s.append(result)

	if s.engine.checksTotal != nil {
		s.engine.checksTotal.WithLabelValues(s.agentID, string(result.Status)).Inc()
	}

	s.evaluateConditions(ctx, result)
	s.evaluateUnhealthyStreak(ctx)
}

// check собирает один HealthCheckResult: живость по менеджеру деплоя,
// свежие ошибки по логгирующему коллаборатору. Ошибка означает сбой самой
// проверки, а не статус агента — такой тик вызывающий пропускает целиком.
func (s *session) check(ctx context.Context) (domain.HealthCheckResult, error) {
	result := domain.HealthCheckResult{
		Timestamp: time.Now(),
		Metrics:   map[string]float64{},
	}

	running, err := s.engine.probe.IsAgentRunning(ctx, s.agentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// unknown — только когда записи о деплое нет вообще
			result.Status = domain.HealthUnknown
			result.Issues = append(result.Issues, "deployment record missing")
			result.Metrics["error_count"] = 0
			return result, nil
		}
		return domain.HealthCheckResult{}, err
	}

	errorCount := s.engine.probe.RecentErrorCount(s.agentID)
	result.Metrics["error_count"] = float64(errorCount)
	if running {
		result.Metrics["running"] = 1
	} else {
		result.Metrics["running"] = 0
	}

	switch {
	case !running:
		result.Status = domain.HealthUnhealthy
		result.Issues = append(result.Issues, "agent is not running")
	case errorCount > s.engine.errorThreshold:
		result.Status = domain.HealthDegraded
		result.Issues = append(result.Issues, fmt.Sprintf("error count %d exceeds threshold %d", errorCount, s.engine.errorThreshold))
	default:
		result.Status = domain.HealthHealthy
	}
	return result, nil
}

func (s *session) append(r domain.HealthCheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	if len(s.results) > historyCap {
		s.results = s.results[len(s.results)-historyCap:]
	}
	if r.Status == domain.HealthHealthy {
		// Эпизод деградации закончился — автономный рестарт снова разрешен
		s.autoRestarted = false
	}
}

func (s *session) history() []domain.HealthCheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HealthCheckResult, len(s.results))
	copy(out, s.results)
	return out
}

// evaluateConditions проверяет настроенные алерты по свежему результату.
// Метрика отсутствует — условие пропускается.
func (s *session) evaluateConditions(ctx context.Context, result domain.HealthCheckResult) {
	for _, cond := range s.conditions {
		value, ok := result.Metrics[cond.Metric]
		if !ok {
			continue
		}
		if !compare(value, cond.Comparator, cond.Threshold) {
			continue
		}

		text := fmt.Sprintf("Alert: metric %s=%v %s %v (action: %s)",
			cond.Metric, value, cond.Comparator, cond.Threshold, cond.Action)
		s.engine.notifier.Alert(ctx, s.agentName, text, notify.SeverityWarning)
		s.engine.logger.Warn("alert condition fired",
			zap.String("agent_id", s.agentID),
			zap.String("metric", cond.Metric),
			zap.Float64("value", value),
			zap.String("action", string(cond.Action)))

		switch cond.Action {
		case domain.ActionRestart:
			res := s.engine.probe.RestartAgent(ctx, s.agentID)
			if !res.Success {
				s.engine.logger.Error("alert restart failed", zap.String("agent_id", s.agentID), zap.String("error", res.Error))
			}
		case domain.ActionPause:
			res := s.engine.probe.StopAgent(ctx, s.agentID)
			if !res.Success {
				s.engine.logger.Error("alert pause failed", zap.String("agent_id", s.agentID), zap.String("error", res.Error))
			}
		case domain.ActionEscalate:
			s.engine.notifier.Alert(ctx, s.agentName,
				fmt.Sprintf("Escalation: %s", text), notify.SeverityCritical)
		case domain.ActionNotify:
			// Уведомление уже ушло выше, дополнительных действий нет
		}
	}
}

// evaluateUnhealthyStreak — автономная эскалация независимо от настроенных
// условий: при 3+ unhealthy из последних 5 — одна попытка рестарта с отчетом.
// Если рестарт не помог, зовем движок восстановления (runtime_crash).
func (s *session) evaluateUnhealthyStreak(ctx context.Context) {
	s.mu.Lock()
	n := len(s.results)
	window := s.results
	if n > 5 {
		window = s.results[n-5:]
	}
	unhealthy := 0
	for _, r := range window {
		if r.Status == domain.HealthUnhealthy {
			unhealthy++
		}
	}
	fire := unhealthy >= 3 && !s.autoRestarted
	if fire {
		s.autoRestarted = true
	}
	s.mu.Unlock()

	if !fire {
		return
	}

	s.engine.logger.Warn("unhealthy streak detected, attempting restart",
		zap.String("agent_id", s.agentID),
		zap.Int("unhealthy_of_last_5", unhealthy))

	res := s.engine.probe.RestartAgent(ctx, s.agentID)
	if res.Success {
		s.engine.notifier.StatusUpdate(ctx, s.agentName,
			fmt.Sprintf("Auto-restart succeeded after %d unhealthy checks", unhealthy))
		return
	}

	s.engine.notifier.Alert(ctx, s.agentName,
		fmt.Sprintf("Auto-restart failed: %s", res.Error), notify.SeverityCritical)
	if s.engine.recovery != nil {
		s.engine.recovery.Recover(ctx, s.agentID, domain.FailureRuntime,
			errors.New(res.Error), map[string]interface{}{"unhealthy_of_last_5": unhealthy})
	}
}

func compare(value float64, cmp domain.AlertComparator, threshold float64) bool {
	switch cmp {
	case domain.CmpGT:
		return value > threshold
	case domain.CmpLT:
		return value < threshold
	case domain.CmpGTE:
		return value >= threshold
	case domain.CmpLTE:
		return value <= threshold
	case domain.CmpEQ:
		return value == threshold
	case domain.CmpNEQ:
		return value != threshold
	}
	return false
}
