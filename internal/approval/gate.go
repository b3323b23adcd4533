package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/notify"
)

// Store — узкий контракт к хранилищу заявок
type Store interface {
	CreateApproval(ctx context.Context, app *domain.ApprovalRequest) error
	GetApprovalByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, approver, notes string) error
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
}

// Gate — шлюз подтверждений (HITL). Создает заявки, уведомляет оператора
// и блокирует воркфлоу до решения или таймаута.
type Gate struct {
	store    Store
	notifier notify.Notifier
	logger   *zap.Logger

	pollInterval time.Duration
	waitTimeout  time.Duration

	// Гистограмма времени ожидания решения — полезно для SLO по HITL
	waitDuration prometheus.Observer
}

type Option func(*Gate)

// WithWaitMetric подключает наблюдатель длительности ожидания
func WithWaitMetric(obs prometheus.Observer) Option {
	return func(g *Gate) { g.waitDuration = obs }
}

func NewGate(store Store, notifier notify.Notifier, logger *zap.Logger, pollInterval, waitTimeout time.Duration, opts ...Option) *Gate {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if waitTimeout <= 0 {
		waitTimeout = time.Hour
	}
	g := &Gate{
		store:        store,
		notifier:     notifier,
		logger:       logger.With(zap.String("mod", "approval-gate")),
		pollInterval: pollInterval,
		waitTimeout:  waitTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ShouldRequestApproval решает, нужен ли гейт для данного риска и этапа.
// Таблица истинности зафиксирована спецификацией поведения:
//   - CRITICAL и SENSITIVE — всегда да;
//   - MODIFICATION и DELETION — всегда да, независимо от риска;
//   - MODERATE — только DEPLOYMENT и SECURITY_RULES;
//   - SAFE + INITIAL_PLAN — нет;
//   - остальное — да только для DETAILED_PLAN.
func ShouldRequestApproval(risk domain.RiskLevel, t domain.ApprovalType) bool {
	if risk >= domain.RiskSensitive {
		return true
	}
	if t == domain.ApprovalModification || t == domain.ApprovalDeletion {
		return true
	}
	if risk == domain.RiskModerate {
		return t == domain.ApprovalDeployment || t == domain.ApprovalSecurityRules
	}
	if risk == domain.RiskSafe && t == domain.ApprovalInitialPlan {
		return false
	}
	return t == domain.ApprovalDetailedPlan
}

// RequestApproval создает PENDING заявку и уведомляет оператора. Не блокирует.
func (g *Gate) RequestApproval(ctx context.Context, agentID string, t domain.ApprovalType, details string) (string, error) {
	agent, err := g.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("approval: unknown agent %s: %w", agentID, err)
	}

	app := &domain.ApprovalRequest{
		ID:      uuid.New().String(),
		AgentID: agentID,
		Type:    t,
		Details: details,
		Status:  domain.ApprovalPending,
	}
	if err := g.store.CreateApproval(ctx, app); err != nil {
		return "", fmt.Errorf("approval: failed to create request: %w", err)
	}

	summary := fmt.Sprintf("Agent %q requests %s approval. %s", agent.Name, t, details)
	g.notifier.ApprovalRequested(ctx, agent.Name, app.ID, summary)

	g.logger.Info("approval requested",
		zap.String("approval_id", app.ID),
		zap.String("agent_id", agentID),
		zap.String("type", string(t)))
	return app.ID, nil
}

// WaitForApproval опрашивает хранилище до решения или дедлайна.
// Латентность человека на порядки больше интервала опроса, поэтому
// polling здесь — осознанное упрощение, а не компромисс.
// По дедлайну заявка помечается TIMEOUT и возвращается TIMEOUT.
func (g *Gate) WaitForApproval(ctx context.Context, approvalID string, timeout time.Duration) (domain.ApprovalStatus, error) {
	if timeout <= 0 {
		timeout = g.waitTimeout
	}
	deadline := time.Now().Add(timeout)
	started := time.Now()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	observe := func() {
		if g.waitDuration != nil {
			g.waitDuration.Observe(time.Since(started).Seconds())
		}
	}

	for {
		app, err := g.store.GetApprovalByID(ctx, approvalID)
		if err != nil {
			// Неизвестный ID фатален для ожидающего шага на любой итерации
			return "", fmt.Errorf("approval %s: %w", approvalID, err)
		}
		if app.IsResolved() {
			observe()
			g.logger.Info("approval resolved",
				zap.String("approval_id", approvalID),
				zap.String("status", string(app.Status)))
			return app.Status, nil
		}

		if time.Now().After(deadline) {
			return g.expire(ctx, approvalID, observe)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// expire помечает просроченную заявку. Если оператор успел решить в самый
// последний момент — возвращаем его решение, а не TIMEOUT.
func (g *Gate) expire(ctx context.Context, approvalID string, observe func()) (domain.ApprovalStatus, error) {
	err := g.store.ResolveApproval(ctx, approvalID, domain.ApprovalTimeout, "", "approval wait deadline exceeded")
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			if app, getErr := g.store.GetApprovalByID(ctx, approvalID); getErr == nil {
				observe()
				return app.Status, nil
			}
		}
		return "", fmt.Errorf("approval %s: failed to mark timeout: %w", approvalID, err)
	}

	observe()
	g.logger.Warn("approval timed out", zap.String("approval_id", approvalID))
	return domain.ApprovalTimeout, nil
}

// ProcessApproval фиксирует решение оператора. Вызывается из пути обработки
// админ-команд независимо от ожидающей горутины: опоздавшее решение после
// таймаута записывается как конфликт и никак не влияет на того, кто уже
// трактовал операцию как отклоненную.
func (g *Gate) ProcessApproval(ctx context.Context, approvalID string, status domain.ApprovalStatus, approver, notes string) error {
	if status != domain.ApprovalApproved && status != domain.ApprovalRejected {
		return fmt.Errorf("approval: unsupported resolution %q: %w", status, domain.ErrInvalidTransition)
	}

	if err := g.store.ResolveApproval(ctx, approvalID, status, approver, notes); err != nil {
		g.logger.Warn("approval resolution not applied",
			zap.String("approval_id", approvalID),
			zap.String("status", string(status)),
			zap.Error(err))
		return err
	}

	app, err := g.store.GetApprovalByID(ctx, approvalID)
	if err != nil {
		return fmt.Errorf("approval: resolved but failed to reload: %w", err)
	}
	agentName := app.AgentID
	if agent, err := g.store.GetAgent(ctx, app.AgentID); err == nil {
		agentName = agent.Name
	}

	if status == domain.ApprovalApproved {
		g.notifier.Success(ctx, agentName, fmt.Sprintf("Approval %s confirmed by %s", approvalID, approver))
	} else {
		g.notifier.StatusUpdate(ctx, agentName, fmt.Sprintf("Approval %s rejected by %s: %s", approvalID, approver, notes))
	}

	g.logger.Info("approval processed",
		zap.String("approval_id", approvalID),
		zap.String("status", string(status)),
		zap.String("approver", approver))
	return nil
}
