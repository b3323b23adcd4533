package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/infra"
	"github.com/20SB/saba/internal/infra/auth"
	"github.com/20SB/saba/internal/lifecycle"
)

// AgentRepository описывает требования консоли к хранилищу
type AgentRepository interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*domain.Agent, error)
	ListAgents(ctx context.Context) ([]*domain.Agent, error)
	GetApprovalByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	FindApprovals(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error)
	GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error)
}

// CreateAgentRequest — заявка оператора из админки
type CreateAgentRequest struct {
	Name   string `json:"name"`
	Goal   string `json:"goal"`
	Risk   string `json:"risk_level"`
	Target string `json:"deployment_target"`
}

// AgentService — управляющая плоскость консоли. Консоль не трогает
// жизненный цикл напрямую: все мутации уходят типизированными командами
// в Redis, их применяет единственный цикл диспетчера оркестратора.
// Чтение (агенты, заявки, статистика) идет напрямую из Postgres.
type AgentService struct {
	*auth.BaseValidator
	repo   AgentRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewAgentService(rdb *redis.Client, repo AgentRepository, validator *auth.BaseValidator, logger *zap.Logger) *AgentService {
	return &AgentService{
		BaseValidator: validator,
		repo:          repo,
		rdb:           rdb,
		logger:        logger.Named("agent-service"),
	}
}

// publishCommand сериализует конверт и кладет его в командный канал.
// Возвращает ID команды для трассировки в ответе API.
func (s *AgentService) publishCommand(ctx context.Context, cmd domain.Command) (string, error) {
	cmd.ID = uuid.New().String()
	cmd.IssuedAt = time.Now().UTC()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanCommands, payload).Err(); err != nil {
		s.logger.Error("command delivery failed",
			zap.String("command_id", cmd.ID),
			zap.String("type", string(cmd.Type)),
			zap.Error(err))
		return "", fmt.Errorf("publish command: %w", err)
	}

	s.logger.Info("command published",
		zap.String("command_id", cmd.ID),
		zap.String("type", string(cmd.Type)),
		zap.String("issued_by", cmd.IssuedBy))
	return cmd.ID, nil
}

// CreateAgent валидирует заявку и отправляет ее оркестратору.
func (s *AgentService) CreateAgent(ctx context.Context, req CreateAgentRequest, issuedBy string) (string, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", fmt.Errorf("agent name is required")
	}
	if strings.TrimSpace(req.Goal) == "" {
		return "", fmt.Errorf("agent goal is required")
	}

	// Дубликат имени ловим еще в консоли, чтобы оператор получил
	// синхронный 409 вместо асинхронного уведомления об отказе
	if existing, err := s.repo.GetAgentByName(ctx, name); err == nil && existing != nil {
		return "", fmt.Errorf("agent %q already exists", name)
	}

	return s.publishCommand(ctx, domain.Command{
		Type:      domain.CmdCreateAgent,
		IssuedBy:  issuedBy,
		AgentName: name,
		Goal:      req.Goal,
		Risk:      strings.ToUpper(strings.TrimSpace(req.Risk)),
		Target:    req.Target,
	})
}

// lifecycleCommand — общий путь Stop/Start/Delete: проверяем, что агент
// существует, и шлем команду.
func (s *AgentService) lifecycleCommand(ctx context.Context, t domain.CommandType, agentID, issuedBy string) (string, error) {
	if _, err := s.repo.GetAgent(ctx, agentID); err != nil {
		return "", fmt.Errorf("agent %s: %w", agentID, err)
	}
	return s.publishCommand(ctx, domain.Command{
		Type:     t,
		IssuedBy: issuedBy,
		AgentID:  agentID,
	})
}

func (s *AgentService) StopAgent(ctx context.Context, agentID, issuedBy string) (string, error) {
	return s.lifecycleCommand(ctx, domain.CmdStopAgent, agentID, issuedBy)
}

func (s *AgentService) StartAgent(ctx context.Context, agentID, issuedBy string) (string, error) {
	return s.lifecycleCommand(ctx, domain.CmdStartAgent, agentID, issuedBy)
}

func (s *AgentService) DeleteAgent(ctx context.Context, agentID, issuedBy string) (string, error) {
	return s.lifecycleCommand(ctx, domain.CmdDeleteAgent, agentID, issuedBy)
}

// DecideApproval фиксирует решение оператора по заявке HITL.
// Мы передаем reviewerID для обеспечения подотчетности (Accountability).
func (s *AgentService) DecideApproval(ctx context.Context, approvalID string, approved bool, reviewerID, comment string) error {
	app, err := s.repo.GetApprovalByID(ctx, approvalID)
	if err != nil {
		return fmt.Errorf("approval %s: %w", approvalID, err)
	}
	// Решенные заявки отклоняем синхронно: ждущий воркфлоу уже видел итог
	if app.IsResolved() {
		return domain.ErrAlreadyProcessed
	}

	_, err = s.publishCommand(ctx, domain.Command{
		Type:       domain.CmdApprovalResponse,
		IssuedBy:   reviewerID,
		ApprovalID: approvalID,
		Approved:   approved,
		Notes:      comment,
	})
	if err != nil {
		return err
	}

	s.logger.Info("HITL decision submitted",
		zap.String("approval_id", approvalID),
		zap.String("reviewer", reviewerID),
		zap.Bool("approved", approved))
	return nil
}

func (s *AgentService) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return s.repo.GetApprovalByID(ctx, id)
}

func (s *AgentService) GetApprovals(ctx context.Context, status string) ([]*domain.ApprovalRequest, error) {
	// Приводим к верхнему регистру, так как в константах PENDING/APPROVED
	status = strings.ToUpper(status)
	return s.repo.FindApprovals(ctx, domain.ApprovalStatus(status))
}

func (s *AgentService) GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	// здесь можно добавить кэширование в Redis на 1 минуту,
	// чтобы не нагружать Postgres тяжелыми аналитическими запросами.
	return s.repo.GetGlobalStats(ctx)
}

// GetAgent отдает агента с производными полями прогресса для фронтенда.
func (s *AgentService) GetAgent(ctx context.Context, agentID string) (*domain.AgentView, error) {
	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		s.logger.Error("failed to fetch agent details", zap.String("id", agentID), zap.Error(err))
		return nil, err
	}
	return s.toView(agent), nil
}

// ListAgents возвращает список всех зарегистрированных агентов.
// Используется для отображения основной таблицы в Console API.
func (s *AgentService) ListAgents(ctx context.Context) ([]*domain.AgentView, error) {
	agents, err := s.repo.ListAgents(ctx)
	if err != nil {
		s.logger.Error("failed to list agents from repository", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch agents: %w", err)
	}

	// Фронтенд должен получить пустой массив [], а не null
	views := make([]*domain.AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, s.toView(a))
	}

	s.logger.Debug("agents listed successfully", zap.Int("count", len(views)))
	return views, nil
}

func (s *AgentService) toView(a *domain.Agent) *domain.AgentView {
	return &domain.AgentView{
		Agent:            *a,
		ProgressPercent:  lifecycle.ProgressPercent(a.State),
		StateDescription: lifecycle.Description(a.State),
	}
}
