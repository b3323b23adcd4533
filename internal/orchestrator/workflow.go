package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/approval"
	"github.com/20SB/saba/internal/deploy"
	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/lifecycle"
	"github.com/20SB/saba/internal/monitor"
	"github.com/20SB/saba/internal/notify"
	"github.com/20SB/saba/internal/recovery"
)

// Сколько раз оператор может отклонить план до перевода агента в FAILED.
// Бесконечный replan loop при упрямом планировщике хуже явного отказа.
const maxReplans = 3

// Store — контракт воркфлоу к персистенции
type Store interface {
	CreateAgent(ctx context.Context, a *domain.Agent) error
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*domain.Agent, error)
	UpdateAgentRisk(ctx context.Context, id string, risk domain.RiskLevel) error
	SavePlan(ctx context.Context, plan *domain.DetailedPlan) error
	GetPlan(ctx context.Context, agentID string) (*domain.DetailedPlan, error)
}

// Workflow проводит агента через жизненный цикл: планирование, подтверждение,
// генерация, валидация, деплой, мониторинг. Каждый CreateAgent обрабатывается
// в отдельной горутине (fire-and-forget), чтобы долгий pipeline одного агента
// не блокировал команды по другим.
type Workflow struct {
	store    Store
	states   *lifecycle.StateMachine
	gate     *approval.Gate
	deployer *deploy.Manager
	monitor  *monitor.Engine
	recovery *recovery.Engine
	planner  Planner
	gen      Generator
	valid    Validator
	riskcls  RiskClassifier
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *Metrics

	wg sync.WaitGroup
}

func NewWorkflow(
	store Store,
	states *lifecycle.StateMachine,
	gate *approval.Gate,
	deployer *deploy.Manager,
	mon *monitor.Engine,
	rec *recovery.Engine,
	planner Planner,
	gen Generator,
	valid Validator,
	riskcls RiskClassifier,
	notifier notify.Notifier,
	logger *zap.Logger,
	metrics *Metrics,
) *Workflow {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Workflow{
		store:    store,
		states:   states,
		gate:     gate,
		deployer: deployer,
		monitor:  mon,
		recovery: rec,
		planner:  planner,
		gen:      gen,
		valid:    valid,
		riskcls:  riskcls,
		notifier: notifier,
		logger:   logger.With(zap.String("mod", "workflow")),
		metrics:  metrics,
	}
}

// Wait блокирует до завершения всех запущенных pipeline-горутин.
// Вызывается при graceful shutdown после остановки диспетчера.
func (w *Workflow) Wait() {
	w.wg.Wait()
}

// HandleCreate регистрирует заявку и запускает pipeline в фоне.
func (w *Workflow) HandleCreate(ctx context.Context, cmd domain.Command) {
	name := strings.TrimSpace(cmd.AgentName)
	if name == "" {
		w.notifier.Error(ctx, "-", "Create rejected: agent name is empty")
		return
	}

	if existing, err := w.store.GetAgentByName(ctx, name); err == nil && existing != nil {
		w.notifier.Error(ctx, name, fmt.Sprintf("Create rejected: agent %q already exists", name))
		return
	}

	target := domain.DeployTarget(cmd.Target)
	if target != domain.TargetContainer {
		target = domain.TargetLocalProcess
	}

	now := time.Now().UTC()
	agent := &domain.Agent{
		ID:        uuid.New().String(),
		Name:      name,
		Goal:      cmd.Goal,
		State:     domain.StateRequested,
		Risk:      domain.ParseRiskLevel(cmd.Risk),
		Target:    target,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := w.store.CreateAgent(ctx, agent); err != nil {
		w.logger.Error("failed to persist agent request", zap.String("name", name), zap.Error(err))
		w.notifier.Error(ctx, name, "Create failed: could not persist request")
		return
	}

	w.logger.Info("agent requested",
		zap.String("agent_id", agent.ID),
		zap.String("name", agent.Name),
		zap.String("risk", agent.Risk.String()))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runPipeline(ctx, agent)
	}()
}

// runPipeline — сценарий REQUESTED -> ACTIVE. Любой сбой либо гасится
// recovery-движком (агент возвращается на ранний этап), либо завершается
// переходом в FAILED. Паника в pipeline не должна уронить диспетчер.
func (w *Workflow) runPipeline(ctx context.Context, agent *domain.Agent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("pipeline panic", zap.String("agent_id", agent.ID), zap.Any("panic", r))
			w.states.TransitionToFailed(ctx, agent.ID, "internal pipeline error", fmt.Errorf("panic: %v", r))
		}
	}()

	// Этап 1: черновой план
	if !w.states.Transition(ctx, agent.ID, domain.StatePlanningInitial, "request accepted") {
		return
	}
	summary, err := w.planner.BuildInitialPlan(ctx, agent)
	if err != nil {
		w.states.TransitionToFailed(ctx, agent.ID, "initial planning failed", err)
		return
	}
	w.notifier.StatusUpdate(ctx, agent.Name, "Initial plan ready: "+summary)

	// Этап 2-4: детальный план, классификация риска, подтверждение.
	// Отклоненный план уходит на перепланирование, но не бесконечно.
	var plan *domain.DetailedPlan
	for attempt := 0; ; attempt++ {
		if attempt >= maxReplans {
			w.states.TransitionToFailed(ctx, agent.ID,
				fmt.Sprintf("plan rejected %d times", attempt), nil)
			return
		}

		if !w.states.Transition(ctx, agent.ID, domain.StatePlanningDetail, "building detailed plan") {
			return
		}
		plan, err = w.planner.BuildDetailedPlan(ctx, agent)
		if err != nil {
			w.states.TransitionToFailed(ctx, agent.ID, "detailed planning failed", err)
			return
		}
		if err := w.store.SavePlan(ctx, plan); err != nil {
			w.states.TransitionToFailed(ctx, agent.ID, "failed to persist plan", err)
			return
		}

		// Анализатор может поднять заявленный риск по тексту цели
		if assessed := w.riskcls.Assess(agent); assessed > agent.Risk {
			agent.Risk = assessed
			if err := w.store.UpdateAgentRisk(ctx, agent.ID, assessed); err != nil {
				w.logger.Error("failed to persist assessed risk",
					zap.String("agent_id", agent.ID), zap.Error(err))
			}
		}
		if !w.states.Transition(ctx, agent.ID, domain.StateSecurityDefined,
			"risk classified as "+agent.Risk.String()) {
			return
		}

		if !approval.ShouldRequestApproval(agent.Risk, domain.ApprovalDetailedPlan) {
			// Безопасный агент: сразу к генерации
			break
		}

		if !w.states.Transition(ctx, agent.ID, domain.StateWaitingApproval, "awaiting operator decision") {
			return
		}
		details := fmt.Sprintf("Detailed plan for %q (risk %s, target %s): %s",
			agent.Name, agent.Risk, plan.Deployment.Target, summary)
		approvalID, err := w.gate.RequestApproval(ctx, agent.ID, domain.ApprovalDetailedPlan, details)
		if err != nil {
			w.states.TransitionToFailed(ctx, agent.ID, "failed to create approval request", err)
			return
		}

		status, err := w.gate.WaitForApproval(ctx, approvalID, 0)
		if err != nil {
			w.states.TransitionToFailed(ctx, agent.ID, "approval wait aborted", err)
			return
		}
		switch status {
		case domain.ApprovalApproved:
			// К генерации
		case domain.ApprovalRejected:
			w.logger.Info("plan rejected, replanning",
				zap.String("agent_id", agent.ID), zap.Int("attempt", attempt+1))
			continue
		default: // TIMEOUT трактуем как неявный отказ без перепланирования
			w.states.TransitionToFailed(ctx, agent.ID, "approval timed out", domain.ErrApprovalTimeout)
			return
		}
		break
	}

	// Этап 5-6: генерация и валидация с repair loop через recovery
	if !w.states.Transition(ctx, agent.ID, domain.StateGenerating, "starting code generation") {
		return
	}
	for {
		if err := w.gen.Generate(ctx, agent, plan); err != nil {
			if !w.recovery.Recover(ctx, agent.ID, domain.FailureGeneration, err, nil) {
				return
			}
			continue // recovery вернул агента в GENERATING
		}

		if !w.states.Transition(ctx, agent.ID, domain.StateValidating, "sources generated") {
			return
		}
		issues := w.valid.Validate(ctx, agent, plan)
		if len(issues) > 0 {
			info := map[string]interface{}{"validation_errors": issues}
			if !w.recovery.Recover(ctx, agent.ID, domain.FailureValidation,
				errors.New("generated code failed validation"), info) {
				return
			}
			continue
		}
		break
	}
	// Этап пройден — счетчики восстановления по нему больше не актуальны
	w.recovery.ClearAttempts(agent.ID, domain.FailureGeneration, domain.FailureValidation)

	// Этап 7: деплой
	if !w.states.Transition(ctx, agent.ID, domain.StateDeploying, "code validated") {
		return
	}
	for {
		res := w.deployer.DeployAgent(ctx, agent.ID, plan.Deployment)
		w.metrics.DeploymentsTotal.WithLabelValues(string(plan.Deployment.Target), deployStatus(res)).Inc()
		if !res.Success {
			if !w.recovery.Recover(ctx, agent.ID, domain.FailureDeployment,
				errors.New(res.Error), nil) {
				return
			}
			continue // recovery остановил остатки и вернул агента в DEPLOYING
		}
		break
	}
	w.recovery.ClearAttempts(agent.ID, domain.FailureDeployment)

	// Этап 8: агент жив, включаем надзор
	if !w.states.Transition(ctx, agent.ID, domain.StateActive, "deployment succeeded") {
		return
	}
	w.monitor.StartMonitoring(ctx, agent.ID, agent.Name, plan.Monitoring)
	w.notifier.Success(ctx, agent.Name, "Agent is active and monitored")
}

func deployStatus(res domain.DeployResult) string {
	if res.Success {
		return "success"
	}
	return "failure"
}

// HandleStop останавливает агента без удаления артефактов.
func (w *Workflow) HandleStop(ctx context.Context, cmd domain.Command) {
	agent, err := w.store.GetAgent(ctx, cmd.AgentID)
	if err != nil {
		w.logger.Warn("stop: unknown agent", zap.String("agent_id", cmd.AgentID), zap.Error(err))
		return
	}

	w.monitor.StopMonitoring(agent.ID)
	res := w.deployer.StopAgent(ctx, agent.ID)
	if !res.Success {
		w.notifier.Error(ctx, agent.Name, "Stop failed: "+res.Error)
		return
	}
	if w.states.Transition(ctx, agent.ID, domain.StatePaused, "stopped by operator") {
		w.notifier.StatusUpdate(ctx, agent.Name, "Agent paused")
	}
}

// HandleStart поднимает приостановленного агента и возобновляет мониторинг.
func (w *Workflow) HandleStart(ctx context.Context, cmd domain.Command) {
	agent, err := w.store.GetAgent(ctx, cmd.AgentID)
	if err != nil {
		w.logger.Warn("start: unknown agent", zap.String("agent_id", cmd.AgentID), zap.Error(err))
		return
	}

	res := w.deployer.StartAgent(ctx, agent.ID)
	if !res.Success {
		w.notifier.Error(ctx, agent.Name, "Start failed: "+res.Error)
		return
	}
	if !w.states.Transition(ctx, agent.ID, domain.StateActive, "started by operator") {
		return
	}

	if plan, err := w.store.GetPlan(ctx, agent.ID); err == nil {
		w.monitor.StartMonitoring(ctx, agent.ID, agent.Name, plan.Monitoring)
	} else {
		w.logger.Warn("start: plan missing, monitoring with defaults",
			zap.String("agent_id", agent.ID), zap.Error(err))
		w.monitor.StartMonitoring(ctx, agent.ID, agent.Name, domain.MonitoringStrategy{})
	}
	w.notifier.Success(ctx, agent.Name, "Agent started")
}

// HandleDelete убирает агента насовсем: мониторинг, процесс/контейнер, запись.
// DELETED — терминальное состояние, повторный Delete по нему — no-op.
func (w *Workflow) HandleDelete(ctx context.Context, cmd domain.Command) {
	agent, err := w.store.GetAgent(ctx, cmd.AgentID)
	if err != nil {
		w.logger.Warn("delete: unknown agent", zap.String("agent_id", cmd.AgentID), zap.Error(err))
		return
	}
	if agent.State == domain.StateDeleted {
		return
	}

	w.monitor.StopMonitoring(agent.ID)
	if res := w.deployer.RemoveAgent(ctx, agent.ID); !res.Success {
		// Артефакты могли не существовать — удаление записи важнее
		w.logger.Warn("delete: runtime cleanup incomplete",
			zap.String("agent_id", agent.ID), zap.String("error", res.Error))
	}
	if w.states.Transition(ctx, agent.ID, domain.StateDeleted, "deleted by operator") {
		w.notifier.StatusUpdate(ctx, agent.Name, "Agent deleted")
	}
}

// HandleApprovalResponse применяет решение оператора к заявке.
// Ожидающий pipeline увидит его на следующем такте опроса.
func (w *Workflow) HandleApprovalResponse(ctx context.Context, cmd domain.Command) {
	status := domain.ApprovalRejected
	if cmd.Approved {
		status = domain.ApprovalApproved
	}
	if err := w.gate.ProcessApproval(ctx, cmd.ApprovalID, status, cmd.IssuedBy, cmd.Notes); err != nil {
		w.logger.Warn("approval response not applied",
			zap.String("approval_id", cmd.ApprovalID), zap.Error(err))
	}
}
