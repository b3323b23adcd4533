package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/infra"
)

// Store — узкий контракт менеджера деплоя к персистенции
type Store interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	GetPlan(ctx context.Context, agentID string) (*domain.DetailedPlan, error)
	SaveDeployment(ctx context.Context, d *domain.DeploymentRecord) error
	GetDeployment(ctx context.Context, agentID string) (*domain.DeploymentRecord, error)
	UpdateDeploymentStatus(ctx context.Context, agentID string, status domain.DeploymentStatus) error
	DeleteDeployment(ctx context.Context, agentID string) error
}

// Manager управляет жизненным циклом агента как локального процесса или
// контейнера. Все операции возвращают структурированный результат: ни одна
// паника/ошибка не пролетает мимо границы компонента. Конкурентные деплои
// одного агента менеджер не сериализует — по дисциплине воркфлоу в DEPLOYING
// находится не больше одного агента за раз.
type Manager struct {
	store     Store
	runtime   ContainerRuntime
	processes *processTable
	logger    *zap.Logger

	workspace      string
	installTimeout time.Duration
	buildTimeout   time.Duration
	startupGrace   time.Duration
	restartDelay   time.Duration

	// Шаги локального деплоя; подменяются только в тестах
	installCmd string
	buildCmd   string
}

func NewManager(store Store, runtime ContainerRuntime, cfg infra.DeployConfig, logger *zap.Logger) *Manager {
	return &Manager{
		store:          store,
		runtime:        runtime,
		processes:      newProcessTable(),
		logger:         logger.With(zap.String("mod", "deploy")),
		workspace:      cfg.Workspace,
		installTimeout: cfg.InstallTimeout,
		buildTimeout:   cfg.BuildTimeout,
		startupGrace:   cfg.StartupGrace,
		restartDelay:   cfg.RestartDelay,
		installCmd:     installCmd,
		buildCmd:       buildCmd,
	}
}

// sourceDir — путь к сгенерированному дереву исходников агента
func (m *Manager) sourceDir(agentName string) string {
	return filepath.Join(m.workspace, agentName)
}

// DeployAgent разворачивает агента согласно стратегии из плана
func (m *Manager) DeployAgent(ctx context.Context, agentID string, strategy domain.DeploymentStrategy) domain.DeployResult {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return domain.DeployResult{Error: fmt.Sprintf("unknown agent %s: %v", agentID, err)}
	}

	var result domain.DeployResult
	switch strategy.Target {
	case domain.TargetContainer:
		result = m.deployContainer(ctx, agent, strategy)
	default:
		result = m.deployLocal(ctx, agent, strategy)
	}

	if !result.Success {
		m.logger.Error("deployment failed",
			zap.String("agent_id", agentID),
			zap.String("target", string(strategy.Target)),
			zap.String("error", result.Error))
		return result
	}

	record := &domain.DeploymentRecord{
		AgentID: agentID,
		Target:  strategy.Target,
		Status:  domain.DeployRunning,
	}
	if strategy.Target == domain.TargetContainer {
		record.Handle = result.ContainerID
	} else {
		record.Handle = strconv.Itoa(result.ProcessID)
	}
	if err := m.store.SaveDeployment(ctx, record); err != nil {
		// Агент запущен, но запись не сохранилась — честно сообщаем об этом
		m.logger.Error("deployed but failed to persist record", zap.String("agent_id", agentID), zap.Error(err))
	}

	m.logger.Info("agent deployed",
		zap.String("agent_id", agentID),
		zap.String("target", string(strategy.Target)),
		zap.String("handle", record.Handle))
	return result
}

func (m *Manager) deployLocal(ctx context.Context, agent *domain.Agent, strategy domain.DeploymentStrategy) domain.DeployResult {
	dir := m.sourceDir(agent.Name)

	// Install и build — каждый под своим таймаутом, сбой фатален
	if err := m.runStep(ctx, dir, m.installCmd, m.installTimeout, strategy.Environment); err != nil {
		return domain.DeployResult{Error: err.Error()}
	}
	if err := m.runStep(ctx, dir, m.buildCmd, m.buildTimeout, strategy.Environment); err != nil {
		return domain.DeployResult{Error: err.Error()}
	}

	pid, err := m.spawnLocal(ctx, agent.ID, dir, strategy.Environment)
	if err != nil {
		return domain.DeployResult{Error: err.Error()}
	}
	return domain.DeployResult{Success: true, ProcessID: pid}
}

func (m *Manager) deployContainer(ctx context.Context, agent *domain.Agent, strategy domain.DeploymentStrategy) domain.DeployResult {
	// Оркестратор может работать без Docker (только локальные процессы)
	if m.runtime == nil {
		return domain.DeployResult{Error: "container runtime is not configured"}
	}

	tag := agent.Name + ":latest"

	if err := m.runtime.BuildImage(ctx, tag, m.sourceDir(agent.Name)); err != nil {
		return domain.DeployResult{Error: err.Error()}
	}

	// Редеплой с тем же именем: прошлый контейнер убираем, имя занято
	if old, err := m.store.GetDeployment(ctx, agent.ID); err == nil && old.Target == domain.TargetContainer {
		if err := m.runtime.StopContainer(ctx, old.Handle); err != nil {
			m.logger.Debug("previous container stop skipped", zap.String("agent_id", agent.ID), zap.Error(err))
		}
		if err := m.runtime.RemoveContainer(ctx, old.Handle); err != nil {
			m.logger.Debug("previous container remove skipped", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}

	id, err := m.runtime.CreateContainer(ctx, agent.Name, tag, strategy.ResourceLimits, strategy.Environment)
	if err != nil {
		return domain.DeployResult{Error: err.Error()}
	}
	if err := m.runtime.StartContainer(ctx, id); err != nil {
		return domain.DeployResult{Error: err.Error()}
	}
	return domain.DeployResult{Success: true, ContainerID: id}
}

// StopAgent останавливает процесс/контейнер и помечает деплой stopped
func (m *Manager) StopAgent(ctx context.Context, agentID string) domain.DeployResult {
	record, err := m.store.GetDeployment(ctx, agentID)
	if err != nil {
		return domain.DeployResult{Error: fmt.Sprintf("no deployment for agent %s: %v", agentID, err)}
	}

	switch record.Target {
	case domain.TargetContainer:
		// Запись о контейнере могла пережить рестарт оркестратора без Docker
		if m.runtime == nil {
			return domain.DeployResult{Error: "container runtime is not configured"}
		}
		if err := m.runtime.StopContainer(ctx, record.Handle); err != nil {
			return domain.DeployResult{Error: err.Error()}
		}
	default:
		handle, ok := m.processes.get(agentID)
		if !ok {
			return domain.DeployResult{Error: "no tracked process handle (orchestrator restarted?)"}
		}
		if !handle.exited() {
			// Сигнал завершения; reaper-горутина закроет done
			if err := handle.proc.Signal(terminationSignal); err != nil {
				return domain.DeployResult{Error: fmt.Sprintf("failed to signal process: %v", err)}
			}
		}
		m.processes.remove(agentID)
	}

	if err := m.store.UpdateDeploymentStatus(ctx, agentID, domain.DeployStopped); err != nil {
		m.logger.Warn("failed to persist stopped status", zap.String("agent_id", agentID), zap.Error(err))
	}
	m.logger.Info("agent stopped", zap.String("agent_id", agentID))
	return domain.DeployResult{Success: true}
}

// StartAgent запускает остановленного агента.
// Для локального процесса живого handle после stop нет — стратегию
// восстанавливаем из сохраненного плана и деплоим заново.
func (m *Manager) StartAgent(ctx context.Context, agentID string) domain.DeployResult {
	record, err := m.store.GetDeployment(ctx, agentID)
	if err != nil {
		return domain.DeployResult{Error: fmt.Sprintf("no deployment for agent %s: %v", agentID, err)}
	}

	if record.Target == domain.TargetContainer {
		if m.runtime == nil {
			return domain.DeployResult{Error: "container runtime is not configured"}
		}
		if err := m.runtime.StartContainer(ctx, record.Handle); err != nil {
			return domain.DeployResult{Error: err.Error()}
		}
		if err := m.store.UpdateDeploymentStatus(ctx, agentID, domain.DeployRunning); err != nil {
			m.logger.Warn("failed to persist running status", zap.String("agent_id", agentID), zap.Error(err))
		}
		return domain.DeployResult{Success: true, ContainerID: record.Handle}
	}

	plan, err := m.store.GetPlan(ctx, agentID)
	if err != nil {
		return domain.DeployResult{Error: fmt.Sprintf("cannot restore strategy for agent %s: %v", agentID, err)}
	}
	return m.DeployAgent(ctx, agentID, plan.Deployment)
}

// RestartAgent — наблюдаемо stop, фиксированная пауза, start
func (m *Manager) RestartAgent(ctx context.Context, agentID string) domain.DeployResult {
	if res := m.StopAgent(ctx, agentID); !res.Success {
		return res
	}
	select {
	case <-time.After(m.restartDelay):
	case <-ctx.Done():
		return domain.DeployResult{Error: ctx.Err().Error()}
	}
	return m.StartAgent(ctx, agentID)
}

// IsAgentRunning сообщает живость агента.
// domain.ErrNotFound означает «записи о деплое нет вообще» — мониторинг
// классифицирует такое как unknown, а не unhealthy.
func (m *Manager) IsAgentRunning(ctx context.Context, agentID string) (bool, error) {
	record, err := m.store.GetDeployment(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, domain.ErrNotFound
		}
		return false, err
	}

	if record.Target == domain.TargetContainer {
		if m.runtime == nil {
			return false, errors.New("container runtime is not configured")
		}
		return m.runtime.IsRunning(ctx, record.Handle)
	}

	handle, ok := m.processes.get(agentID)
	if !ok {
		return false, nil
	}
	return !handle.exited(), nil
}

// RemoveAgent убирает деплой при удалении агента: останавливает, чистит запись
func (m *Manager) RemoveAgent(ctx context.Context, agentID string) domain.DeployResult {
	if record, err := m.store.GetDeployment(ctx, agentID); err == nil {
		if res := m.StopAgent(ctx, agentID); !res.Success {
			m.logger.Warn("stop during removal failed", zap.String("agent_id", agentID), zap.String("error", res.Error))
		}
		if record.Target == domain.TargetContainer {
			// Без Docker контейнер не убрать, но удаление записи не блокируем
			if m.runtime == nil {
				m.logger.Warn("container remove skipped: runtime is not configured", zap.String("agent_id", agentID))
			} else if err := m.runtime.RemoveContainer(ctx, record.Handle); err != nil {
				m.logger.Warn("container remove failed", zap.String("agent_id", agentID), zap.Error(err))
			}
		}
	}
	if err := m.store.DeleteDeployment(ctx, agentID); err != nil {
		return domain.DeployResult{Error: err.Error()}
	}
	return domain.DeployResult{Success: true}
}
