package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/20SB/saba/internal/domain"
)

const agentColumns = `id, name, goal, state, risk_level, deployment_target, created_at, updated_at`

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var a domain.Agent
	var risk string
	err := row.Scan(&a.ID, &a.Name, &a.Goal, &a.State, &risk, &a.Target, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to scan agent: %w", err)
	}
	a.Risk = domain.ParseRiskLevel(risk)
	return &a, nil
}

// CreateAgent регистрирует нового агента в состоянии REQUESTED
func (r *AgentRepo) CreateAgent(ctx context.Context, a *domain.Agent) error {
	query := `INSERT INTO agents (id, name, goal, state, risk_level, deployment_target)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, a.ID, a.Name, a.Goal, a.State, a.Risk.String(), a.Target)
	if err != nil {
		return fmt.Errorf("postgres: failed to create agent: %w", err)
	}
	return nil
}

// GetAgent возвращает агента по ID. Неизвестный ID — domain.ErrNotFound.
func (r *AgentRepo) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	return scanAgent(r.pool.QueryRow(ctx, query, id))
}

// GetAgentByName ищет агента по уникальному имени
func (r *AgentRepo) GetAgentByName(ctx context.Context, name string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE name = $1`
	return scanAgent(r.pool.QueryRow(ctx, query, name))
}

// ListAgents возвращает всех агентов для таблицы консоли
func (r *AgentRepo) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list agents: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// UpdateAgentState меняет состояние агента.
// Валидность перехода проверяет State Machine — репозиторий только персистит.
func (r *AgentRepo) UpdateAgentState(ctx context.Context, id string, state domain.AgentState) error {
	query := `UPDATE agents SET state = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, state, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update agent state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateAgentRisk фиксирует эффективный уровень риска после анализа заявки
func (r *AgentRepo) UpdateAgentRisk(ctx context.Context, id string, risk domain.RiskLevel) error {
	query := `UPDATE agents SET risk_level = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, risk.String(), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update agent risk: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
