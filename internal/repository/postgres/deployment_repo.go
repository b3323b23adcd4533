package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/20SB/saba/internal/domain"
)

// SaveDeployment создает или заменяет активную запись о деплое.
// UNIQUE(agent_id) в схеме гарантирует инвариант «один активный деплой на агента»,
// поэтому повторный деплой — это UPSERT, а не вторая строка.
func (r *AgentRepo) SaveDeployment(ctx context.Context, d *domain.DeploymentRecord) error {
	query := `
		INSERT INTO deployments (agent_id, target, handle, status, deployed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (agent_id) DO UPDATE
		SET target = EXCLUDED.target,
		    handle = EXCLUDED.handle,
		    status = EXCLUDED.status,
		    deployed_at = NOW()`

	_, err := r.pool.Exec(ctx, query, d.AgentID, d.Target, d.Handle, d.Status)
	if err != nil {
		return fmt.Errorf("postgres: failed to save deployment: %w", err)
	}
	return nil
}

// GetDeployment возвращает активную запись о деплое агента
func (r *AgentRepo) GetDeployment(ctx context.Context, agentID string) (*domain.DeploymentRecord, error) {
	query := `SELECT agent_id, target, handle, status, deployed_at FROM deployments WHERE agent_id = $1`

	var d domain.DeploymentRecord
	err := r.pool.QueryRow(ctx, query, agentID).Scan(&d.AgentID, &d.Target, &d.Handle, &d.Status, &d.DeployedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get deployment: %w", err)
	}
	return &d, nil
}

// UpdateDeploymentStatus фиксирует running/stopped/failed после stop/start
func (r *AgentRepo) UpdateDeploymentStatus(ctx context.Context, agentID string, status domain.DeploymentStatus) error {
	query := `UPDATE deployments SET status = $1 WHERE agent_id = $2`

	result, err := r.pool.Exec(ctx, query, status, agentID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update deployment status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteDeployment удаляет запись при удалении агента
func (r *AgentRepo) DeleteDeployment(ctx context.Context, agentID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM deployments WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete deployment: %w", err)
	}
	return nil
}
