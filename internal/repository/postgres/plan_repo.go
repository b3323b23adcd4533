package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/20SB/saba/internal/domain"
)

// SavePlan персистит детальный план агента целиком как JSONB.
// Схема плана принадлежит планировщику — нам важны только стратегии
// деплоя и мониторинга, поэтому раскладывать его по колонкам нет смысла.
func (r *AgentRepo) SavePlan(ctx context.Context, plan *domain.DetailedPlan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal plan: %w", err)
	}

	query := `
		INSERT INTO plans (agent_id, plan)
		VALUES ($1, $2)
		ON CONFLICT (agent_id) DO UPDATE SET plan = EXCLUDED.plan, updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, plan.AgentID, raw); err != nil {
		return fmt.Errorf("postgres: failed to save plan: %w", err)
	}
	return nil
}

// GetPlan возвращает сохраненный план. Нужен, например, локальному StartAgent,
// которому после остановки неоткуда взять стратегию, кроме как из плана.
func (r *AgentRepo) GetPlan(ctx context.Context, agentID string) (*domain.DetailedPlan, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT plan FROM plans WHERE agent_id = $1`, agentID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get plan: %w", err)
	}

	var plan domain.DetailedPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("postgres: corrupted plan json: %w", err)
	}
	plan.AgentID = agentID
	return &plan, nil
}
