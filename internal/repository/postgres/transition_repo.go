package postgres

import (
	"context"
	"fmt"

	"github.com/20SB/saba/internal/audit"
)

// WriteBatch сохраняет пачку событий переходов за один проход.
// Вызывается воркером батч-записи (internal/audit), не горячим путем.
func (r *AgentRepo) WriteBatch(ctx context.Context, events []audit.TransitionEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Multi-row INSERT одним запросом: меньше round-trip'ов, чем построчно
	query := `INSERT INTO transitions (id, agent_id, from_state, to_state, reason, occurred_at) VALUES `
	args := make([]interface{}, 0, len(events)*6)
	for i, e := range events {
		if i > 0 {
			query += ", "
		}
		base := i * 6
		query += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, e.ID, e.AgentID, e.From, e.To, e.Reason, e.OccurredAt)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: failed to write transition batch: %w", err)
	}
	return nil
}

// ListTransitions возвращает историю переходов агента для консоли (свежие первыми)
func (r *AgentRepo) ListTransitions(ctx context.Context, agentID string, limit int) ([]audit.TransitionEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	// Пустой agentID — общая лента по всем агентам
	query := `
		SELECT id, agent_id, from_state, to_state, reason, occurred_at
		FROM transitions
		WHERE ($1 = '' OR agent_id = $1)
		ORDER BY occurred_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query transitions: %w", err)
	}
	defer rows.Close()

	results := make([]audit.TransitionEvent, 0)
	for rows.Next() {
		var e audit.TransitionEvent
		if err := rows.Scan(&e.ID, &e.AgentID, &e.From, &e.To, &e.Reason, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan transition: %w", err)
		}
		results = append(results, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
