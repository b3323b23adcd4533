package postgres

import (
	"context"
	"fmt"

	"github.com/20SB/saba/internal/domain"
)

// GetGlobalStats собирает агрегаты для дашборда консоли
func (r *AgentRepo) GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	stats := &domain.GlobalStats{
		AgentsByState: make(map[string]int64),
	}

	// 1. Распределение агентов по состояниям
	rows, err := r.pool.Query(ctx, `SELECT state, COUNT(*) FROM agents GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query agent stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan agent stats: %w", err)
		}
		stats.AgentsByState[state] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	stats.FailedAgents = stats.AgentsByState[string(domain.StateFailed)]

	// 2. Очередь решений и активные деплои одним запросом
	err = r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM approvals WHERE status = 'PENDING'),
			(SELECT COUNT(*) FROM deployments WHERE status = 'running')`,
	).Scan(&stats.PendingApprovals, &stats.ActiveDeployments)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query queue stats: %w", err)
	}

	return stats, nil
}
