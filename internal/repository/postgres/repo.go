package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/20SB/saba/internal/infra"
)

// AgentRepo — единая точка доступа к PostgreSQL.
// Методы по доменам разнесены по файлам (agents, approvals, deployments...),
// но пул соединений один на весь процесс.
type AgentRepo struct {
	pool *pgxpool.Pool
}

// NewAgentRepo создает пул pgx по конфигу и возвращает репозиторий
func NewAgentRepo(ctx context.Context, cfg infra.DatabaseConfig) (*AgentRepo, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	return &AgentRepo{pool: pool}, nil
}

// Ping проверяет доступность базы при старте
func (r *AgentRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close закрывает пул. Вызывается при остановке сервиса.
func (r *AgentRepo) Close() {
	r.pool.Close()
}
