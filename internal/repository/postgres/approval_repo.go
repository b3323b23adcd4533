package postgres

/*
Файл approval_repo.go содержит реализацию методов для механизма Human-in-the-loop (HITL, «человек в контуре»).
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/20SB/saba/internal/domain"
)

const approvalColumns = `id, agent_id, approval_type, details, status, approver, notes, requested_at, responded_at`

func scanApproval(row pgx.Row) (*domain.ApprovalRequest, error) {
	var app domain.ApprovalRequest
	var approver, notes sql.NullString // Используем для обработки NULL из БД
	var respondedAt sql.NullTime

	err := row.Scan(
		&app.ID,
		&app.AgentID,
		&app.Type,
		&app.Details,
		&app.Status,
		&approver,
		&notes,
		&app.RequestedAt,
		&respondedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to scan approval: %w", err)
	}

	// Маппим NULL значения (если есть)
	if approver.Valid {
		val := approver.String
		app.Approver = &val
	}
	if notes.Valid {
		val := notes.String
		app.Notes = &val
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		app.RespondedAt = &t
	}
	return &app, nil
}

// CreateApproval создает PENDING заявку, которую оператор увидит в Console API
func (r *AgentRepo) CreateApproval(ctx context.Context, app *domain.ApprovalRequest) error {
	query := `INSERT INTO approvals (id, agent_id, approval_type, details, status)
	          VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, app.ID, app.AgentID, app.Type, app.Details, app.Status)
	if err != nil {
		return fmt.Errorf("postgres: failed to create approval request: %w", err)
	}
	return nil
}

// GetApprovalByID получение деталей запроса для анализа и опроса в wait-цикле
func (r *AgentRepo) GetApprovalByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`
	return scanApproval(r.pool.QueryRow(ctx, query, id))
}

// FindApprovals фильтрация и выборка списка запросов (Decision Queue)
func (r *AgentRepo) FindApprovals(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`

	var args []interface{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY requested_at DESC LIMIT 100"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approvals: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.ApprovalRequest, 0)
	for rows.Next() {
		app, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, app)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// ResolveApproval атомарно фиксирует решение по заявке.
// Условие WHERE status = 'PENDING' исключает Double Decision: заявка покидает
// PENDING ровно один раз, опоздавшее решение получает ErrAlreadyProcessed.
func (r *AgentRepo) ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, approver, notes string) error {
	query := `
		UPDATE approvals
		SET status = $1,
		    approver = NULLIF($2, ''),
		    notes = NULLIF($3, ''),
		    responded_at = NOW()
		WHERE id = $4 AND status = 'PENDING'`

	result, err := r.pool.Exec(ctx, query, status, approver, notes, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to resolve approval: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Строк нет: либо ID неверный, либо решение уже было принято ранее.
		// Различаем эти случаи для честной диагностики.
		if _, err := r.GetApprovalByID(ctx, id); errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadyProcessed
	}
	return nil
}
