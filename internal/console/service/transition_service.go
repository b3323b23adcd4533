package service

import (
	"context"
	"fmt"

	"github.com/20SB/saba/internal/audit"
)

const defaultTransitionLimit = 200

// TransitionProvider описывает контракт для чтения журнала переходов.
// Мы используем структуру TransitionEvent из пакета audit, чтобы
// сохранить единую модель данных.
type TransitionProvider interface {
	ListTransitions(ctx context.Context, agentID string, limit int) ([]audit.TransitionEvent, error)
}

type TransitionService struct {
	repo TransitionProvider
}

func NewTransitionService(repo TransitionProvider) *TransitionService {
	return &TransitionService{repo: repo}
}

// FetchTransitions возвращает историю переходов агента, свежие первыми.
// agentID пустой — вся лента по всем агентам.
func (s *TransitionService) FetchTransitions(ctx context.Context, agentID string, limit int) ([]audit.TransitionEvent, error) {
	if limit <= 0 || limit > defaultTransitionLimit {
		limit = defaultTransitionLimit
	}
	events, err := s.repo.ListTransitions(ctx, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("transition_service: failed to fetch transitions: %w", err)
	}
	return events, nil
}
