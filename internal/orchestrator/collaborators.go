package orchestrator

import (
	"context"

	"github.com/20SB/saba/internal/domain"
)

// Planner — внешний планировщик (LLM или статический fallback).
// Черновой план — человекочитаемая сводка для оператора,
// детальный — структурированный контракт для деплоя и мониторинга.
type Planner interface {
	BuildInitialPlan(ctx context.Context, agent *domain.Agent) (string, error)
	BuildDetailedPlan(ctx context.Context, agent *domain.Agent) (*domain.DetailedPlan, error)
}

// Generator материализует исходники агента в воркспейсе.
type Generator interface {
	Generate(ctx context.Context, agent *domain.Agent, plan *domain.DetailedPlan) error
}

// Validator проверяет сгенерированные исходники перед деплоем.
// Пустой срез — код пригоден; непустой — список замечаний для repair loop.
type Validator interface {
	Validate(ctx context.Context, agent *domain.Agent, plan *domain.DetailedPlan) []string
}

// RiskClassifier оценивает эффективный риск агента по заявке.
// Возвращенный уровень не может быть ниже заявленного оператором.
type RiskClassifier interface {
	Assess(agent *domain.Agent) domain.RiskLevel
}
