package planner

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
)

// Validator проверяет сгенерированное дерево перед деплоем: файлы на месте,
// Go-исходники синтаксически корректны. Запуск тулчейна здесь не нужен —
// сборка и так произойдет на этапе деплоя, а валидация должна ловить
// мусор от генератора раньше и дешевле.
type Validator struct {
	workspace string
	logger    *zap.Logger
}

func NewValidator(workspace string, logger *zap.Logger) *Validator {
	return &Validator{
		workspace: workspace,
		logger:    logger.With(zap.String("mod", "validator")),
	}
}

// Validate возвращает список замечаний; пустой срез — код пригоден.
func (v *Validator) Validate(ctx context.Context, agent *domain.Agent, plan *domain.DetailedPlan) []string {
	dir := filepath.Join(v.workspace, agent.Name)
	var issues []string

	required := []string{"main.go", "go.mod"}
	if plan.Deployment.Target == domain.TargetContainer {
		required = append(required, "Dockerfile")
	}
	for _, name := range required {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			issues = append(issues, fmt.Sprintf("missing %s: %v", name, err))
		}
	}

	issues = append(issues, v.checkGoSyntax(dir)...)

	if len(issues) > 0 {
		v.logger.Warn("validation failed",
			zap.String("agent_id", agent.ID),
			zap.Strings("issues", issues))
	} else {
		v.logger.Info("validation passed", zap.String("agent_id", agent.ID))
	}
	return issues
}

// checkGoSyntax прогоняет все .go файлы дерева через парсер.
func (v *Validator) checkGoSyntax(dir string) []string {
	var issues []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{fmt.Sprintf("read source dir: %v", err)}
	}

	fset := token.NewFileSet()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if _, err := parser.ParseFile(fset, path, nil, parser.AllErrors); err != nil {
			issues = append(issues, fmt.Sprintf("syntax error in %s: %v", e.Name(), err))
		}
	}
	return issues
}
