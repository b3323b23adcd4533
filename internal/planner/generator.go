package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
)

// Шаблон исходников агента. Занимает место LLM-кодогенератора:
// heartbeat-процесс, который пишет в stdout и живет до SIGTERM.
const agentMainTemplate = `package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	name := os.Getenv("AGENT_NAME")
	goal := os.Getenv("AGENT_GOAL")
	log.Printf("agent %%s started, goal: %%s", name, goal)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	ticker := time.NewTicker(%d * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			log.Printf("agent %%s shutting down", name)
			return
		case <-ticker.C:
			log.Printf("agent %%s heartbeat", name)
		}
	}
}
`

const agentGoModTemplate = `module %s

go 1.25
`

const agentDockerfile = `FROM golang:1.25-alpine AS build
WORKDIR /src
COPY . .
RUN go build -o /agent .

FROM alpine:3.22
COPY --from=build /agent /agent
ENTRYPOINT ["/agent"]
`

const heartbeatIntervalSec = 30

// Generator материализует дерево исходников агента в воркспейсе.
// Менеджер деплоя потом соберет его (go build или docker build).
type Generator struct {
	workspace string
	logger    *zap.Logger
}

func NewGenerator(workspace string, logger *zap.Logger) *Generator {
	return &Generator{
		workspace: workspace,
		logger:    logger.With(zap.String("mod", "generator")),
	}
}

func (g *Generator) sourceDir(agentName string) string {
	return filepath.Join(g.workspace, agentName)
}

// Generate пишет main.go, go.mod и, для контейнерной цели, Dockerfile.
// Повторный вызов перезаписывает дерево (repair loop после валидации).
func (g *Generator) Generate(ctx context.Context, agent *domain.Agent, plan *domain.DetailedPlan) error {
	dir := g.sourceDir(agent.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create source dir: %w", err)
	}

	files := map[string]string{
		"main.go": fmt.Sprintf(agentMainTemplate, heartbeatIntervalSec),
		"go.mod":  fmt.Sprintf(agentGoModTemplate, agent.Name),
	}
	if plan.Deployment.Target == domain.TargetContainer {
		files["Dockerfile"] = agentDockerfile
	}

	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	g.logger.Info("sources generated",
		zap.String("agent_id", agent.ID),
		zap.String("dir", dir),
		zap.Int("files", len(files)))
	return nil
}
