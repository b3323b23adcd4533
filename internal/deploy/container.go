package deploy

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/moby/go-archive"

	"github.com/20SB/saba/internal/domain"
)

// ContainerRuntime — узкий контракт к контейнерному рантайму.
// В продe это Docker Engine, в тестах — фейк.
type ContainerRuntime interface {
	BuildImage(ctx context.Context, tag, contextDir string) error
	CreateContainer(ctx context.Context, name, image string, limits domain.ResourceLimits, env map[string]string) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	IsRunning(ctx context.Context, id string) (bool, error)
}

// DockerRuntime — адаптер поверх Docker Engine SDK
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime подключается к Docker Engine.
// host пустой — берем стандартный сокет из окружения (DOCKER_HOST).
func NewDockerRuntime(host string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: failed to create client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// BuildImage собирает образ из сгенерированного дерева исходников агента.
// Тег всегда <agent-name>:latest — соглашение платформы.
func (d *DockerRuntime) BuildImage(ctx context.Context, tag, contextDir string) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("docker: failed to tar build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("docker: image build failed: %w", err)
	}
	defer resp.Body.Close()

	// Демон стримит прогресс сборки; пока тело не вычитано, сборка не завершена
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("docker: image build stream error: %w", err)
	}
	return nil
}

func (d *DockerRuntime) CreateContainer(ctx context.Context, name, image string, limits domain.ResourceLimits, env map[string]string) (string, error) {
	memory, err := ParseMemoryLimit(limits.MemoryLimit)
	if err != nil {
		return "", fmt.Errorf("docker: %w", err)
	}
	nanoCPUs, err := ParseCPULimit(limits.CPULimit)
	if err != nil {
		return "", fmt.Errorf("docker: %w", err)
	}

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image: image,
			Env:   envList,
		},
		&container.HostConfig{
			// Упавший агент поднимается рантаймом сам, пока его не остановили явно
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
			Resources: container.Resources{
				Memory:   memory,
				NanoCPUs: nanoCPUs,
			},
		},
		nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("docker: container create failed: %w", err)
	}
	return created.ID, nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("docker: container start failed: %w", err)
	}
	return nil
}

func (d *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("docker: container stop failed: %w", err)
	}
	return nil
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("docker: container remove failed: %w", err)
	}
	return nil
}

func (d *DockerRuntime) IsRunning(ctx context.Context, id string) (bool, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return false, fmt.Errorf("docker: container inspect failed: %w", err)
	}
	return info.State != nil && info.State.Running, nil
}
