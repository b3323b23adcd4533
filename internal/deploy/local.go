package deploy

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Соглашения локального деплоя: сгенерированное дерево агента — Go-модуль,
// который ставится, собирается и запускается по фиксированным относительным путям.
const (
	installCmd = "go mod download"
	buildCmd   = "go build -o bin/agent ."
	entryPoint = "bin/agent"
)

// Мягкое завершение: даем агенту шанс дописать буферы
var terminationSignal = syscall.SIGTERM

// processHandle — живой локальный процесс агента.
// Хранится только в памяти: после рестарта оркестратора управлять ранее
// запущенными процессами нечем (документированный пробел).
type processHandle struct {
	proc *os.Process
	done chan struct{} // Закрывается, когда процесс завершился
}

func (h *processHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// processTable — явное состояние менеджера, без глобальных мап
type processTable struct {
	mu      sync.RWMutex
	handles map[string]*processHandle // agentID -> handle
}

func newProcessTable() *processTable {
	return &processTable{handles: make(map[string]*processHandle)}
}

func (t *processTable) get(agentID string) (*processHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handles[agentID]
	return h, ok
}

func (t *processTable) put(agentID string, h *processHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles[agentID] = h
}

func (t *processTable) remove(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, agentID)
}

// runStep выполняет install/build шаг под собственным таймаутом.
// Превышение или ненулевой код выхода фатальны: результат с диагностикой, без ретраев.
func (m *Manager) runStep(ctx context.Context, dir, command string, timeout time.Duration, env map[string]string) error {
	sCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(command)
	cmd := exec.CommandContext(sCtx, parts[0], parts[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), flattenEnv(env)...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if sCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("step %q timed out after %v", command, timeout)
		}
		return fmt.Errorf("step %q failed: %v: %s", command, err, truncate(string(out), 500))
	}
	return nil
}

// spawnLocal запускает долгоживущий процесс агента с перенаправлением
// stdout/stderr в append-only лог-файлы и проверяет грейс-период.
func (m *Manager) spawnLocal(ctx context.Context, agentID, dir string, env map[string]string) (int, error) {
	stdout, err := m.openLogFile(agentID, "stdout")
	if err != nil {
		return 0, err
	}
	stderr, err := m.openLogFile(agentID, "stderr")
	if err != nil {
		stdout.Close()
		return 0, err
	}

	cmd := exec.Command(filepath.Join(dir, entryPoint))
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), flattenEnv(env)...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return 0, fmt.Errorf("failed to spawn process: %w", err)
	}

	handle := &processHandle{proc: cmd.Process, done: make(chan struct{})}
	m.processes.put(agentID, handle)

	// Reaper: ждем завершения, чтобы не копить зомби, и помечаем handle
	go func() {
		defer stdout.Close()
		defer stderr.Close()
		err := cmd.Wait()
		close(handle.done)
		m.logger.Info("local agent process exited",
			zap.String("agent_id", agentID),
			zap.Int("pid", cmd.Process.Pid),
			zap.Error(err))
	}()

	// Грейс-период: мгновенно падающий процесс — это не деплой, а сбой
	select {
	case <-handle.done:
		m.processes.remove(agentID)
		return 0, fmt.Errorf("Process failed to start")
	case <-time.After(m.startupGrace):
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		m.processes.remove(agentID)
		return 0, ctx.Err()
	}

	return cmd.Process.Pid, nil
}

func (m *Manager) openLogFile(agentID, stream string) (*os.File, error) {
	logDir := filepath.Join(m.workspace, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("%s.%s.log", agentID, stream))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// RecentErrorCount считает строки с ошибками в хвосте stderr-лога агента.
// Это контракт «логгирующего коллаборатора» для мониторинга: дешевая
// эвристика по последним строкам, без парсинга всего файла.
func (m *Manager) RecentErrorCount(agentID string) int {
	path := filepath.Join(m.workspace, "logs", fmt.Sprintf("%s.stderr.log", agentID))
	f, err := os.Open(path)
	if err != nil {
		return 0 // Нет лога — нет ошибок
	}
	defer f.Close()

	// Читаем только хвост (до 64К), старье нас не интересует
	const tailSize = 64 * 1024
	if info, err := f.Stat(); err == nil && info.Size() > tailSize {
		if _, err := f.Seek(-tailSize, 2); err != nil {
			return 0
		}
	}

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.ToLower(scanner.Text())
		if strings.Contains(line, "error") || strings.Contains(line, "panic") {
			count++
		}
	}
	return count
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
