package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/20SB/saba/internal/domain"
)

// ReliableRuntime оборачивает ContainerRuntime в Rate Limiter и Circuit Breaker.
// Мониторинг опрашивает рантайм каждый тик по каждому активному агенту, поэтому
// Docker API надо беречь. Ретраи — только на чтении (IsRunning): повторенный
// create/build может наплодить дубликатов, а по контракту сбои сборки и так
// фатальны и не ретраятся.
type ReliableRuntime struct {
	next    ContainerRuntime
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableRuntime(next ContainerRuntime) *ReliableRuntime {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "container-runtime",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (рантайм лежит)
			return counts.ConsecutiveFailures > 5
		},
	})

	// 50 вызовов в секунду с небольшим бёрстом — с запасом для сотен сессий
	limiter := rate.NewLimiter(rate.Limit(50), 10)

	return &ReliableRuntime{next: next, cb: cb, limiter: limiter}
}

func (r *ReliableRuntime) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("runtime rate limit: %w", err)
	}
	return nil
}

func (r *ReliableRuntime) BuildImage(ctx context.Context, tag, contextDir string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.BuildImage(ctx, tag, contextDir)
}

func (r *ReliableRuntime) CreateContainer(ctx context.Context, name, image string, limits domain.ResourceLimits, env map[string]string) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.next.CreateContainer(ctx, name, image, limits, env)
}

func (r *ReliableRuntime) StartContainer(ctx context.Context, id string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.StartContainer(ctx, id)
}

func (r *ReliableRuntime) StopContainer(ctx context.Context, id string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.StopContainer(ctx, id)
}

func (r *ReliableRuntime) RemoveContainer(ctx context.Context, id string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.RemoveContainer(ctx, id)
}

// IsRunning — горячий путь мониторинга: ретраи сглаживают сетевые лаги,
// предохранитель отсекает шторм запросов к лежащему демону.
func (r *ReliableRuntime) IsRunning(ctx context.Context, id string) (bool, error) {
	if err := r.wait(ctx); err != nil {
		return false, err
	}

	var running bool
	_, err := r.cb.Execute(func() (interface{}, error) {
		retrier := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
		)
		return nil, retrier.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			var callErr error
			running, callErr = r.next.IsRunning(tCtx, id)
			return callErr
		})
	})
	if err != nil {
		return false, err
	}
	return running, nil
}
