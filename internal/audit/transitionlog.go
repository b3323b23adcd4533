package audit

/*
Файл transitionlog.go реализует асинхронную запись audit trail переходов
состояний агентов.

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят в буферизированный канал, задержки
  записи в БД не тормозят State Machine и воркфлоу.
- Batching & Efficiency: накопление событий в памяти и пакетная запись
  (Bulk Insert) в PostgreSQL по таймеру или при достижении лимита (100 событий).
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  до конца. sync.WaitGroup и закрытие канала гарантируют Final Flush.
- Reliability: воркер изолирован от основного контекста и дописывает остатки
  через context.Background даже когда приложение уже гасится.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []TransitionEvent) error
}

type Recorder interface {
	Record(event TransitionEvent)
}

type TransitionLog struct {
	ch     chan TransitionEvent // Буфер для асинхронности
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	flushInterval time.Duration

	// Защита от записи после остановки
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewTransitionLog(repo StorageInterface, logger *zap.Logger, bufferSize int, flushInterval time.Duration) *TransitionLog {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &TransitionLog{
		ch:            make(chan TransitionEvent, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "transitionlog")),
		flushInterval: flushInterval,
	}
}

func (l *TransitionLog) Start() {
	l.wg.Add(1)
	go l.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (l *TransitionLog) Stop() {
	// 1. Сначала ставим флаг
	atomic.StoreInt32(&l.isClosed, 1)

	// 2. Даем крошечную паузу, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	// 3. Drain Pattern: завершение воркера происходит исключительно через закрытие канала
	l.logger.Info("stopping transition log: closing channel and flushing buffer...")
	close(l.ch)
	l.wg.Wait()
	l.logger.Info("transition log stopped gracefully")
}

func (l *TransitionLog) Record(event TransitionEvent) {
	// Убеждаемся, что таймстемп всегда проставлен
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	// Атомарно проверяем, не закрыт ли канал
	if atomic.LoadInt32(&l.isClosed) == 1 {
		l.logger.Warn("transition event dropped: log is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении буфера событие уходит в обычный лог,
	// чтобы след не терялся совсем
	select {
	case l.ch <- event:
	default:
		l.logger.Error("transition_buffer_overflow",
			zap.String("agent_id", event.AgentID),
			zap.String("to_state", event.To),
		)
	}
}

func (l *TransitionLog) worker() {
	defer l.wg.Done()

	batch := make([]TransitionEvent, 0, 100)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Используем Background, так как основной контекст может быть уже закрыт
			if err := l.repo.WriteBatch(context.Background(), batch); err != nil {
				l.logger.Error("transition flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-l.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный flush и выходим
				flush()
				l.logger.Info("transition log worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
