package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// collectStorage копирует события: воркер переиспользует слайс батча
type collectStorage struct {
	mu      sync.Mutex
	events  []TransitionEvent
	batches int
}

func (s *collectStorage) WriteBatch(_ context.Context, events []TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	s.batches++
	return nil
}

func (s *collectStorage) snapshot() []TransitionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TransitionEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestTransitionLogDeliversAllOnStop(t *testing.T) {
	storage := &collectStorage{}
	log := NewTransitionLog(storage, zap.NewNop(), 1000, time.Hour)
	log.Start()

	const n = 250
	for i := 0; i < n; i++ {
		log.Record(TransitionEvent{ID: "e", AgentID: "a1", From: "REQUESTED", To: "PLANNING_INITIAL"})
	}
	log.Stop()

	got := storage.snapshot()
	require.Len(t, got, n, "drain on Stop must flush everything")
	// Лимит пачки 100: минимум три записи
	assert.GreaterOrEqual(t, storage.batches, 3)
}

func TestTransitionLogStampsOccurredAt(t *testing.T) {
	storage := &collectStorage{}
	log := NewTransitionLog(storage, zap.NewNop(), 10, time.Hour)
	log.Start()

	log.Record(TransitionEvent{ID: "e1", AgentID: "a1"})
	log.Stop()

	got := storage.snapshot()
	require.Len(t, got, 1)
	assert.False(t, got[0].OccurredAt.IsZero())
}

func TestTransitionLogDropsAfterStop(t *testing.T) {
	storage := &collectStorage{}
	log := NewTransitionLog(storage, zap.NewNop(), 10, time.Hour)
	log.Start()
	log.Stop()

	// Не должно паниковать на закрытом канале и не должно ничего записать
	log.Record(TransitionEvent{ID: "late", AgentID: "a1"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, storage.snapshot())
}

func TestTransitionLogPeriodicFlush(t *testing.T) {
	storage := &collectStorage{}
	log := NewTransitionLog(storage, zap.NewNop(), 100, 20*time.Millisecond)
	log.Start()
	defer log.Stop()

	log.Record(TransitionEvent{ID: "e1", AgentID: "a1"})

	require.Eventually(t, func() bool {
		return len(storage.snapshot()) == 1
	}, time.Second, 10*time.Millisecond, "ticker must flush an under-filled batch")
}
