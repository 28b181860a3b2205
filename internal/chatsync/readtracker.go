package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
)

type readMarker interface {
	MarkRead(ctx context.Context, roomID string) error
}

// ReadTracker отправляет отметку «прочитано» в фоне: открытие комнаты не ждёт ответа, повторов нет.
// Пока комната открыта, её unreadCount обнуляет Registry.
type ReadTracker struct {
	backend readMarker
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewReadTracker создаёт трекер; timeout ограничивает один запрос.
func NewReadTracker(backend readMarker, timeout time.Duration) *ReadTracker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ReadTracker{backend: backend, timeout: timeout}
}

// MarkRead возвращается сразу; запрос выполняется асинхронно.
func (t *ReadTracker) MarkRead(roomID string) {
	if roomID == "" {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.backend.MarkRead(ctx, roomID); err != nil {
			logger.Errorf("chatsync.MarkRead room=%s: %v", roomID, err)
			return
		}
		logger.Debugf("chatsync.MarkRead room=%s ok", roomID)
	}()
}

// Wait ждёт завершения отправленных запросов.
func (t *ReadTracker) Wait() {
	t.wg.Wait()
}
