package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// Client хранит историю в памяти процесса (по умолчанию и в тестах).
type Client struct {
	mu     sync.RWMutex
	opened map[string]map[string]time.Time
}

func New() *Client {
	return &Client{opened: make(map[string]map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

// RecordOpen запоминает время открытия; более ранняя отметка не затирает более позднюю.
func (c *Client) RecordOpen(ctx context.Context, rec model.RoomOpen) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms, ok := c.opened[rec.Username]
	if !ok {
		rooms = make(map[string]time.Time)
		c.opened[rec.Username] = rooms
	}
	if prev, ok := rooms[rec.RoomID]; ok && prev.After(rec.OpenedAt) {
		return nil
	}
	rooms[rec.RoomID] = rec.OpenedAt.UTC()
	return nil
}

func (c *Client) History(ctx context.Context, username string, limit int) ([]model.RoomOpen, error) {
	c.mu.RLock()
	rooms := c.opened[username]
	out := make([]model.RoomOpen, 0, len(rooms))
	for roomID, at := range rooms {
		out = append(out, model.RoomOpen{Username: username, RoomID: roomID, OpenedAt: at})
	}
	c.mu.RUnlock()
	return storage.SortHistory(out, limit), nil
}
