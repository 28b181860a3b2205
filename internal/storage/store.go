// Package storage: хранилища истории открытия комнат.
package storage

import (
	"context"
	"sort"

	"github.com/chatsync/internal/model"
)

// DefaultHistoryLimit: сколько записей истории отдаётся, если limit не задан.
const DefaultHistoryLimit = 50

// HistoryStore хранит для каждого пользователя время последнего открытия каждой комнаты.
// Реализации: memory.Client (по умолчанию), redis.Client, postgres.Client.
type HistoryStore interface {
	RecordOpen(ctx context.Context, rec model.RoomOpen) error
	History(ctx context.Context, username string, limit int) ([]model.RoomOpen, error)
	Close() error
}

// SortHistory упорядочивает записи от последних открытий и обрезает до limit (<= 0: DefaultHistoryLimit).
func SortHistory(recs []model.RoomOpen, limit int) []model.RoomOpen {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].OpenedAt.Equal(recs[j].OpenedAt) {
			return recs[i].RoomID < recs[j].RoomID
		}
		return recs[i].OpenedAt.After(recs[j].OpenedAt)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
