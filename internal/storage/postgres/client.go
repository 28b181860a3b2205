package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/migrations"
)

type Client struct {
	pool *pgxpool.Pool
}

// New оборачивает пул; пул закрывается в Close.
func New(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

// Migrate применяет встроенные миграции по порядку имён файлов. Миграции идемпотентны.
func (c *Client) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}
	sort.Strings(files)
	for _, f := range files {
		data, err := migrations.Files.ReadFile(f)
		if err != nil {
			return fmt.Errorf("postgres.Migrate: read %s: %w", f, err)
		}
		if _, err := c.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("postgres.Migrate: run %s: %w", f, err)
		}
	}
	logger.Infof("migrations applied: %d", len(files))
	return nil
}

func (c *Client) RecordOpen(ctx context.Context, rec model.RoomOpen) error {
	defer logger.DeferLogDuration("history.RecordOpen", time.Now())()
	_, err := c.pool.Exec(ctx,
		`INSERT INTO room_open_history (username, room_id, opened_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username, room_id) DO UPDATE SET
		   opened_at = GREATEST(room_open_history.opened_at, EXCLUDED.opened_at)`,
		rec.Username, rec.RoomID, rec.OpenedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("historyRepo.RecordOpen: %w", err)
	}
	return nil
}

func (c *Client) History(ctx context.Context, username string, limit int) ([]model.RoomOpen, error) {
	defer logger.DeferLogDuration("history.History", time.Now())()
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}
	rows, err := c.pool.Query(ctx,
		`SELECT room_id, opened_at FROM room_open_history
		 WHERE username = $1 ORDER BY opened_at DESC, room_id LIMIT $2`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("historyRepo.History: %w", err)
	}
	defer rows.Close()

	out := make([]model.RoomOpen, 0)
	for rows.Next() {
		rec := model.RoomOpen{Username: username}
		if err := rows.Scan(&rec.RoomID, &rec.OpenedAt); err != nil {
			return nil, fmt.Errorf("historyRepo.History scan: %w", err)
		}
		rec.OpenedAt = rec.OpenedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("historyRepo.History: %w", err)
	}
	return out, nil
}
