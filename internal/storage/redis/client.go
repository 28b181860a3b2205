package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// HistoryTTL: ключ истории пользователя живёт 90 дней с последнего открытия.
const HistoryTTL = 90 * 24 * time.Hour

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func historyKey(username string) string {
	return "chat_history:" + username
}

// recordOpenScript пишет время открытия, только если оно не раньше сохранённого, и продлевает TTL ключа.
// KEYS[1] = chat_history:{user}; ARGV = room_id, unix ms, TTL в ms.
var recordOpenScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if (not cur) or (tonumber(cur) or 0) < tonumber(ARGV[2]) then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RecordOpen пишет в хеш chat_history:{user} поле room_id = unix ms; более ранняя отметка не затирает более позднюю.
func (c *Client) RecordOpen(ctx context.Context, rec model.RoomOpen) error {
	err := recordOpenScript.Run(ctx, c.cli, []string{historyKey(rec.Username)},
		rec.RoomID, rec.OpenedAt.UnixMilli(), HistoryTTL.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis.RecordOpen: %w", err)
	}
	return nil
}

func (c *Client) History(ctx context.Context, username string, limit int) ([]model.RoomOpen, error) {
	vals, err := c.cli.HGetAll(ctx, historyKey(username)).Result()
	if err == redis.Nil {
		return []model.RoomOpen{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis.History: %w", err)
	}
	out := make([]model.RoomOpen, 0, len(vals))
	for roomID, raw := range vals {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, model.RoomOpen{Username: username, RoomID: roomID, OpenedAt: time.UnixMilli(ms).UTC()})
	}
	return storage.SortHistory(out, limit), nil
}
