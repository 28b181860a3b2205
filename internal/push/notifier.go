// Package push отправляет Web Push уведомления о новых непрочитанных сообщениях.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

const (
	maxSubscriptions = 10
	notificationTTL  = 30
	bodyMaxLen       = 120
)

// Subscription: подписка из браузера (PushManager.subscribe()).
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Valid сообщает, заполнены ли endpoint и ключи.
func (s *Subscription) Valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Notifier хранит подписки локального UI и рассылает уведомления. Без VAPID-ключей отправка не выполняется.
type Notifier struct {
	vapid     *webpush.Options
	publicKey string
	send      sendFunc

	mu   sync.Mutex
	subs []Subscription
}

// NewNotifier создаёт рассылку; keys == nil: пуши отключены (подписки сохраняются).
func NewNotifier(keys *VAPIDKeys, subscriber string) *Notifier {
	n := &Notifier{send: webpush.SendNotificationWithContext}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		n.publicKey = keys.PublicKey
		n.vapid = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             notificationTTL,
		}
	}
	return n
}

// Enabled сообщает, настроена ли отправка.
func (n *Notifier) Enabled() bool { return n.vapid != nil }

// PublicKey: публичный VAPID-ключ для PushManager.subscribe().
func (n *Notifier) PublicKey() string { return n.publicKey }

// Subscribe добавляет подписку; повтор по endpoint заменяет старую, хранятся последние maxSubscriptions.
func (n *Notifier) Subscribe(sub Subscription) error {
	if !sub.Valid() {
		return fmt.Errorf("push.Subscribe: endpoint and keys required")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removeLocked(sub.Endpoint)
	n.subs = append(n.subs, sub)
	if len(n.subs) > maxSubscriptions {
		n.subs = n.subs[len(n.subs)-maxSubscriptions:]
	}
	return nil
}

// Unsubscribe удаляет подписку по endpoint.
func (n *Notifier) Unsubscribe(endpoint string) {
	n.mu.Lock()
	n.removeLocked(endpoint)
	n.mu.Unlock()
}

// Len возвращает число подписок.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *Notifier) removeLocked(endpoint string) {
	kept := n.subs[:0]
	for _, s := range n.subs {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	n.subs = kept
}

type payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// NotifyUnread рассылает уведомление о новом сообщении в комнате. Подписки с ответом 404/410 удаляются.
func (n *Notifier) NotifyUnread(ctx context.Context, room model.ChatRoom) error {
	if n.vapid == nil {
		return nil
	}
	n.mu.Lock()
	subs := append([]Subscription(nil), n.subs...)
	n.mu.Unlock()
	if len(subs) == 0 {
		return nil
	}

	body := model.Truncate(room.LastMessage, bodyMaxLen)
	if room.LastMessageAuthor != "" && body != "" {
		body = room.LastMessageAuthor + ": " + body
	}
	raw, err := json.Marshal(payload{
		Title: room.Title(),
		Body:  body,
		Data:  map[string]string{"room_id": room.ID, "unread": fmt.Sprint(room.UnreadCount)},
	})
	if err != nil {
		return fmt.Errorf("push.NotifyUnread: %w", err)
	}

	var failed int
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := n.send(ctx, raw, wpSub, n.vapid)
		if err != nil {
			failed++
			logger.Errorf("push: send %s: %v", shortEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			logger.Infof("push: подписка %s больше не действует, удалена", shortEndpoint(sub.Endpoint))
			n.Unsubscribe(sub.Endpoint)
		}
	}
	if failed == len(subs) {
		return fmt.Errorf("push.NotifyUnread: all %d sends failed", failed)
	}
	return nil
}

func shortEndpoint(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 50 {
		return s[:50]
	}
	return s
}
