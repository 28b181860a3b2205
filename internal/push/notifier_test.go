package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/model"
)

func sub(endpoint string) Subscription {
	var s Subscription
	s.Endpoint = endpoint
	s.Keys.P256dh = "p256"
	s.Keys.Auth = "auth"
	return s
}

type fakeSend struct {
	mu       sync.Mutex
	status   map[string]int
	fail     map[string]bool
	payloads [][]byte
}

func (f *fakeSend) send(ctx context.Context, payload []byte, s *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	if f.fail[s.Endpoint] {
		return nil, errors.New("connection refused")
	}
	code := http.StatusCreated
	if c, ok := f.status[s.Endpoint]; ok {
		code = c
	}
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func testNotifier(f *fakeSend) *Notifier {
	n := NewNotifier(&VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "chatsync")
	n.send = f.send
	return n
}

func TestNotifier_Subscribe(t *testing.T) {
	n := NewNotifier(nil, "chatsync")
	assert.False(t, n.Enabled())

	assert.Error(t, n.Subscribe(Subscription{Endpoint: "https://push/1"}))
	require.NoError(t, n.Subscribe(sub("https://push/1")))
	require.NoError(t, n.Subscribe(sub("https://push/1")))
	assert.Equal(t, 1, n.Len())

	for i := 0; i < maxSubscriptions+5; i++ {
		require.NoError(t, n.Subscribe(sub("https://push/x"+string(rune('a'+i)))))
	}
	assert.Equal(t, maxSubscriptions, n.Len())

	n.Unsubscribe("https://push/x" + string(rune('a'+maxSubscriptions+4)))
	assert.Equal(t, maxSubscriptions-1, n.Len())
}

func TestNotifier_NotifyUnread(t *testing.T) {
	f := &fakeSend{status: map[string]int{"https://push/gone": http.StatusGone}}
	n := testNotifier(f)
	assert.True(t, n.Enabled())
	assert.Equal(t, "pub", n.PublicKey())
	require.NoError(t, n.Subscribe(sub("https://push/ok")))
	require.NoError(t, n.Subscribe(sub("https://push/gone")))

	room := model.ChatRoom{ID: "r1", DisplayName: "Alpha Chat", LastMessage: "hello", LastMessageAuthor: "bob", UnreadCount: 3}
	require.NoError(t, n.NotifyUnread(context.Background(), room))

	assert.Equal(t, 1, n.Len(), "подписка с 410 удалена")
	require.Len(t, f.payloads, 2)
	var p struct {
		Title string            `json:"title"`
		Body  string            `json:"body"`
		Data  map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(f.payloads[0], &p))
	assert.Equal(t, "Alpha Chat", p.Title)
	assert.Equal(t, "bob: hello", p.Body)
	assert.Equal(t, map[string]string{"room_id": "r1", "unread": "3"}, p.Data)
}

func TestNotifier_AllSendsFailed(t *testing.T) {
	f := &fakeSend{fail: map[string]bool{"https://push/1": true}}
	n := testNotifier(f)
	require.NoError(t, n.Subscribe(sub("https://push/1")))

	assert.Error(t, n.NotifyUnread(context.Background(), model.ChatRoom{ID: "r"}))
	assert.Equal(t, 1, n.Len(), "сетевая ошибка не удаляет подписку")
}

func TestNotifier_DisabledIsNoop(t *testing.T) {
	f := &fakeSend{}
	n := NewNotifier(nil, "chatsync")
	n.send = f.send
	require.NoError(t, n.Subscribe(sub("https://push/1")))
	require.NoError(t, n.NotifyUnread(context.Background(), model.ChatRoom{ID: "r"}))
	assert.Empty(t, f.payloads)
}

func TestEnsureVAPIDKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vapid.json")

	keys, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	assert.NotEmpty(t, keys.PublicKey)
	assert.NotEmpty(t, keys.PrivateKey)
	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	assert.Equal(t, keys, again)

	_, err = EnsureVAPIDKeys("")
	assert.Error(t, err)
}
