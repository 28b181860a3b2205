package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method    string
	path      string
	body      map[string]string
	requestID string
	ngrok     string
}

func newTestServer(t *testing.T) (*httptest.Server, func() []recorded) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recorded

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rec := recorded{
				method:    req.Method,
				path:      req.URL.Path,
				requestID: req.Header.Get("X-Request-Id"),
				ngrok:     req.Header.Get("ngrok-skip-browser-warning"),
			}
			if req.Body != nil {
				_ = json.NewDecoder(req.Body).Decode(&rec.body)
			}
			mu.Lock()
			reqs = append(reqs, rec)
			mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	r.Get("/api/users/{username}/chat-rooms", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"chat_rooms": []map[string]any{
			{
				"_id":             "r1",
				"chat_type":       "personal",
				"participants":    []any{"alice", map[string]string{"username": "bob"}},
				"lastMessageTime": "2024-05-01T14:02:05.123456",
				"unreadCount":     2,
				"created_at":      "2024-01-01",
			},
		}})
	})
	r.Get("/api/chat-room/{id}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") == "missing" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Chat room not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chat_room": map[string]any{"_id": chi.URLParam(req, "id")}})
	})
	r.Get("/api/chat-room/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"messages": nil})
	})
	r.Post("/api/chat-room/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"message": map[string]any{
			"_id":             "m1",
			"chat_room_id":    chi.URLParam(req, "id"),
			"author_username": "alice",
			"content":         "hi",
			"created_at":      "2024-05-01T14:02:05Z",
			"read_by":         []string{"alice"},
		}})
	})
	r.Put("/api/chat-room/{id}/messages/read", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	r.Get("/api/personal-chat/{a}/{b}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Users are not partners"})
	})
	r.Get("/api/users/{username}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]string{"name": "Bob Smith"}})
	})
	r.Get("/api/project/{id}/shots", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("database down"))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func TestClient_ListRooms(t *testing.T) {
	srv, reqs := newTestServer(t)
	c := NewClient(srv.URL+"/", "alice", time.Second)

	rooms, err := c.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r1", rooms[0].ID)
	assert.Equal(t, []string{"alice", "bob"}, []string(rooms[0].Participants))
	assert.Equal(t, 2, rooms[0].UnreadCount)
	assert.Equal(t, 14, rooms[0].LastMessageTime.Hour())
	assert.True(t, rooms[0].UpdatedAt.IsZero())

	got := reqs()
	require.Len(t, got, 1)
	assert.Equal(t, "/api/users/alice/chat-rooms", got[0].path)
	assert.NotEmpty(t, got[0].requestID)
	assert.Empty(t, got[0].ngrok)
}

func TestClient_SendAndMarkRead(t *testing.T) {
	srv, reqs := newTestServer(t)
	c := NewClient(srv.URL, "alice", time.Second)

	m, err := c.SendMessage(context.Background(), "r1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "r1", m.RoomID)
	assert.True(t, m.IsReadBy("alice"))

	require.NoError(t, c.MarkRead(context.Background(), "r1"))

	msgs, err := c.ListMessages(context.Background(), "r1")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)

	got := reqs()
	require.Len(t, got, 3)
	assert.Equal(t, http.MethodPost, got[0].method)
	assert.Equal(t, map[string]string{"content": "hi", "username": "alice"}, got[0].body)
	assert.Equal(t, http.MethodPut, got[1].method)
	assert.Equal(t, "/api/chat-room/r1/messages/read", got[1].path)
	assert.Equal(t, map[string]string{"username": "alice"}, got[1].body)
}

func TestClient_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewClient(srv.URL, "alice", time.Second)

	_, err := c.GetRoom(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Chat room not found", se.Message)

	_, err = c.PersonalRoom(context.Background(), "bob")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "Users are not partners", se.Message)
	assert.False(t, errors.Is(err, ErrNotFound))

	_, err = c.ProjectShots(context.Background(), "p1")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "database down", se.Message)
}

func TestClient_GetUserFillsUsername(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewClient(srv.URL, "alice", time.Second)

	u, err := c.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, "Bob Smith", u.DisplayName())
	assert.True(t, u.HasHumanName())
}

func TestClient_NgrokHeader(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("ngrok-skip-browser-warning")
		_, _ = w.Write([]byte(`{"chat_rooms":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", time.Second)
	c.ngrok = true
	rooms, err := c.ListRooms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms)
	assert.Equal(t, "true", header)

	assert.True(t, NewClient("https://abc.ngrok-free.app", "alice", 0).ngrok)
}
