package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/chatsync"
	"github.com/chatsync/internal/model"
)

type stubEngine struct {
	state     chatsync.State
	openErr   error
	sendErr   error
	opened    []string
	sent      []string
	closed    int
	histLimit int
}

func (s *stubEngine) Snapshot() chatsync.State            { return s.state }
func (s *stubEngine) LoadRooms(ctx context.Context) error { return nil }
func (s *stubEngine) OpenRoom(ctx context.Context, id string) error {
	s.opened = append(s.opened, "room:"+id)
	return s.openErr
}
func (s *stubEngine) OpenProjectRoom(ctx context.Context, id string) error {
	s.opened = append(s.opened, "project:"+id)
	return s.openErr
}
func (s *stubEngine) OpenShotRoom(ctx context.Context, id string) error {
	s.opened = append(s.opened, "shot:"+id)
	return s.openErr
}
func (s *stubEngine) OpenPersonalRoom(ctx context.Context, partner string) error {
	s.opened = append(s.opened, "personal:"+partner)
	return s.openErr
}
func (s *stubEngine) CloseRoom() { s.closed++ }
func (s *stubEngine) Send(ctx context.Context, content string) (*model.Message, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, content)
	return &model.Message{ID: "m1", Content: content, AuthorID: "alice"}, nil
}
func (s *stubEngine) History(ctx context.Context, limit int) ([]model.RoomOpen, error) {
	s.histLimit = limit
	return []model.RoomOpen{{Username: "alice", RoomID: "r1"}}, nil
}

func newTestRouter(e *stubEngine) http.Handler {
	h := NewChatHandler(e)
	r := chi.NewRouter()
	r.Get("/api/state", h.GetState)
	r.Get("/api/rooms", h.GetRooms)
	r.Post("/api/rooms/close", h.CloseRoom)
	r.Post("/api/rooms/{id}/open", h.OpenRoom)
	r.Post("/api/projects/{id}/chat/open", h.OpenProjectRoom)
	r.Post("/api/personal/{partner}/open", h.OpenPersonalRoom)
	r.Post("/api/messages", h.SendMessage)
	r.Get("/api/history", h.GetHistory)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatHandler_OpenRoutes(t *testing.T) {
	e := &stubEngine{state: chatsync.State{User: "alice", OpenRoomID: "r1"}}
	h := newTestRouter(e)

	rec := do(t, h, http.MethodPost, "/api/rooms/r1/open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st chatsync.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "r1", st.OpenRoomID)

	do(t, h, http.MethodPost, "/api/projects/p1/chat/open", "")
	do(t, h, http.MethodPost, "/api/personal/bob/open", "")
	assert.Equal(t, []string{"room:r1", "project:p1", "personal:bob"}, e.opened)

	rec = do(t, h, http.MethodPost, "/api/rooms/close", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, e.closed)
}

func TestChatHandler_OpenErrors(t *testing.T) {
	e := &stubEngine{openErr: &api.StatusError{Op: "api.PersonalRoom", Code: http.StatusForbidden, Message: "Users are not partners"}}
	h := newTestRouter(e)

	rec := do(t, h, http.MethodPost, "/api/personal/bob/open", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Users are not partners"}`, rec.Body.String())

	e.openErr = context.DeadlineExceeded
	rec = do(t, h, http.MethodPost, "/api/rooms/r1/open", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestChatHandler_SendMessage(t *testing.T) {
	e := &stubEngine{}
	h := newTestRouter(e)

	rec := do(t, h, http.MethodPost, "/api/messages", `{"content":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Message model.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "m1", resp.Message.ID)
	assert.Equal(t, []string{"hello"}, e.sent)

	rec = do(t, h, http.MethodPost, "/api/messages", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e.sendErr = chatsync.ErrNoOpenRoom
	rec = do(t, h, http.MethodPost, "/api/messages", `{"content":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	e.sendErr = chatsync.ErrEmptyMessage
	rec = do(t, h, http.MethodPost, "/api/messages", `{"content":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatHandler_RoomsAndHistory(t *testing.T) {
	e := &stubEngine{state: chatsync.State{
		Rooms:       []chatsync.RoomView{{ID: "r1", Title: "Alpha", Unread: 120, Badge: "99+"}},
		TotalUnread: 120,
		Badge:       "99+",
	}}
	h := newTestRouter(e)

	rec := do(t, h, http.MethodGet, "/api/rooms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rooms roomsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rooms))
	assert.Equal(t, 120, rooms.TotalUnread)
	assert.Equal(t, "99+", rooms.Badge)
	require.Len(t, rooms.Rooms, 1)

	rec = do(t, h, http.MethodGet, "/api/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, e.histLimit)
	assert.Contains(t, rec.Body.String(), `"room_id":"r1"`)

	do(t, h, http.MethodGet, "/api/history?limit=oops", "")
	assert.Equal(t, 50, e.histLimit)
}
