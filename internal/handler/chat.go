package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/chatsync"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/ws"
)

// Engine: движок синхронизации, которым управляет локальный UI.
type Engine interface {
	ws.Actions
	History(ctx context.Context, limit int) ([]model.RoomOpen, error)
}

type ChatHandler struct {
	engine Engine
}

func NewChatHandler(engine Engine) *ChatHandler {
	return &ChatHandler{engine: engine}
}

type roomsResponse struct {
	Rooms       []chatsync.RoomView `json:"rooms"`
	TotalUnread int                 `json:"total_unread"`
	Badge       string              `json:"badge,omitempty"`
}

type messagesResponse struct {
	RoomID   string                 `json:"room_id,omitempty"`
	Messages []chatsync.MessageView `json:"messages"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

// GetState отдаёт полный снимок: комнаты, открытая комната, её сообщения, бейдж.
func (h *ChatHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *ChatHandler) GetRooms(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Snapshot()
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: st.Rooms, TotalUnread: st.TotalUnread, Badge: st.Badge})
}

func (h *ChatHandler) ReloadRooms(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.LoadRooms(r.Context()); err != nil {
		writeActionError(w, "handler.ReloadRooms", err)
		return
	}
	h.GetRooms(w, r)
}

func (h *ChatHandler) OpenRoom(w http.ResponseWriter, r *http.Request) {
	h.open(w, r, "handler.OpenRoom", func(ctx context.Context) error {
		return h.engine.OpenRoom(ctx, chi.URLParam(r, "id"))
	})
}

func (h *ChatHandler) OpenProjectRoom(w http.ResponseWriter, r *http.Request) {
	h.open(w, r, "handler.OpenProjectRoom", func(ctx context.Context) error {
		return h.engine.OpenProjectRoom(ctx, chi.URLParam(r, "id"))
	})
}

func (h *ChatHandler) OpenShotRoom(w http.ResponseWriter, r *http.Request) {
	h.open(w, r, "handler.OpenShotRoom", func(ctx context.Context) error {
		return h.engine.OpenShotRoom(ctx, chi.URLParam(r, "id"))
	})
}

func (h *ChatHandler) OpenPersonalRoom(w http.ResponseWriter, r *http.Request) {
	h.open(w, r, "handler.OpenPersonalRoom", func(ctx context.Context) error {
		return h.engine.OpenPersonalRoom(ctx, chi.URLParam(r, "partner"))
	})
}

func (h *ChatHandler) open(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		writeActionError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *ChatHandler) CloseRoom(w http.ResponseWriter, r *http.Request) {
	h.engine.CloseRoom()
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Snapshot()
	writeJSON(w, http.StatusOK, messagesResponse{RoomID: st.OpenRoomID, Messages: st.Messages})
}

// SendMessage отправляет сообщение в открытую комнату; ответ: сообщение с серверными id и created_at.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	msg, err := h.engine.Send(r.Context(), req.Content)
	if err != nil {
		writeActionError(w, "handler.SendMessage", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*model.Message{"message": msg})
}

// GetHistory: последние открытия комнат (?limit=, по умолчанию storage.DefaultHistoryLimit).
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", storage.DefaultHistoryLimit)
	recs, err := h.engine.History(r.Context(), limit)
	if err != nil {
		writeActionError(w, "handler.GetHistory", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.RoomOpen{"history": recs})
}
