package ws

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/chatsync"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

// commandTimeout ограничивает одну команду UI (открытие комнаты, отправка).
const commandTimeout = 15 * time.Second

// Actions: действия пользователя над движком синхронизации. Реализуется chatsync.Engine.
type Actions interface {
	Snapshot() chatsync.State
	LoadRooms(ctx context.Context) error
	OpenRoom(ctx context.Context, roomID string) error
	OpenProjectRoom(ctx context.Context, projectID string) error
	OpenShotRoom(ctx context.Context, shotID string) error
	OpenPersonalRoom(ctx context.Context, partner string) error
	CloseRoom()
	Send(ctx context.Context, content string) (*model.Message, error)
}

// Hub рассылает снимки состояния всем подключениям UI и выполняет их команды.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxConns   int
	actions    Actions
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(actions Actions, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 64
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		actions:    actions,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Клиенты собираются под блокировкой, закрываются без неё.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

// Len возвращает число подключений.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting client=%s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	// Новый клиент сразу получает текущее состояние.
	h.sendToClient(c, OutgoingMessage{Type: EventState, Payload: h.actions.Snapshot()})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

// StateChanged рассылает снимок всем подключениям (chatsync.Listener).
func (h *Hub) StateChanged(st chatsync.State) {
	h.broadcast(OutgoingMessage{Type: EventState, Payload: st})
}

func (h *Hub) broadcast(msg OutgoingMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

// HandleMessage выполняет команду UI. Ошибка отправляется только автору команды;
// новое состояние приходит всем через StateChanged.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.HandleMessage."+string(msg.Type), time.Now())()
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case EventOpenRoom:
		err = h.actions.OpenRoom(ctx, msg.RoomID)
	case EventOpenProjectRoom:
		err = h.actions.OpenProjectRoom(ctx, msg.ProjectID)
	case EventOpenShotRoom:
		err = h.actions.OpenShotRoom(ctx, msg.ShotID)
	case EventOpenPersonalRoom:
		err = h.actions.OpenPersonalRoom(ctx, msg.Partner)
	case EventCloseRoom:
		h.actions.CloseRoom()
	case EventSendMessage:
		_, err = h.actions.Send(ctx, msg.Content)
	case EventReloadRooms:
		err = h.actions.LoadRooms(ctx)
	case EventState:
		h.sendToClient(c, OutgoingMessage{Type: EventState, Payload: h.actions.Snapshot()})
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{
			Command: msg.Type, RequestID: msg.RequestID, Error: "unknown event type",
		}})
		return
	}
	if err != nil {
		logger.Errorf("ws %s client=%s: %v", msg.Type, c.id, err)
		_, text := chatsync.Classify(err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{
			Command: msg.Type, RequestID: msg.RequestID, Error: text,
		}})
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Буфер отправки полон: медленный клиент закрывается.
		logger.Errorf("ws send buffer full, closing slow client=%s", c.id)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
