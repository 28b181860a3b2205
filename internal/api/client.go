// Package api: клиент REST-бэкенда трекера: комнаты чата, сообщения, пользователи.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

// maxErrorBody: сколько байт тела ошибки читаем для текста в StatusError.
const maxErrorBody = 4096

// ErrNotFound: сервер ответил 404.
var ErrNotFound = errors.New("not found")

// StatusError: ответ бэкенда с кодом вне 2xx.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Code, http.StatusText(e.Code))
}

// Is позволяет проверять 404 через errors.Is(err, ErrNotFound).
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client вызывает REST API от имени одного пользователя.
type Client struct {
	baseURL    string
	username   string
	ngrok      bool
	httpClient *http.Client
}

// NewClient создаёт клиент. При timeout <= 0 используется 10 секунд.
func NewClient(baseURL, username string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &Client{
		baseURL:  baseURL,
		username: username,
		ngrok:    strings.Contains(baseURL, "ngrok"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Username возвращает пользователя, от имени которого выполняются запросы.
func (c *Client) Username() string { return c.username }

type roomsResponse struct {
	ChatRooms []model.ChatRoom `json:"chat_rooms"`
}

type roomResponse struct {
	ChatRoom *model.ChatRoom `json:"chat_room"`
}

type messagesResponse struct {
	Messages []model.Message `json:"messages"`
}

type messageResponse struct {
	Message *model.Message `json:"message"`
}

type userResponse struct {
	User *model.User `json:"user"`
}

type shotsResponse struct {
	Shots []model.Shot `json:"shots"`
}

// ListRooms возвращает все комнаты пользователя (проекты, шоты, личные).
func (c *Client) ListRooms(ctx context.Context) ([]model.ChatRoom, error) {
	defer logger.DeferLogDuration("api.ListRooms", time.Now())()
	var resp roomsResponse
	if err := c.do(ctx, "api.ListRooms", http.MethodGet, "/api/users/"+url.PathEscape(c.username)+"/chat-rooms", nil, &resp); err != nil {
		return nil, err
	}
	if resp.ChatRooms == nil {
		resp.ChatRooms = []model.ChatRoom{}
	}
	return resp.ChatRooms, nil
}

// GetRoom возвращает комнату с участниками.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*model.ChatRoom, error) {
	defer logger.DeferLogDuration("api.GetRoom", time.Now())()
	return c.room(ctx, "api.GetRoom", "/api/chat-room/"+url.PathEscape(roomID))
}

// ListMessages возвращает сообщения комнаты по возрастанию created_at.
func (c *Client) ListMessages(ctx context.Context, roomID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("api.ListMessages", time.Now())()
	var resp messagesResponse
	if err := c.do(ctx, "api.ListMessages", http.MethodGet, "/api/chat-room/"+url.PathEscape(roomID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		resp.Messages = []model.Message{}
	}
	return resp.Messages, nil
}

type sendMessageRequest struct {
	Content  string `json:"content"`
	Username string `json:"username"`
}

// SendMessage создаёт сообщение и возвращает его с серверными id и created_at.
func (c *Client) SendMessage(ctx context.Context, roomID, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("api.SendMessage", time.Now())()
	var resp messageResponse
	body := sendMessageRequest{Content: content, Username: c.username}
	if err := c.do(ctx, "api.SendMessage", http.MethodPost, "/api/chat-room/"+url.PathEscape(roomID)+"/messages", body, &resp); err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, fmt.Errorf("api.SendMessage: empty message in response")
	}
	return resp.Message, nil
}

// MarkRead отмечает все текущие сообщения комнаты прочитанными текущим пользователем.
func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	defer logger.DeferLogDuration("api.MarkRead", time.Now())()
	body := map[string]string{"username": c.username}
	return c.do(ctx, "api.MarkRead", http.MethodPut, "/api/chat-room/"+url.PathEscape(roomID)+"/messages/read", body, nil)
}

// ProjectRoom возвращает (создавая при отсутствии) комнату проекта.
func (c *Client) ProjectRoom(ctx context.Context, projectID string) (*model.ChatRoom, error) {
	defer logger.DeferLogDuration("api.ProjectRoom", time.Now())()
	return c.room(ctx, "api.ProjectRoom", "/api/project/"+url.PathEscape(projectID)+"/chat/room")
}

// ShotRoom возвращает (создавая при отсутствии) комнату шота.
func (c *Client) ShotRoom(ctx context.Context, shotID string) (*model.ChatRoom, error) {
	defer logger.DeferLogDuration("api.ShotRoom", time.Now())()
	return c.room(ctx, "api.ShotRoom", "/api/shot/"+url.PathEscape(shotID)+"/chat/room")
}

// PersonalRoom возвращает (создавая при отсутствии) личную комнату с партнёром.
func (c *Client) PersonalRoom(ctx context.Context, partner string) (*model.ChatRoom, error) {
	defer logger.DeferLogDuration("api.PersonalRoom", time.Now())()
	return c.room(ctx, "api.PersonalRoom", "/api/personal-chat/"+url.PathEscape(c.username)+"/"+url.PathEscape(partner))
}

// ProjectShots возвращает шоты проекта.
func (c *Client) ProjectShots(ctx context.Context, projectID string) ([]model.Shot, error) {
	defer logger.DeferLogDuration("api.ProjectShots", time.Now())()
	var resp shotsResponse
	if err := c.do(ctx, "api.ProjectShots", http.MethodGet, "/api/project/"+url.PathEscape(projectID)+"/shots", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Shots, nil
}

// GetUser возвращает профиль пользователя.
func (c *Client) GetUser(ctx context.Context, username string) (*model.User, error) {
	defer logger.DeferLogDuration("api.GetUser", time.Now())()
	var resp userResponse
	if err := c.do(ctx, "api.GetUser", http.MethodGet, "/api/users/"+url.PathEscape(username), nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, &StatusError{Op: "api.GetUser", Code: http.StatusNotFound, Message: "user missing in response"}
	}
	if resp.User.Username == "" {
		resp.User.Username = username
	}
	return resp.User, nil
}

func (c *Client) room(ctx context.Context, op, path string) (*model.ChatRoom, error) {
	var resp roomResponse
	if err := c.do(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ChatRoom == nil || resp.ChatRoom.ID == "" {
		return nil, &StatusError{Op: op, Code: http.StatusNotFound, Message: "chat_room missing in response"}
	}
	return resp.ChatRoom, nil
}

// do выполняет запрос с JSON-телом и декодирует ответ в out (если out != nil).
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.New().String())
	if c.ngrok {
		req.Header.Set("ngrok-skip-browser-warning", "true")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{Op: op, Code: resp.StatusCode}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		se.Message = payload.Error
	} else {
		se.Message = strings.TrimSpace(string(raw))
	}
	return se
}
