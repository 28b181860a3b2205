package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

type RoomType string

const (
	RoomTypeProject  RoomType = "project"
	RoomTypeShot     RoomType = "shot"
	RoomTypePersonal RoomType = "personal"
)

// LastMessageMaxLen: длина денормализованного превью последнего сообщения в комнате.
const LastMessageMaxLen = 100

// PlaceholderRoomName: имя комнаты, которую не удалось получить с сервера.
const PlaceholderRoomName = "Chat"

// Participants: логины участников. Сервер присылает либо строки, либо объекты {"username": ...}.
type Participants []string

func (p *Participants) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("model.Participants: %w", err)
	}
	out := make(Participants, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Username string `json:"username"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("model.Participants item: %w", err)
		}
		if obj.Username != "" {
			out = append(out, obj.Username)
		}
	}
	*p = out
	return nil
}

// Contains сообщает, есть ли логин среди участников.
func (p Participants) Contains(username string) bool {
	for _, u := range p {
		if u == username {
			return true
		}
	}
	return false
}

// Others возвращает участников, кроме указанного пользователя.
func (p Participants) Others(username string) []string {
	out := make([]string, 0, len(p))
	for _, u := range p {
		if u != "" && u != username {
			out = append(out, u)
		}
	}
	return out
}

// ChatRoom: комната чата (проект, шот или личная переписка двух пользователей).
type ChatRoom struct {
	ID                string       `json:"_id"`
	Type              RoomType     `json:"chat_type,omitempty"`
	Name              string       `json:"name,omitempty"`
	DisplayName       string       `json:"display_name,omitempty"`
	Participants      Participants `json:"participants,omitempty"`
	ProjectID         string       `json:"project_id,omitempty"`
	ShotID            string       `json:"shot_id,omitempty"`
	LastMessage       string       `json:"lastMessage,omitempty"`
	LastMessageAuthor string       `json:"lastMessageAuthor,omitempty"`
	LastMessageTime   Timestamp    `json:"lastMessageTime"`
	UnreadCount       int          `json:"unreadCount"`
	CreatedAt         Timestamp    `json:"created_at"`
	UpdatedAt         Timestamp    `json:"updated_at"`
}

// PlaceholderRoom: минимальная комната для id, который сервер не смог отдать.
func PlaceholderRoom(id string) ChatRoom {
	return ChatRoom{ID: id, Name: PlaceholderRoomName, DisplayName: PlaceholderRoomName}
}

// SortTime возвращает время для сортировки списка: последнее сообщение, иначе updated_at, иначе created_at.
func (r *ChatRoom) SortTime() Timestamp {
	switch {
	case !r.LastMessageTime.IsZero():
		return r.LastMessageTime
	case !r.UpdatedAt.IsZero():
		return r.UpdatedAt
	default:
		return r.CreatedAt
	}
}

// Title возвращает имя для отображения: display_name, затем name, затем заглушка.
func (r *ChatRoom) Title() string {
	if s := strings.TrimSpace(r.DisplayName); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.Name); s != "" {
		return s
	}
	return PlaceholderRoomName
}

// Partner возвращает логин собеседника в личной комнате.
func (r *ChatRoom) Partner(currentUser string) (string, bool) {
	for _, u := range r.Participants {
		if u != "" && u != currentUser {
			return u, true
		}
	}
	return "", false
}

// ApplyMessage обновляет денормализованный кеш последнего сообщения.
func (r *ChatRoom) ApplyMessage(m *Message) {
	r.LastMessage = Truncate(m.Content, LastMessageMaxLen)
	r.LastMessageAuthor = m.AuthorID
	r.LastMessageTime = m.CreatedAt
}

// Truncate обрезает строку до n символов (рун), не разрывая UTF-8.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
