package chatsync

import (
	"bytes"
	"encoding/json"

	"github.com/chatsync/internal/model"
)

// MessageStore хранит сообщения ровно одной открытой комнаты. Каждая загрузка заменяет список целиком.
// Локального добавления до подтверждения сервером нет.
type MessageStore struct {
	roomID     string
	messages   []model.Message
	generation uint64
}

// NewMessageStore создаёт пустое хранилище.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// Load заменяет список сообщениями комнаты roomID в порядке сервера.
func (s *MessageStore) Load(roomID string, msgs []model.Message) {
	s.roomID = roomID
	s.messages = append(make([]model.Message, 0, len(msgs)), msgs...)
	s.generation++
}

// Clear очищает хранилище (комната закрыта).
func (s *MessageStore) Clear() {
	s.roomID = ""
	s.messages = nil
	s.generation++
}

// RoomID возвращает комнату, чьи сообщения загружены.
func (s *MessageStore) RoomID() string { return s.roomID }

// Len возвращает число сообщений.
func (s *MessageStore) Len() int { return len(s.messages) }

// Generation растёт при каждой замене; по нему опрос понимает, что его выборка устарела.
func (s *MessageStore) Generation() uint64 { return s.generation }

// Messages возвращает копию списка.
func (s *MessageStore) Messages() []model.Message {
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Tail возвращает последнее сообщение.
func (s *MessageStore) Tail() (model.Message, bool) {
	if len(s.messages) == 0 {
		return model.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Differs: другое число сообщений или другая сериализация (изменился только read_by).
func (s *MessageStore) Differs(msgs []model.Message) bool {
	if len(msgs) != len(s.messages) {
		return true
	}
	a, errA := json.Marshal(s.messages)
	b, errB := json.Marshal(msgs)
	if errA != nil || errB != nil {
		return true
	}
	return !bytes.Equal(a, b)
}
