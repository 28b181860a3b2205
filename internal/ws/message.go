package ws

type EventType string

const (
	EventState            EventType = "state"
	EventOpenRoom         EventType = "open_room"
	EventOpenProjectRoom  EventType = "open_project_room"
	EventOpenShotRoom     EventType = "open_shot_room"
	EventOpenPersonalRoom EventType = "open_personal_room"
	EventCloseRoom        EventType = "close_room"
	EventSendMessage      EventType = "send_message"
	EventReloadRooms      EventType = "reload_rooms"
	EventError            EventType = "error"
)

// IncomingMessage: команда UI.
type IncomingMessage struct {
	Type      EventType `json:"type"`
	RoomID    string    `json:"room_id,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	ShotID    string    `json:"shot_id,omitempty"`
	Partner   string    `json:"partner,omitempty"`
	Content   string    `json:"content,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// OutgoingMessage: событие для UI. Для EventState в Payload лежит chatsync.State.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ErrorPayload: ошибка действия пользователя.
type ErrorPayload struct {
	Command   EventType `json:"command,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Error     string    `json:"error"`
}
