package model

import "time"

// RoomOpen фиксирует, что пользователь открыл комнату в момент OpenedAt.
type RoomOpen struct {
	Username string    `json:"username"`
	RoomID   string    `json:"room_id"`
	OpenedAt time.Time `json:"opened_at"`
}
