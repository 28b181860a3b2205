package model

import "strings"

// User: профиль пользователя бэкенда (нужен для человекочитаемого имени собеседника).
type User struct {
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Email    string   `json:"email,omitempty"`
	Role     string   `json:"role,omitempty"`
	Partners []string `json:"partners,omitempty"`
}

// DisplayName возвращает имя пользователя; логин: только если имени нет.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.Name)
	if name != "" && name != u.Username {
		return name
	}
	return u.Username
}

// HasHumanName сообщает, задано ли имя, отличное от логина.
func (u *User) HasHumanName() bool {
	return u.DisplayName() != u.Username
}
