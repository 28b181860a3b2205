package model

// Message: сообщение в комнате. После создания меняется только read_by (и только растёт).
type Message struct {
	ID         string    `json:"_id"`
	RoomID     string    `json:"chat_room_id"`
	AuthorID   string    `json:"author_username"`
	AuthorName string    `json:"author_name,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  Timestamp `json:"created_at"`
	ReadBy     []string  `json:"read_by"`
}

// IsReadBy сообщает, есть ли пользователь в read_by.
func (m *Message) IsReadBy(username string) bool {
	for _, u := range m.ReadBy {
		if u == username {
			return true
		}
	}
	return false
}

// Shot: минимальные поля шота, нужные для поиска комнат шотов.
type Shot struct {
	ID       string `json:"_id"`
	ShotName string `json:"shot_name,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Title возвращает имя шота или "Shot <id>".
func (s *Shot) Title() string {
	if s.ShotName != "" {
		return s.ShotName
	}
	if s.Name != "" {
		return s.Name
	}
	return "Shot " + s.ID
}
