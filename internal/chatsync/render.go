package chatsync

import (
	"strconv"
	"time"

	"github.com/chatsync/internal/model"
)

// Статусы прочтения своего сообщения.
const (
	ReadStatusNone   = ""
	ReadStatusUnread = "unread"
	ReadStatusRead   = "read"
)

const (
	previewMaxLen = 50
	badgeMax      = 99
	timeLayout    = "15:04"
)

// MessageView: сообщение с атрибутами отображения, вычисленными из списка.
type MessageView struct {
	ID         string          `json:"id"`
	AuthorID   string          `json:"author"`
	AuthorName string          `json:"author_name,omitempty"`
	Content    string          `json:"content"`
	CreatedAt  model.Timestamp `json:"created_at"`
	Sent       bool            `json:"sent"`
	SameMinute bool            `json:"same_minute"`
	ShowTime   bool            `json:"show_time"`
	Time       string          `json:"time"`
	ReadStatus string          `json:"read_status,omitempty"`
}

// RoomView: строка списка комнат.
type RoomView struct {
	ID              string          `json:"id"`
	Type            model.RoomType  `json:"type,omitempty"`
	Title           string          `json:"title"`
	Preview         string          `json:"preview"`
	FromMe          bool            `json:"from_me"`
	LastMessageTime model.Timestamp `json:"last_message_time"`
	Unread          int             `json:"unread"`
	Badge           string          `json:"badge,omitempty"`
	Open            bool            `json:"open"`
}

type minuteKey struct {
	hour, minute int
}

func keyOf(ts model.Timestamp, loc *time.Location) minuteKey {
	t := ts.In(loc)
	return minuteKey{hour: t.Hour(), minute: t.Minute()}
}

// GroupMessages группирует подряд идущие сообщения одной минуты (часы и минуты в loc).
// Время показывается на последнем сообщении группы, статус прочтения: на последнем своём сообщении группы.
func GroupMessages(msgs []model.Message, currentUser string, room *model.ChatRoom, loc *time.Location) []MessageView {
	if loc == nil {
		loc = time.UTC
	}
	keys := make([]minuteKey, len(msgs))
	for i := range msgs {
		keys[i] = keyOf(msgs[i].CreatedAt, loc)
	}

	views := make([]MessageView, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		views[i] = MessageView{
			ID:         m.ID,
			AuthorID:   m.AuthorID,
			AuthorName: m.AuthorName,
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
			Sent:       m.AuthorID == currentUser,
			SameMinute: i > 0 && keys[i] == keys[i-1],
			ShowTime:   i == len(msgs)-1 || keys[i] != keys[i+1],
			Time:       m.CreatedAt.In(loc).Format(timeLayout),
		}
	}

	// Группа: максимальный отрезок с одинаковым ключом минуты.
	for start := 0; start < len(msgs); {
		end := start
		for end+1 < len(msgs) && keys[end+1] == keys[start] {
			end++
		}
		for j := end; j >= start; j-- {
			if views[j].Sent {
				views[j].ReadStatus = readStatus(&msgs[j], currentUser, room)
				break
			}
		}
		start = end + 1
	}
	return views
}

// readStatus: в личной комнате смотрим на собеседника, в групповой достаточно любого другого участника.
func readStatus(m *model.Message, currentUser string, room *model.ChatRoom) string {
	if room == nil {
		return ReadStatusUnread
	}
	if room.Type == model.RoomTypePersonal {
		partner, ok := room.Partner(currentUser)
		if ok && m.IsReadBy(partner) {
			return ReadStatusRead
		}
		return ReadStatusUnread
	}
	for _, u := range room.Participants.Others(currentUser) {
		if m.IsReadBy(u) {
			return ReadStatusRead
		}
	}
	return ReadStatusUnread
}

// RoomViews строит строки списка в порядке rooms.
func RoomViews(rooms []model.ChatRoom, currentUser, openID string) []RoomView {
	out := make([]RoomView, 0, len(rooms))
	for i := range rooms {
		r := &rooms[i]
		preview := r.LastMessage
		if len([]rune(preview)) > previewMaxLen {
			preview = model.Truncate(preview, previewMaxLen) + "..."
		}
		out = append(out, RoomView{
			ID:              r.ID,
			Type:            r.Type,
			Title:           r.Title(),
			Preview:         preview,
			FromMe:          r.LastMessage != "" && r.LastMessageAuthor == currentUser,
			LastMessageTime: r.LastMessageTime,
			Unread:          r.UnreadCount,
			Badge:           BadgeText(r.UnreadCount),
			Open:            r.ID == openID,
		})
	}
	return out
}

// BadgeText возвращает текст бейджа: пусто для 0, "99+" свыше 99.
func BadgeText(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > badgeMax:
		return strconv.Itoa(badgeMax) + "+"
	default:
		return strconv.Itoa(n)
	}
}
