package chatsync

import (
	"reflect"
	"sort"
	"strings"

	"github.com/chatsync/internal/model"
)

// Registry: локальный снимок комнат пользователя, уникальных по ID и упорядоченных
// по времени последнего сообщения (новые сверху). Порядок поддерживается после каждой мутации.
// Registry не потокобезопасен: доступ сериализует Engine.
type Registry struct {
	rooms  []model.ChatRoom
	openID string
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) indexOf(id string) int {
	for i := range r.rooms {
		if r.rooms[i].ID == id {
			return i
		}
	}
	return -1
}

// sort: устойчивая сортировка по SortTime по убыванию; равные сохраняют текущий порядок.
func (r *Registry) sort() {
	sort.SliceStable(r.rooms, func(i, j int) bool {
		return r.rooms[j].SortTime().Before(r.rooms[i].SortTime())
	})
}

// Len возвращает число комнат.
func (r *Registry) Len() int { return len(r.rooms) }

// OpenID возвращает id открытой комнаты или "", если ни одна не открыта.
func (r *Registry) OpenID() string { return r.openID }

// SetOpen помечает комнату открытой; её unreadCount сразу обнуляется.
func (r *Registry) SetOpen(id string) {
	r.openID = id
	if i := r.indexOf(id); i >= 0 {
		r.rooms[i].UnreadCount = 0
	}
}

// Get возвращает копию комнаты.
func (r *Registry) Get(id string) (model.ChatRoom, bool) {
	if i := r.indexOf(id); i >= 0 {
		return r.rooms[i], true
	}
	return model.ChatRoom{}, false
}

// Upsert вставляет комнату или сливает поля с уже известной. Возвращает true, если реестр изменился.
func (r *Registry) Upsert(room model.ChatRoom) bool {
	if room.ID == "" {
		return false
	}
	if room.UnreadCount < 0 || room.ID == r.openID {
		room.UnreadCount = 0
	}
	i := r.indexOf(room.ID)
	if i < 0 {
		room.LastMessage = model.Truncate(room.LastMessage, model.LastMessageMaxLen)
		r.rooms = append(r.rooms, room)
		r.sort()
		return true
	}
	merged := mergeRoom(r.rooms[i], room)
	if reflect.DeepEqual(merged, r.rooms[i]) {
		return false
	}
	r.rooms[i] = merged
	r.sort()
	return true
}

// mergeRoom: кеш последнего сообщения берётся из upd, если он не старше текущего;
// структурные поля: из upd, если заданы; тип неизменен; unreadCount: всегда из upd.
func mergeRoom(old, upd model.ChatRoom) model.ChatRoom {
	out := old
	if out.Type == "" {
		out.Type = upd.Type
	}
	if upd.Name != "" {
		out.Name = upd.Name
	}
	if len(upd.Participants) > 0 {
		out.Participants = upd.Participants
	}
	if upd.ProjectID != "" {
		out.ProjectID = upd.ProjectID
	}
	if upd.ShotID != "" {
		out.ShotID = upd.ShotID
	}
	if !upd.CreatedAt.IsZero() {
		out.CreatedAt = upd.CreatedAt
	}
	if !upd.UpdatedAt.IsZero() {
		out.UpdatedAt = upd.UpdatedAt
	}
	if acceptDisplayName(old, upd) {
		out.DisplayName = upd.DisplayName
	}

	switch {
	case !upd.LastMessageTime.IsZero() && !upd.LastMessageTime.Before(old.LastMessageTime):
		out.LastMessageTime = upd.LastMessageTime
		if upd.LastMessage != "" {
			out.LastMessage = model.Truncate(upd.LastMessage, model.LastMessageMaxLen)
		}
		if upd.LastMessageAuthor != "" {
			out.LastMessageAuthor = upd.LastMessageAuthor
		}
	case old.LastMessageTime.IsZero() && upd.LastMessage != "":
		out.LastMessage = model.Truncate(upd.LastMessage, model.LastMessageMaxLen)
		if upd.LastMessageAuthor != "" {
			out.LastMessageAuthor = upd.LastMessageAuthor
		}
	}

	out.UnreadCount = upd.UnreadCount
	return out
}

// acceptDisplayName: уже разрешённое человеческое имя не заменяется сырым логином или пустотой.
func acceptDisplayName(old, upd model.ChatRoom) bool {
	if strings.TrimSpace(upd.DisplayName) == "" {
		return false
	}
	if old.DisplayName == "" {
		return true
	}
	merged := old
	merged.DisplayName = upd.DisplayName
	if len(upd.Participants) > 0 {
		merged.Participants = upd.Participants
	}
	return !NeedsDisplayName(&merged) || NeedsDisplayName(&old)
}

// NeedsDisplayName сообщает, что у личной комнаты нет человеческого имени собеседника:
// display_name пустой, совпадает с name, содержит " & " или равен логину участника.
func NeedsDisplayName(room *model.ChatRoom) bool {
	if room.Type != model.RoomTypePersonal {
		return false
	}
	dn := strings.TrimSpace(room.DisplayName)
	switch {
	case dn == "":
		return true
	case dn == room.Name:
		return true
	case strings.Contains(dn, " & "):
		return true
	}
	return room.Participants.Contains(dn)
}

// Remove удаляет комнату. Возвращает false, если её не было.
func (r *Registry) Remove(id string) bool {
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.rooms = append(r.rooms[:i], r.rooms[i+1:]...)
	return true
}

// Reconcile применяет список комнат с сервера: upsert каждой, затем удаление отсутствующих
// комнат проектов и личных комнат. Комнаты шотов и комнаты без типа не удаляются по отсутствию в выборке.
func (r *Registry) Reconcile(fetched []model.ChatRoom) (changed bool, pruned []string) {
	seen := make(map[string]struct{}, len(fetched))
	for _, room := range fetched {
		if room.ID == "" {
			continue
		}
		seen[room.ID] = struct{}{}
		if r.Upsert(room) {
			changed = true
		}
	}

	kept := make([]model.ChatRoom, 0, len(r.rooms))
	for _, room := range r.rooms {
		if _, ok := seen[room.ID]; ok || !prunable(room.Type) {
			kept = append(kept, room)
			continue
		}
		pruned = append(pruned, room.ID)
	}
	if len(pruned) > 0 {
		r.rooms = kept
		changed = true
	}
	return changed, pruned
}

func prunable(t model.RoomType) bool {
	return t == model.RoomTypeProject || t == model.RoomTypePersonal
}

// Replace заменяет содержимое реестра (полная загрузка по действию пользователя).
// Дубликаты id сливаются по правилам Upsert.
func (r *Registry) Replace(rooms []model.ChatRoom) {
	r.rooms = make([]model.ChatRoom, 0, len(rooms))
	for _, room := range rooms {
		r.Upsert(room)
	}
}

// Touch обновляет кеш последнего сообщения комнаты. Для открытой комнаты unreadCount остаётся 0.
func (r *Registry) Touch(id string, m *model.Message) bool {
	i := r.indexOf(id)
	if i < 0 || m == nil {
		return false
	}
	before := r.rooms[i]
	r.rooms[i].ApplyMessage(m)
	if id == r.openID {
		r.rooms[i].UnreadCount = 0
	}
	if reflect.DeepEqual(before, r.rooms[i]) {
		return false
	}
	r.sort()
	return true
}

// ClearUnread обнуляет счётчик непрочитанных.
func (r *Registry) ClearUnread(id string) bool {
	i := r.indexOf(id)
	if i < 0 || r.rooms[i].UnreadCount == 0 {
		return false
	}
	r.rooms[i].UnreadCount = 0
	return true
}

// TotalUnread: сумма непрочитанных по всем комнатам (бейдж).
func (r *Registry) TotalUnread() int {
	total := 0
	for i := range r.rooms {
		total += r.rooms[i].UnreadCount
	}
	return total
}

// SortedView возвращает копию списка в порядке отображения. Слайсы участников общие: только для чтения.
func (r *Registry) SortedView() []model.ChatRoom {
	out := make([]model.ChatRoom, len(r.rooms))
	copy(out, r.rooms)
	return out
}
