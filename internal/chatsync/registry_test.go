package chatsync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/model"
)

func ids(rooms []model.ChatRoom) []string {
	out := make([]string, len(rooms))
	for i := range rooms {
		out[i] = rooms[i].ID
	}
	return out
}

func TestRegistry_SortsByLastActivity(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.ChatRoom{ID: "a", Type: model.RoomTypeProject, CreatedAt: model.MustTimestamp("2024-01-01T00:00:00")})
	r.Upsert(model.ChatRoom{ID: "b", Type: model.RoomTypeProject, LastMessageTime: model.MustTimestamp("2024-06-01T00:00:00")})

	assert.Equal(t, []string{"b", "a"}, ids(r.SortedView()))
}

func TestRegistry_UpdatedAtBeatsCreatedAt(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.ChatRoom{ID: "old", CreatedAt: model.MustTimestamp("2024-03-01")})
	r.Upsert(model.ChatRoom{
		ID:        "upd",
		CreatedAt: model.MustTimestamp("2024-01-01"),
		UpdatedAt: model.MustTimestamp("2024-05-01"),
	})
	assert.Equal(t, []string{"upd", "old"}, ids(r.SortedView()))
}

func TestRegistry_UpsertKeepsIDsUnique(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Upsert(model.ChatRoom{ID: "x", Name: "first"}))
	assert.True(t, r.Upsert(model.ChatRoom{ID: "x", Name: "second"}))
	assert.False(t, r.Upsert(model.ChatRoom{ID: "x", Name: "second"}), "повторный одинаковый upsert ничего не меняет")
	assert.False(t, r.Upsert(model.ChatRoom{}), "комната без id игнорируется")

	require.Equal(t, 1, r.Len())
	got, ok := r.Get("x")
	require.True(t, ok)
	assert.Equal(t, "second", got.Name)
}

func TestRegistry_UpsertReordersOnNewMessage(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.ChatRoom{ID: "a", LastMessageTime: model.MustTimestamp("2024-01-01T10:00:00Z")})
	r.Upsert(model.ChatRoom{ID: "b", LastMessageTime: model.MustTimestamp("2024-01-01T11:00:00Z")})
	require.Equal(t, []string{"b", "a"}, ids(r.SortedView()))

	r.Upsert(model.ChatRoom{ID: "a", LastMessage: "hi", LastMessageTime: model.MustTimestamp("2024-01-01T12:00:00Z")})
	assert.Equal(t, []string{"a", "b"}, ids(r.SortedView()))
}

func TestRegistry_OpenRoomHasNoUnread(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.ChatRoom{ID: "a", UnreadCount: 3})
	r.Upsert(model.ChatRoom{ID: "b", UnreadCount: 2})
	assert.Equal(t, 5, r.TotalUnread())

	r.SetOpen("a")
	got, _ := r.Get("a")
	assert.Equal(t, 0, got.UnreadCount)

	r.Upsert(model.ChatRoom{ID: "a", UnreadCount: 7})
	got, _ = r.Get("a")
	assert.Equal(t, 0, got.UnreadCount, "сервер ещё не обработал отметку о прочтении")
	assert.Equal(t, 2, r.TotalUnread())

	r.Touch("a", &model.Message{ID: "m", Content: "x", CreatedAt: model.MustTimestamp("2024-01-01T00:00:00Z")})
	got, _ = r.Get("a")
	assert.Equal(t, 0, got.UnreadCount)
}

func TestRegistry_UnreadCountFollowsServer(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.ChatRoom{ID: "a", UnreadCount: 4})
	r.Upsert(model.ChatRoom{ID: "a", UnreadCount: 1})
	got, _ := r.Get("a")
	assert.Equal(t, 1, got.UnreadCount)

	r.Upsert(model.ChatRoom{ID: "a", UnreadCount: -2})
	got, _ = r.Get("a")
	assert.Equal(t, 0, got.UnreadCount)
}

func TestRegistry_StaleLastMessageIgnored(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.ChatRoom{
		ID:                "a",
		LastMessage:       "new",
		LastMessageAuthor: "bob",
		LastMessageTime:   model.MustTimestamp("2024-01-01T12:00:00Z"),
	})
	r.Upsert(model.ChatRoom{
		ID:                "a",
		LastMessage:       "old",
		LastMessageAuthor: "alice",
		LastMessageTime:   model.MustTimestamp("2024-01-01T11:00:00Z"),
	})

	got, _ := r.Get("a")
	assert.Equal(t, "new", got.LastMessage)
	assert.Equal(t, "bob", got.LastMessageAuthor)
	assert.Equal(t, model.MustTimestamp("2024-01-01T12:00:00Z"), got.LastMessageTime)
}

func TestRegistry_LastMessageTruncated(t *testing.T) {
	r := NewRegistry()
	long := strings.Repeat("я", 150)
	r.Upsert(model.ChatRoom{ID: "a", LastMessage: long, LastMessageTime: model.MustTimestamp("2024-01-01T00:00:00Z")})
	got, _ := r.Get("a")
	assert.Equal(t, 100, len([]rune(got.LastMessage)))

	r.Touch("a", &model.Message{ID: "m", Content: long, CreatedAt: model.MustTimestamp("2024-01-02T00:00:00Z")})
	got, _ = r.Get("a")
	assert.Equal(t, 100, len([]rune(got.LastMessage)))
}

func TestRegistry_TypeIsImmutable(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.ChatRoom{ID: "a", Type: model.RoomTypeShot})
	r.Upsert(model.ChatRoom{ID: "a", Type: model.RoomTypeProject})
	got, _ := r.Get("a")
	assert.Equal(t, model.RoomTypeShot, got.Type)
}

func TestRegistry_DisplayNameNotDowngraded(t *testing.T) {
	personal := func(dn string) model.ChatRoom {
		return model.ChatRoom{
			ID:           "p",
			Type:         model.RoomTypePersonal,
			Name:         "alice & bob",
			DisplayName:  dn,
			Participants: model.Participants{"alice", "bob"},
		}
	}
	r := NewRegistry()
	r.Upsert(personal("Bob Smith"))

	for _, dn := range []string{"", "bob", "alice & bob"} {
		r.Upsert(personal(dn))
		got, _ := r.Get("p")
		assert.Equal(t, "Bob Smith", got.DisplayName, "display_name %q", dn)
	}

	r.Upsert(personal("Robert Smith"))
	got, _ := r.Get("p")
	assert.Equal(t, "Robert Smith", got.DisplayName)
}

func TestNeedsDisplayName(t *testing.T) {
	base := model.ChatRoom{
		Type:         model.RoomTypePersonal,
		Name:         "alice & bob",
		Participants: model.Participants{"alice", "bob"},
	}
	cases := []struct {
		dn   string
		want bool
	}{
		{"", true},
		{"alice & bob", true},
		{"bob & alice", true},
		{"bob", true},
		{"Bob Smith", false},
	}
	for _, c := range cases {
		room := base
		room.DisplayName = c.dn
		assert.Equal(t, c.want, NeedsDisplayName(&room), "display_name %q", c.dn)
	}

	project := model.ChatRoom{Type: model.RoomTypeProject}
	assert.False(t, NeedsDisplayName(&project))
}

func TestRegistry_ReconcilePrunesOnlyProjectAndPersonal(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.ChatRoom{ID: "proj", Type: model.RoomTypeProject})
	r.Upsert(model.ChatRoom{ID: "pers", Type: model.RoomTypePersonal})
	r.Upsert(model.ChatRoom{ID: "shot", Type: model.RoomTypeShot})
	r.Upsert(model.PlaceholderRoom("ph"))
	r.Upsert(model.ChatRoom{ID: "keep", Type: model.RoomTypeProject})

	changed, pruned := r.Reconcile([]model.ChatRoom{{ID: "keep", Type: model.RoomTypeProject}})
	assert.True(t, changed)
	assert.ElementsMatch(t, []string{"proj", "pers"}, pruned)

	_, ok := r.Get("shot")
	assert.True(t, ok, "комнаты шотов не удаляются по отсутствию в списке")
	_, ok = r.Get("ph")
	assert.True(t, ok)
	assert.Equal(t, 3, r.Len())

	changed, pruned = r.Reconcile([]model.ChatRoom{{ID: "keep", Type: model.RoomTypeProject}})
	assert.False(t, changed)
	assert.Empty(t, pruned)
}

func TestRegistry_ReplaceMergesDuplicates(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.ChatRoom{ID: "gone"})
	r.Replace([]model.ChatRoom{
		{ID: "a", Name: "one"},
		{ID: "a", Name: "two"},
		{ID: "b"},
	})
	assert.Equal(t, 2, r.Len())
	got, _ := r.Get("a")
	assert.Equal(t, "two", got.Name)
	_, ok := r.Get("gone")
	assert.False(t, ok)
}

func TestRegistry_RemoveAndClearUnread(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.ChatRoom{ID: "a", UnreadCount: 2})
	assert.True(t, r.ClearUnread("a"))
	assert.False(t, r.ClearUnread("a"))
	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Equal(t, 0, r.Len())
}
