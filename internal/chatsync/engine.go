// Package chatsync держит локальное согласованное представление комнат и сообщений пользователя
// поверх REST-сервера, который остаётся единственным источником истины.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoOpenRoom     = errors.New("no chat room is open")
	ErrRoomRequired   = errors.New("room id is required")
	ErrInvalidPartner = errors.New("invalid partner")
)

// GuestUser: пользователь без входа; для него опрос не запускается.
const GuestUser = "guest"

const (
	lookupLimit = 4
	nameRetry   = time.Minute
)

// Backend: REST-сервер комнат и сообщений. Реализуется api.Client.
type Backend interface {
	ListRooms(ctx context.Context) ([]model.ChatRoom, error)
	GetRoom(ctx context.Context, roomID string) (*model.ChatRoom, error)
	ListMessages(ctx context.Context, roomID string) ([]model.Message, error)
	SendMessage(ctx context.Context, roomID, content string) (*model.Message, error)
	MarkRead(ctx context.Context, roomID string) error
	ProjectRoom(ctx context.Context, projectID string) (*model.ChatRoom, error)
	ShotRoom(ctx context.Context, shotID string) (*model.ChatRoom, error)
	PersonalRoom(ctx context.Context, partner string) (*model.ChatRoom, error)
	ProjectShots(ctx context.Context, projectID string) ([]model.Shot, error)
	GetUser(ctx context.Context, username string) (*model.User, error)
}

// HistoryStore хранит историю открытия комнат.
type HistoryStore interface {
	RecordOpen(ctx context.Context, rec model.RoomOpen) error
	History(ctx context.Context, username string, limit int) ([]model.RoomOpen, error)
}

// Notifier получает комнаты (не открытые), в которых выросло число непрочитанных.
type Notifier interface {
	NotifyUnread(ctx context.Context, room model.ChatRoom) error
}

// Listener получает снимок после каждого изменения состояния.
// StateChanged не должен блокироваться и вызывать методы Engine, меняющие состояние.
type Listener interface {
	StateChanged(State)
}

// State: отрисованный снимок для UI.
type State struct {
	User        string          `json:"user"`
	OpenRoomID  string          `json:"open_room_id,omitempty"`
	OpenRoom    *model.ChatRoom `json:"open_room,omitempty"`
	Rooms       []RoomView      `json:"rooms"`
	Messages    []MessageView   `json:"messages"`
	TotalUnread int             `json:"total_unread"`
	Badge       string          `json:"badge,omitempty"`
}

// Options: настройки Engine.
type Options struct {
	Username          string
	Location          *time.Location
	DiscoverShotRooms bool
	RequestTimeout    time.Duration
	History           HistoryStore
	Notifier          Notifier
}

type nameEntry struct {
	name    string
	ok      bool
	fetched time.Time
}

// Engine владеет Registry и MessageStore; все мутации идут через его методы под одним mutex,
// сетевые вызовы выполняются вне блокировки.
type Engine struct {
	backend Backend
	opts    Options
	reads   *ReadTracker

	// deliverMu упорядочивает рассылку: снимки уходят подписчикам в том порядке, в каком сняты.
	deliverMu sync.Mutex

	mu        sync.Mutex
	registry  *Registry
	store     *MessageStore
	listeners []Listener

	namesMu sync.Mutex
	names   map[string]nameEntry
}

// NewEngine создаёт движок для пользователя opts.Username.
func NewEngine(backend Backend, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	opts.Username = strings.TrimSpace(opts.Username)
	return &Engine{
		backend:  backend,
		opts:     opts,
		reads:    NewReadTracker(backend, opts.RequestTimeout),
		registry: NewRegistry(),
		store:    NewMessageStore(),
		names:    make(map[string]nameEntry),
	}
}

// Username возвращает текущего пользователя.
func (e *Engine) Username() string { return e.opts.Username }

// PollingEnabled: false для пустого пользователя и гостя.
func (e *Engine) PollingEnabled() bool {
	return e.opts.Username != "" && e.opts.Username != GuestUser
}

// AddListener подписывает на изменения состояния.
func (e *Engine) AddListener(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Wait ждёт фоновые отметки «прочитано».
func (e *Engine) Wait() {
	e.reads.Wait()
}

// changed рассылает свежий снимок подписчикам. Последним доставляется снимок,
// снятый после последней мутации; StateChanged вызывается вне e.mu.
func (e *Engine) changed() {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()
	e.mu.Lock()
	st := e.snapshotLocked()
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()
	for _, l := range listeners {
		l.StateChanged(st)
	}
}

// Snapshot возвращает текущий отрисованный снимок.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() State {
	openID := e.registry.OpenID()
	st := State{
		User:        e.opts.Username,
		OpenRoomID:  openID,
		Rooms:       RoomViews(e.registry.SortedView(), e.opts.Username, openID),
		Messages:    []MessageView{},
		TotalUnread: e.registry.TotalUnread(),
	}
	st.Badge = BadgeText(st.TotalUnread)
	if room, ok := e.registry.Get(openID); ok {
		st.OpenRoom = &room
		st.Messages = GroupMessages(e.store.Messages(), e.opts.Username, &room, e.opts.Location)
	}
	return st
}

// LoadRooms выполняет полную загрузку списка по действию пользователя. Ошибка возвращается, реестр не трогается.
func (e *Engine) LoadRooms(ctx context.Context) error {
	defer logger.DeferLogDuration("chatsync.LoadRooms", time.Now())()
	rooms, err := e.backend.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("chatsync.LoadRooms: %w", err)
	}
	if e.opts.DiscoverShotRooms {
		rooms = e.discoverShotRooms(ctx, rooms)
	}
	e.resolveNames(ctx, rooms)

	e.mu.Lock()
	openID := e.registry.OpenID()
	open, hadOpen := e.registry.Get(openID)
	e.registry.Replace(rooms)
	if hadOpen {
		if _, still := e.registry.Get(openID); !still {
			if prunable(open.Type) {
				e.closeLocked()
			} else {
				e.registry.Upsert(open)
			}
		}
	}
	n := e.registry.Len()
	e.mu.Unlock()

	logger.Infof("chatsync.LoadRooms: user=%s rooms=%d", e.opts.Username, n)
	e.changed()
	return nil
}

// discoverShotRooms дополняет список комнатами шотов проектов пользователя. Ошибки не прерывают загрузку.
func (e *Engine) discoverShotRooms(ctx context.Context, rooms []model.ChatRoom) []model.ChatRoom {
	known := make(map[string]struct{}, len(rooms))
	projects := make([]string, 0)
	seenProject := make(map[string]struct{})
	for i := range rooms {
		known[rooms[i].ID] = struct{}{}
		pid := rooms[i].ProjectID
		if rooms[i].Type != model.RoomTypeProject || pid == "" {
			continue
		}
		if _, ok := seenProject[pid]; ok {
			continue
		}
		seenProject[pid] = struct{}{}
		projects = append(projects, pid)
	}
	if len(projects) == 0 {
		return rooms
	}

	found := make([][]model.ChatRoom, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupLimit)
	for i, pid := range projects {
		i, pid := i, pid
		g.Go(func() error {
			shots, err := e.backend.ProjectShots(gctx, pid)
			if err != nil {
				logger.Debugf("chatsync.discoverShotRooms project=%s: %v", pid, err)
				return nil
			}
			for _, shot := range shots {
				if shot.ID == "" {
					continue
				}
				room, err := e.backend.ShotRoom(gctx, shot.ID)
				if err != nil {
					logger.Debugf("chatsync.discoverShotRooms shot=%s: %v", shot.ID, err)
					continue
				}
				if room.DisplayName == "" {
					room.DisplayName = shot.Title() + " Chat"
				}
				if room.Type == "" {
					room.Type = model.RoomTypeShot
				}
				if room.ShotID == "" {
					room.ShotID = shot.ID
				}
				found[i] = append(found[i], *room)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, batch := range found {
		for _, room := range batch {
			if _, ok := known[room.ID]; ok {
				continue
			}
			known[room.ID] = struct{}{}
			rooms = append(rooms, room)
		}
	}
	return rooms
}

// resolveNames подставляет человеческое имя собеседника в личные комнаты без него.
// Имена кешируются по логину; если имя не получить, показывается логин.
func (e *Engine) resolveNames(ctx context.Context, rooms []model.ChatRoom) {
	var missing []string
	queued := make(map[string]struct{})
	for i := range rooms {
		if !NeedsDisplayName(&rooms[i]) {
			continue
		}
		partner, ok := rooms[i].Partner(e.opts.Username)
		if !ok {
			continue
		}
		if _, cached := e.cachedName(partner); cached {
			continue
		}
		if _, ok := queued[partner]; ok {
			continue
		}
		queued[partner] = struct{}{}
		missing = append(missing, partner)
	}

	if len(missing) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(lookupLimit)
		for _, login := range missing {
			login := login
			g.Go(func() error {
				entry := nameEntry{fetched: time.Now()}
				u, err := e.backend.GetUser(gctx, login)
				if err != nil {
					logger.Debugf("chatsync.resolveNames user=%s: %v", login, err)
				} else if u.HasHumanName() {
					entry.name, entry.ok = u.DisplayName(), true
				} else {
					entry.ok = true
				}
				e.namesMu.Lock()
				e.names[login] = entry
				e.namesMu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	for i := range rooms {
		if !NeedsDisplayName(&rooms[i]) {
			continue
		}
		partner, ok := rooms[i].Partner(e.opts.Username)
		if !ok {
			continue
		}
		if name, _ := e.cachedName(partner); name != "" {
			rooms[i].DisplayName = name
		} else {
			rooms[i].DisplayName = partner
		}
	}
}

// cachedName возвращает известное имя ("" если его нет); cached=false значит, что пора запросить снова.
func (e *Engine) cachedName(login string) (name string, cached bool) {
	e.namesMu.Lock()
	defer e.namesMu.Unlock()
	entry, ok := e.names[login]
	if !ok {
		return "", false
	}
	if !entry.ok && time.Since(entry.fetched) >= nameRetry {
		return "", false
	}
	return entry.name, true
}

// OpenRoom открывает комнату по id. Неизвестная серверу комната заменяется заглушкой.
func (e *Engine) OpenRoom(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrRoomRequired
	}
	e.mu.Lock()
	room, known := e.registry.Get(roomID)
	e.mu.Unlock()

	if !known || len(room.Participants) == 0 {
		fetched, err := e.backend.GetRoom(ctx, roomID)
		switch {
		case err == nil && known:
			room = mergeRoom(room, *fetched)
		case err == nil:
			room = *fetched
		case !known:
			logger.Errorf("chatsync.OpenRoom room=%s: %v (используется заглушка)", roomID, err)
			room = model.PlaceholderRoom(roomID)
		default:
			logger.Debugf("chatsync.OpenRoom room=%s: %v (участники не получены)", roomID, err)
		}
	}
	return e.open(ctx, "chatsync.OpenRoom", room)
}

// OpenProjectRoom открывает (создавая при отсутствии) комнату проекта.
func (e *Engine) OpenProjectRoom(ctx context.Context, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return ErrRoomRequired
	}
	if room, ok := e.findRoom(func(r *model.ChatRoom) bool {
		return r.Type == model.RoomTypeProject && r.ProjectID == projectID
	}); ok {
		return e.OpenRoom(ctx, room.ID)
	}
	room, err := e.backend.ProjectRoom(ctx, projectID)
	if err != nil {
		return fmt.Errorf("chatsync.OpenProjectRoom: %w", err)
	}
	if room.Type == "" {
		room.Type = model.RoomTypeProject
	}
	if room.ProjectID == "" {
		room.ProjectID = projectID
	}
	defaultDisplayName(room, "Project Chat")
	return e.open(ctx, "chatsync.OpenProjectRoom", *room)
}

// OpenShotRoom открывает (создавая при отсутствии) комнату шота.
func (e *Engine) OpenShotRoom(ctx context.Context, shotID string) error {
	if strings.TrimSpace(shotID) == "" {
		return ErrRoomRequired
	}
	if room, ok := e.findRoom(func(r *model.ChatRoom) bool {
		return r.Type == model.RoomTypeShot && r.ShotID == shotID
	}); ok {
		return e.OpenRoom(ctx, room.ID)
	}
	room, err := e.backend.ShotRoom(ctx, shotID)
	if err != nil {
		return fmt.Errorf("chatsync.OpenShotRoom: %w", err)
	}
	if room.Type == "" {
		room.Type = model.RoomTypeShot
	}
	if room.ShotID == "" {
		room.ShotID = shotID
	}
	defaultDisplayName(room, "Shot Chat")
	return e.open(ctx, "chatsync.OpenShotRoom", *room)
}

// OpenPersonalRoom открывает личную комнату с partner. Ошибка сервера (например, пользователи не партнёры) возвращается.
func (e *Engine) OpenPersonalRoom(ctx context.Context, partner string) error {
	partner = strings.TrimSpace(partner)
	if partner == "" || partner == e.opts.Username {
		return fmt.Errorf("chatsync.OpenPersonalRoom: %w: %q", ErrInvalidPartner, partner)
	}
	room, err := e.backend.PersonalRoom(ctx, partner)
	if err != nil {
		return fmt.Errorf("chatsync.OpenPersonalRoom: %w", err)
	}
	if room.Type == "" {
		room.Type = model.RoomTypePersonal
	}
	if len(room.Participants) == 0 {
		room.Participants = model.Participants{e.opts.Username, partner}
	}
	return e.open(ctx, "chatsync.OpenPersonalRoom", *room)
}

func defaultDisplayName(room *model.ChatRoom, fallback string) {
	if room.DisplayName != "" {
		return
	}
	if room.Name != "" {
		room.DisplayName = room.Name + " Chat"
		return
	}
	room.DisplayName = fallback
}

func (e *Engine) findRoom(match func(*model.ChatRoom) bool) (model.ChatRoom, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.registry.SortedView() {
		if match(&r) {
			return r, true
		}
	}
	return model.ChatRoom{}, false
}

// open делает комнату открытой: обнуляет непрочитанные, отправляет отметку «прочитано»
// и загружает сообщения. Ошибка загрузки сообщений возвращается, комната остаётся открытой.
func (e *Engine) open(ctx context.Context, op string, room model.ChatRoom) error {
	defer logger.DeferLogDuration(op, time.Now())()
	rooms := []model.ChatRoom{room}
	e.resolveNames(ctx, rooms)
	room = rooms[0]

	e.mu.Lock()
	e.registry.Upsert(room)
	e.registry.SetOpen(room.ID)
	if e.store.RoomID() != room.ID {
		e.store.Clear()
	}
	e.mu.Unlock()

	e.reads.MarkRead(room.ID)
	e.recordOpen(ctx, room.ID)

	msgs, err := e.backend.ListMessages(ctx, room.ID)
	if err != nil {
		e.changed()
		return fmt.Errorf("%s: %w", op, err)
	}
	e.mu.Lock()
	if e.registry.OpenID() == room.ID {
		e.store.Load(room.ID, msgs)
		if tail, ok := e.store.Tail(); ok {
			e.registry.Touch(room.ID, &tail)
		}
	}
	e.mu.Unlock()
	e.changed()
	return nil
}

func (e *Engine) recordOpen(ctx context.Context, roomID string) {
	if e.opts.History == nil || e.opts.Username == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()
	rec := model.RoomOpen{Username: e.opts.Username, RoomID: roomID, OpenedAt: time.Now().UTC()}
	if err := e.opts.History.RecordOpen(ctx, rec); err != nil {
		logger.Errorf("chatsync.recordOpen room=%s: %v", roomID, err)
	}
}

// History возвращает последние открытия комнат текущим пользователем.
func (e *Engine) History(ctx context.Context, limit int) ([]model.RoomOpen, error) {
	if e.opts.History == nil {
		return []model.RoomOpen{}, nil
	}
	recs, err := e.opts.History.History(ctx, e.opts.Username, limit)
	if err != nil {
		return nil, fmt.Errorf("chatsync.History: %w", err)
	}
	return recs, nil
}

// CloseRoom закрывает открытую комнату.
func (e *Engine) CloseRoom() {
	e.mu.Lock()
	e.closeLocked()
	e.mu.Unlock()
	e.changed()
}

func (e *Engine) closeLocked() {
	e.registry.SetOpen("")
	e.store.Clear()
}

// Send отправляет сообщение в открытую комнату и перезагружает её сообщения.
// Сообщение появляется в списке только после подтверждения сервером.
func (e *Engine) Send(ctx context.Context, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("chatsync.Send", time.Now())()
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	e.mu.Lock()
	roomID := e.registry.OpenID()
	e.mu.Unlock()
	if roomID == "" {
		return nil, ErrNoOpenRoom
	}

	msg, err := e.backend.SendMessage(ctx, roomID, content)
	if err != nil {
		return nil, fmt.Errorf("chatsync.Send: %w", err)
	}
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}

	msgs, err := e.backend.ListMessages(ctx, roomID)
	reload := err == nil
	e.mu.Lock()
	if err != nil {
		logger.Errorf("chatsync.Send: reload room=%s: %v", roomID, err)
		if e.store.RoomID() == roomID {
			msgs, reload = withMessage(e.store.Messages(), *msg), true
		}
	}
	if reload && e.registry.OpenID() == roomID {
		e.store.Load(roomID, withMessage(msgs, *msg))
	}
	e.registry.Touch(roomID, msg)
	e.mu.Unlock()

	e.changed()
	return msg, nil
}

// withMessage добавляет подтверждённое сервером сообщение, если его ещё нет в списке.
func withMessage(msgs []model.Message, m model.Message) []model.Message {
	for i := range msgs {
		if msgs[i].ID == m.ID {
			return msgs
		}
	}
	return append(msgs, m)
}

// Tick выполняет один шаг опроса: сначала сообщения открытой комнаты, затем список комнат.
// Ошибки возвращаются для журнала; частично полученные данные применяются.
func (e *Engine) Tick(ctx context.Context) error {
	if !e.PollingEnabled() {
		return nil
	}
	var errs []error
	changed := false

	e.mu.Lock()
	roomID := e.registry.OpenID()
	gen := e.store.Generation()
	e.mu.Unlock()

	if roomID != "" {
		msgs, err := e.backend.ListMessages(ctx, roomID)
		if err != nil {
			errs = append(errs, fmt.Errorf("chatsync.Tick messages: %w", err))
		} else {
			e.mu.Lock()
			// Отправка или открытие между запросом и ответом меняют generation; их данные новее.
			if e.store.Generation() == gen && e.registry.OpenID() == roomID &&
				(e.store.RoomID() != roomID || e.store.Differs(msgs)) {
				e.store.Load(roomID, msgs)
				if tail, ok := e.store.Tail(); ok {
					e.registry.Touch(roomID, &tail)
				}
				changed = true
			}
			e.mu.Unlock()
		}
	}

	rooms, err := e.backend.ListRooms(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("chatsync.Tick rooms: %w", err))
	} else {
		e.resolveNames(ctx, rooms)

		e.mu.Lock()
		before := make(map[string]int, e.registry.Len())
		for _, r := range e.registry.SortedView() {
			before[r.ID] = r.UnreadCount
		}
		ch, pruned := e.registry.Reconcile(rooms)
		openID := e.registry.OpenID()
		for _, id := range pruned {
			if id == openID {
				logger.Infof("chatsync.Tick: открытая комната %s больше недоступна", id)
				e.closeLocked()
			}
		}
		var raised []model.ChatRoom
		for _, r := range e.registry.SortedView() {
			prev, existed := before[r.ID]
			if existed && r.ID != e.registry.OpenID() && r.UnreadCount > prev {
				raised = append(raised, r)
			}
		}
		e.mu.Unlock()

		changed = changed || ch
		e.notifyUnread(ctx, raised)
	}

	if changed {
		e.changed()
	}
	return errors.Join(errs...)
}

func (e *Engine) notifyUnread(ctx context.Context, rooms []model.ChatRoom) {
	if e.opts.Notifier == nil {
		return
	}
	for _, r := range rooms {
		if err := e.opts.Notifier.NotifyUnread(ctx, r); err != nil {
			logger.Errorf("chatsync.notifyUnread room=%s: %v", r.ID, err)
		}
	}
}
