package handlers

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pedidos-client/internal/domain"
	"github.com/tbourn/go-pedidos-client/internal/http/middleware"
	"github.com/tbourn/go-pedidos-client/internal/repo"
	"github.com/tbourn/go-pedidos-client/internal/search"
	"github.com/tbourn/go-pedidos-client/internal/services"
)

// ---------- auth ----------

type fakeAuth struct {
	sess     domain.Session
	loginErr error
	logouts  int
	gotUser  string
	gotPass  string
}

func (f *fakeAuth) Login(_ context.Context, u, p string) (domain.Session, error) {
	f.gotUser, f.gotPass = u, p
	if f.loginErr != nil {
		return domain.Session{}, f.loginErr
	}
	return f.sess, nil
}

func (f *fakeAuth) Logout(context.Context) error {
	f.logouts++
	f.sess = domain.Session{}
	return nil
}

func (f *fakeAuth) Current(context.Context) (domain.Session, error) {
	if !f.sess.LoggedIn() {
		return domain.Session{}, services.ErrNotLoggedIn
	}
	return f.sess, nil
}

// ---------- orders ----------

type fakeOrderSvc struct {
	view       services.OrderView
	fetchErr   error
	fetchCalls int

	created   string
	createErr error

	deletedID   string
	confirmed   bool
	deleteCalls int
}

func (f *fakeOrderSvc) Fetch(context.Context) (services.OrderView, error) {
	f.fetchCalls++
	return f.view, f.fetchErr
}

func (f *fakeOrderSvc) Current() services.OrderView { return f.view }

func (f *fakeOrderSvc) Create(_ context.Context, d string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = d
	return nil
}

func (f *fakeOrderSvc) Delete(ctx context.Context, id string, confirm services.Confirmer) error {
	f.deleteCalls++
	if confirm == nil || !confirm(ctx, "?") {
		return services.ErrNotConfirmed
	}
	f.deletedID, f.confirmed = id, true
	return nil
}

// ---------- rooms ----------

type fakeRoom struct {
	mu      sync.Mutex
	view    services.RoomView
	sent    []string
	sendErr error
	deleted []string
	delErr  error
	follow  *bool
	upName  string
	upBody  string
	docs    []domain.Document
	docsErr error
	results []search.Result
	gotK    int
}

func (r *fakeRoom) Snapshot() services.RoomView { return r.view }

func (r *fakeRoom) Send(_ context.Context, body string) (domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return domain.ChatMessage{}, r.sendErr
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ChatMessage{}, services.ErrEmptyInput
	}
	r.sent = append(r.sent, body)
	return domain.ChatMessage{
		ID: "srv-1", LocalID: "loc-1", RoomID: r.view.RoomID, Body: body,
		SenderID: "7", Timestamp: time.Unix(1700000000, 0).UTC(), Status: domain.StatusActive,
	}, nil
}

func (r *fakeRoom) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *fakeRoom) SoftDelete(_ context.Context, id string) error {
	if r.delErr != nil {
		return r.delErr
	}
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeRoom) SetFollowTail(v bool) { r.follow = &v }

func (r *fakeRoom) Upload(_ context.Context, name string, rd io.Reader) ([]domain.Document, error) {
	b, _ := io.ReadAll(rd)
	r.upName, r.upBody = name, string(b)
	return r.docs, r.docsErr
}

func (r *fakeRoom) Documents(context.Context) ([]domain.Document, error) { return r.docs, r.docsErr }

func (r *fakeRoom) Search(_ string, k int) []search.Result {
	r.gotK = k
	return r.results
}

type fakeRegistry struct {
	rooms    map[string]*fakeRoom
	openErr  error
	gotOrder string
	closed   []string
	closeAll int
}

func newRegistry(rooms ...*fakeRoom) *fakeRegistry {
	reg := &fakeRegistry{rooms: map[string]*fakeRoom{}}
	for _, r := range rooms {
		reg.rooms[r.view.RoomID] = r
	}
	return reg
}

func (f *fakeRegistry) Open(_ context.Context, roomID, orderID string) (Room, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.gotOrder = orderID
	r, ok := f.rooms[roomID]
	if !ok {
		r = &fakeRoom{view: services.RoomView{RoomID: roomID, OrderID: orderID, State: services.StateActive}}
		f.rooms[roomID] = r
	}
	return r, nil
}

func (f *fakeRegistry) Get(roomID string) (Room, error) {
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, services.ErrRoomNotOpen
	}
	return r, nil
}

func (f *fakeRegistry) Close(_ context.Context, roomID string) error {
	if _, ok := f.rooms[roomID]; !ok {
		return services.ErrRoomNotOpen
	}
	delete(f.rooms, roomID)
	f.closed = append(f.closed, roomID)
	return nil
}

func (f *fakeRegistry) CloseAll(context.Context) {
	f.closeAll++
	f.rooms = map[string]*fakeRoom{}
}

// ---------- badge / notices ----------

type fakeBadge struct {
	snap   domain.NotificationSnapshot
	resets int
}

func (f *fakeBadge) Badge() domain.Badge                   { return domain.BadgeOf(f.snap) }
func (f *fakeBadge) Snapshot() domain.NotificationSnapshot { return f.snap }
func (f *fakeBadge) Reset()                                { f.resets++; f.snap = domain.NotificationSnapshot{} }

// ---------- receipts ----------

type memReceipts struct {
	mu   sync.Mutex
	recs map[string]domain.SendReceipt
}

func newMemReceipts() *memReceipts { return &memReceipts{recs: map[string]domain.SendReceipt{}} }

func (m *memReceipts) Get(_ context.Context, userID, roomID, key string, now time.Time) (*domain.SendReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[userID+"|"+roomID+"|"+key]
	if !ok || !rec.ExpiresAt.After(now) {
		return nil, repo.ErrNotFound
	}
	return &rec, nil
}

func (m *memReceipts) Create(_ context.Context, msg domain.ChatMessage, userID, key string, status int, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := userID + "|" + msg.RoomID + "|" + key
	if _, ok := m.recs[k]; ok {
		return repo.ErrDuplicate
	}
	m.recs[k] = domain.SendReceipt{
		UserID: userID, RoomID: msg.RoomID, Key: key, Body: msg.Body,
		SentAt: msg.Timestamp, Status: status, ExpiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *memReceipts) exists(userID, roomID, key string) bool {
	rec, err := m.Get(context.Background(), userID, roomID, key, time.Now())
	return err == nil && rec != nil
}

// ---------- router ----------

type fixture struct {
	auth     *fakeAuth
	orders   *fakeOrderSvc
	rooms    *fakeRegistry
	badge    *fakeBadge
	feed     *services.Feed
	receipts *memReceipts
	r        *gin.Engine
}

func newFixture(rooms ...*fakeRoom) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		auth: &fakeAuth{sess: domain.Session{
			Token: "tok",
			User:  domain.User{ID: "7", Role: domain.RoleUser, GivenName: "Ana"},
		}},
		orders:   &fakeOrderSvc{},
		rooms:    newRegistry(rooms...),
		badge:    &fakeBadge{},
		feed:     services.NewFeed(10),
		receipts: newMemReceipts(),
	}
	h := New(Deps{
		Auth:          f.auth,
		Orders:        f.orders,
		Rooms:         f.rooms,
		Notifications: f.badge,
		Notices:       f.feed,
		Receipts:      f.receipts,
	})

	r := gin.New()
	r.Use(middleware.Session(func(context.Context) string {
		if f.auth.sess.LoggedIn() {
			return f.auth.sess.User.ID.String()
		}
		return ""
	}))
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
		func(ctx context.Context, uid, roomID, key string, now time.Time) (bool, error) {
			rec, err := f.receipts.Get(ctx, uid, roomID, key, now)
			return rec != nil, err
		}))

	r.POST("/session", h.Login)
	r.GET("/session", h.CurrentSession)
	r.DELETE("/session", h.Logout)
	r.GET("/orders", h.ListOrders)
	r.POST("/orders", h.CreateOrder)
	r.DELETE("/orders/:id", h.DeleteOrder)
	r.POST("/rooms/:roomId", h.OpenRoom)
	r.GET("/rooms/:roomId", h.GetRoom)
	r.DELETE("/rooms/:roomId", h.CloseRoom)
	r.POST("/rooms/:roomId/messages", h.SendMessage)
	r.DELETE("/rooms/:roomId/messages/:messageId", h.DeleteMessage)
	r.PUT("/rooms/:roomId/follow", h.SetFollow)
	r.POST("/rooms/:roomId/documents", h.UploadDocument)
	r.GET("/rooms/:roomId/documents", h.ListDocuments)
	r.GET("/rooms/:roomId/search", h.SearchMessages)
	r.GET("/badge", h.GetBadge)
	r.GET("/notices", h.ListNotices)
	r.DELETE("/notices/:id", h.DismissNotice)
	f.r = r
	return f
}

func (f *fixture) do(method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func activeRoom(id string) *fakeRoom {
	return &fakeRoom{view: services.RoomView{RoomID: id, State: services.StateActive}}
}
