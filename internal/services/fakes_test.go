package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/tbourn/go-pedidos-client/internal/domain"
	"github.com/tbourn/go-pedidos-client/internal/transport"
)

// ----- Sessions -----

type fakeSessions struct {
	mu   sync.Mutex
	sess domain.Session
	err  error

	setCalls   int
	clearCalls int
	setErr     error
}

func loggedIn(id, role string) *fakeSessions {
	return &fakeSessions{sess: domain.Session{
		Token: "tok",
		User:  domain.User{ID: domain.FlexID(id), Role: role, GivenName: "Ana", Surname: "Pérez"},
	}}
}

func (f *fakeSessions) Get(context.Context) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess, f.err
}

func (f *fakeSessions) Set(_ context.Context, s domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	f.sess = s
	return nil
}

func (f *fakeSessions) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	f.sess = domain.Session{}
	return nil
}

// ----- Presenter -----

type notice struct {
	kind   NoticeKind
	title  string
	text   string
	dialog bool
}

type recPresenter struct {
	mu      sync.Mutex
	notices []notice
	confirm bool
}

func (p *recPresenter) Toast(kind NoticeKind, title string, _ time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, notice{kind: kind, title: title})
}

func (p *recPresenter) Dialog(kind NoticeKind, title, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, notice{kind: kind, title: title, text: text, dialog: true})
}

func (p *recPresenter) Confirm(context.Context, string) bool { return p.confirm }

func (p *recPresenter) all() []notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notice(nil), p.notices...)
}

func (p *recPresenter) last() (notice, bool) {
	all := p.all()
	if len(all) == 0 {
		return notice{}, false
	}
	return all[len(all)-1], true
}

// ----- Order backend -----

type fakeOrders struct {
	res        domain.OrdersResponse
	fetchErr   error
	fetchCalls int

	createDesc  string
	createCalls int
	createErr   error

	deleteID    string
	deleteCalls int
	deleteErr   error
}

func (f *fakeOrders) FetchOrders(context.Context) (domain.OrdersResponse, error) {
	f.fetchCalls++
	return f.res, f.fetchErr
}

func (f *fakeOrders) CreateOrder(_ context.Context, d string) error {
	f.createCalls++
	f.createDesc = d
	return f.createErr
}

func (f *fakeOrders) DeleteOrder(_ context.Context, id string) error {
	f.deleteCalls++
	f.deleteID = id
	return f.deleteErr
}

// ----- Notification backend -----

type fakeNotifBackend struct {
	mu          sync.Mutex
	snap        domain.NotificationSnapshot
	err         error
	unread      domain.NotificationSnapshot
	unreadErr   error
	calls       int
	unreadCalls int
	lastUser    string
	lastRole    string
}

func (f *fakeNotifBackend) Notifications(_ context.Context, userID, role string) (domain.NotificationSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastUser, f.lastRole = userID, role
	return f.snap, f.err
}

func (f *fakeNotifBackend) UnreadMessages(_ context.Context, userID string) (domain.NotificationSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadCalls++
	f.lastUser = userID
	return f.unread, f.unreadErr
}

// ----- Attachment backend -----

type fakeDocs struct {
	uploadErr   error
	uploadCalls int
	gotName     string
	gotBody     string

	docs      []domain.Document
	listErr   error
	listCalls int
}

func (f *fakeDocs) UploadDocument(_ context.Context, _ string, filename string, r io.Reader) error {
	f.uploadCalls++
	f.gotName = filename
	b, _ := io.ReadAll(r)
	f.gotBody = string(b)
	return f.uploadErr
}

func (f *fakeDocs) ListDocuments(context.Context, string) ([]domain.Document, error) {
	f.listCalls++
	return f.docs, f.listErr
}

// ----- Chat backend -----

type fakeChat struct {
	mu sync.Mutex

	history    []domain.ChatMessage
	historyErr error

	sent    []transport.OutboundMessage
	sendID  string
	sendErr error

	statusIDs []string
	statusErr error

	notified  []string
	notifyErr error
}

func (f *fakeChat) RoomMessages(context.Context, string) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChatMessage(nil), f.history...), f.historyErr
}

func (f *fakeChat) SendMessage(_ context.Context, m transport.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.sendID, f.sendErr
}

func (f *fakeChat) UpdateMessageStatus(_ context.Context, id string, _ domain.MessageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusIDs = append(f.statusIDs, id)
	return f.statusErr
}

func (f *fakeChat) UpdateNotification(_ context.Context, roomID, userType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, roomID+":"+userType)
	return f.notifyErr
}

func (f *fakeChat) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChat) notifiedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notified)
}

// ----- Realtime -----

type fakeRealtime struct {
	mu     sync.Mutex
	joins  []transport.Membership
	leaves []string
	events []string // "join:room" / "leave:room" in emit order
	msgs   *transport.Subscription[domain.ChatMessage]
	hist   *transport.Subscription[[]domain.ChatMessage]
	pres   *transport.Subscription[[]domain.ConnectedUser]
	errs   *transport.Subscription[transport.RemoteError]

	// beforeJoin, when set, runs before a join is recorded.
	beforeJoin func()
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{
		msgs: transport.NewSubscription[domain.ChatMessage](16, nil),
		hist: transport.NewSubscription[[]domain.ChatMessage](16, nil),
		pres: transport.NewSubscription[[]domain.ConnectedUser](16, nil),
		errs: transport.NewSubscription[transport.RemoteError](16, nil),
	}
}

func (f *fakeRealtime) JoinRoom(_ context.Context, m transport.Membership) error {
	if f.beforeJoin != nil {
		f.beforeJoin()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, m)
	f.events = append(f.events, "join:"+m.RoomID)
	return nil
}

func (f *fakeRealtime) LeaveRoom(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, roomID+":"+userID)
	f.events = append(f.events, "leave:"+roomID)
	return nil
}

func (f *fakeRealtime) Messages() *transport.Subscription[domain.ChatMessage]     { return f.msgs }
func (f *fakeRealtime) History() *transport.Subscription[[]domain.ChatMessage]    { return f.hist }
func (f *fakeRealtime) Presence() *transport.Subscription[[]domain.ConnectedUser] { return f.pres }
func (f *fakeRealtime) Errors() *transport.Subscription[transport.RemoteError]    { return f.errs }

func (f *fakeRealtime) emitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeRealtime) leaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.leaves)
}

// ----- Notifier -----

type fakeNotifier struct {
	mu      sync.Mutex
	refresh int
	badge   domain.Badge
}

func (f *fakeNotifier) Refresh(context.Context) domain.NotificationSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh++
	return domain.NotificationSnapshot{}
}

func (f *fakeNotifier) Badge() domain.Badge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.badge
}

func (f *fakeNotifier) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refresh
}

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
