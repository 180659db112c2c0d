package services

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-pedidos-client/internal/domain"
	"github.com/tbourn/go-pedidos-client/internal/observability"
	"github.com/tbourn/go-pedidos-client/internal/search"
	"github.com/tbourn/go-pedidos-client/internal/transport"
)

// RoomState is the lifecycle state of a ChatSession.
type RoomState string

const (
	StateUninitialized RoomState = "uninitialized"
	StateJoining       RoomState = "joining"
	StateActive        RoomState = "active"
	StateLeaving       RoomState = "leaving"
	StateClosed        RoomState = "closed"
)

// ChatBackend is the subset of the transport a room uses.
type ChatBackend interface {
	RoomMessages(ctx context.Context, roomID string) ([]domain.ChatMessage, error)
	SendMessage(ctx context.Context, m transport.OutboundMessage) (string, error)
	UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus) error
	UpdateNotification(ctx context.Context, roomID, userType string) error
}

// Realtime is the subset of the socket a room uses.
type Realtime interface {
	JoinRoom(ctx context.Context, m transport.Membership) error
	LeaveRoom(ctx context.Context, roomID, userID string) error
	Messages() *transport.Subscription[domain.ChatMessage]
	History() *transport.Subscription[[]domain.ChatMessage]
	Presence() *transport.Subscription[[]domain.ConnectedUser]
	Errors() *transport.Subscription[transport.RemoteError]
}

// Notifier is the shared badge state a room reads and nudges.
type Notifier interface {
	Refresh(ctx context.Context) domain.NotificationSnapshot
	Badge() domain.Badge
}

// ChatDeps are the collaborators of a ChatSession.
type ChatDeps struct {
	Backend     ChatBackend
	Realtime    Realtime
	Sessions    SessionProvider
	Notifier    Notifier
	Presenter   Presenter
	Attachments *AttachmentService
	// ReconcileInterval is the presence check period. Defaults to 2s.
	ReconcileInterval time.Duration
}

// RoomView is a point-in-time copy of a room for rendering.
type RoomView struct {
	RoomID             string                 `json:"room_id"`
	OrderID            string                 `json:"order_id,omitempty"`
	State              RoomState              `json:"state"`
	Messages           []domain.ChatMessage   `json:"messages"`
	Presence           []domain.ConnectedUser `json:"presence"`
	CounterpartPresent bool                   `json:"counterpart_present"`
	FollowTail         bool                   `json:"follow_tail"`
	ScrollTo           string                 `json:"scroll_to,omitempty"`
	Badge              domain.Badge           `json:"badge"`
	RealtimeError      string                 `json:"realtime_error,omitempty"`
}

// ChatSession is one open chat room. A single goroutine serializes inbound
// realtime events and reconciliation ticks; everything it touches is
// guarded by mu.
type ChatSession struct {
	roomID  string
	orderID string
	deps    ChatDeps
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	state    RoomState
	user     domain.User
	msgs     messageList
	presence []domain.ConnectedUser
	follow   bool
	scrollTo string
	rtErr    string

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	subs streams
}

// streams are the realtime subscriptions of one open room.
type streams struct {
	msgs *transport.Subscription[domain.ChatMessage]
	hist *transport.Subscription[[]domain.ChatMessage]
	pres *transport.Subscription[[]domain.ConnectedUser]
	errs *transport.Subscription[transport.RemoteError]
}

func (s streams) close() {
	s.msgs.Close()
	s.hist.Close()
	s.pres.Close()
	s.errs.Close()
}

// NewChatSession returns an unopened room. orderID may be empty when the
// room has no order attached; document operations then fail.
func NewChatSession(roomID, orderID string, deps ChatDeps) *ChatSession {
	if deps.ReconcileInterval <= 0 {
		deps.ReconcileInterval = 2 * time.Second
	}
	return &ChatSession{
		roomID:  strings.TrimSpace(roomID),
		orderID: strings.TrimSpace(orderID),
		deps:    deps,
		log:     log.With().Str("component", "chat").Str("room_id", roomID).Logger(),
		now:     time.Now,
		state:   StateUninitialized,
		follow:  true,
		done:    make(chan struct{}),
	}
}

// RoomID returns the room this session is bound to.
func (c *ChatSession) RoomID() string { return c.roomID }

// State returns the lifecycle state.
func (c *ChatSession) State() RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open joins the room and loads its history. Without a room id it logs and
// stays uninitialized. Join and history failures are logged and the room
// still becomes active. Opening an already opened session is a no-op.
func (c *ChatSession) Open(ctx context.Context) error {
	ctx, span := otel.Tracer("services/ChatSession").Start(ctx, "Open",
		trace.WithAttributes(attribute.String("room.id", c.roomID)))
	defer span.End()

	if c.roomID == "" {
		c.log.Error().Msg("no room id; chat not opened")
		return ErrNoRoom
	}
	sess, err := currentSession(ctx, c.deps.Sessions)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return nil
	}
	c.state = StateJoining
	c.user = sess.User
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	rt := c.deps.Realtime
	subs := streams{msgs: rt.Messages(), hist: rt.History(), pres: rt.Presence(), errs: rt.Errors()}
	c.subs = subs
	c.mu.Unlock()
	observability.OpenRooms.Inc()

	go c.loop(runCtx, subs)

	user := sess.User
	if err := rt.JoinRoom(ctx, transport.Membership{
		RoomID:    c.roomID,
		UserID:    user.ID.String(),
		GivenName: user.GivenName,
		Surname:   user.Surname,
		Role:      user.Role,
	}); err != nil {
		c.log.Warn().Err(err).Msg("join room failed")
	}

	c.mu.Lock()
	closed := c.state != StateJoining
	c.mu.Unlock()
	if closed {
		// Closed while joining: its leave may have gone out before the join,
		// so leave again or the socket re-joins the room on reconnect.
		if err := rt.LeaveRoom(context.WithoutCancel(ctx), c.roomID, user.ID.String()); err != nil {
			c.log.Warn().Err(err).Msg("leave after racing close failed")
		}
		return ErrRoomNotOpen
	}

	history, err := c.deps.Backend.RoomMessages(ctx, c.roomID)
	if err != nil {
		c.log.Error().Err(err).Msg("load history failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoining {
		return ErrRoomNotOpen
	}
	c.msgs.mergeHistory(history)
	c.state = StateActive
	c.followLocked()
	span.SetAttributes(attribute.Int("messages", len(c.msgs.items)))
	return nil
}

func (c *ChatSession) loop(ctx context.Context, subs streams) {
	defer close(c.done)

	ticker := time.NewTicker(c.deps.ReconcileInterval)
	defer ticker.Stop()

	msgC, histC, presC, errC := subs.msgs.C(), subs.hist.C(), subs.pres.C(), subs.errs.C()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgC:
			if !ok {
				msgC = nil
				c.streamEnded(subs.msgs.Err())
				continue
			}
			c.receive(ctx, m)
		case batch, ok := <-histC:
			if !ok {
				histC = nil
				continue
			}
			c.receiveHistory(batch)
		case users, ok := <-presC:
			if !ok {
				presC = nil
				continue
			}
			c.mu.Lock()
			c.presence = users
			c.mu.Unlock()
		case e, ok := <-errC:
			if !ok {
				errC = nil
				continue
			}
			c.log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("realtime error event")
			c.mu.Lock()
			c.rtErr = e.Message
			c.mu.Unlock()
		case <-ticker.C:
			c.reconcile(ctx)
		}
	}
}

func (c *ChatSession) streamEnded(err error) {
	if err == nil {
		return
	}
	c.log.Error().Err(err).Msg("realtime channel closed")
	c.mu.Lock()
	c.rtErr = err.Error()
	c.mu.Unlock()
}

// receive handles one inbound message. Messages for other rooms are
// ignored; the badge is refreshed when someone else wrote.
func (c *ChatSession) receive(ctx context.Context, m domain.ChatMessage) {
	if m.RoomID != "" && m.RoomID != c.roomID {
		return
	}
	m.RoomID = c.roomID

	c.mu.Lock()
	if c.state != StateJoining && c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.msgs.add(m)
	c.followLocked()
	self := c.user.ID.String()
	c.mu.Unlock()

	if m.SenderID != self && c.deps.Notifier != nil {
		c.deps.Notifier.Refresh(ctx)
	}
}

// receiveHistory merges a previousMessages batch sent after the join.
// Entries tagged with another room are dropped.
func (c *ChatSession) receiveHistory(batch []domain.ChatMessage) {
	mine := make([]domain.ChatMessage, 0, len(batch))
	for _, m := range batch {
		if m.RoomID != "" && m.RoomID != c.roomID {
			continue
		}
		m.RoomID = c.roomID
		mine = append(mine, m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoining && c.state != StateActive {
		return
	}
	c.msgs.mergeHistory(mine)
	c.followLocked()
}

// followLocked moves the scroll anchor to the newest message unless the
// user scrolled away.
func (c *ChatSession) followLocked() {
	if c.follow {
		c.scrollTo = c.msgs.newest()
	}
}

// SetFollowTail records whether the view is pinned to the newest message.
// Re-enabling it jumps to the newest message.
func (c *ChatSession) SetFollowTail(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.follow = v
	c.followLocked()
}

// Send writes body through the REST endpoint; the server broadcasts it to
// the room. A blank body makes no call. On success the message is added
// locally and later deduplicated against its broadcast.
func (c *ChatSession) Send(ctx context.Context, body string) (domain.ChatMessage, error) {
	ctx, span := otel.Tracer("services/ChatSession").Start(ctx, "Send",
		trace.WithAttributes(attribute.String("room.id", c.roomID)))
	defer span.End()

	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ChatMessage{}, ErrEmptyInput
	}

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return domain.ChatMessage{}, ErrRoomNotOpen
	}
	user := c.user
	c.mu.Unlock()

	at := c.now().Truncate(time.Second)
	id, err := c.deps.Backend.SendMessage(ctx, transport.OutboundMessage{
		Role:      user.Role,
		RoomID:    c.roomID,
		Message:   body,
		UserID:    user.ID.String(),
		Nombres:   user.GivenName,
		Apellidos: user.Surname,
		Estado:    string(domain.StatusActive),
		Timestamp: domain.FormatLocalTimestamp(at),
	})
	if err != nil {
		c.log.Error().Err(err).Msg("send message failed")
		c.deps.Presenter.Dialog(NoticeError, "Error", transport.MessageOf(err, "No se pudo enviar el mensaje"))
		return domain.ChatMessage{}, err
	}

	msg := domain.ChatMessage{
		ID:              id,
		RoomID:          c.roomID,
		Body:            body,
		SenderID:        user.ID.String(),
		SenderGivenName: user.GivenName,
		SenderSurname:   user.Surname,
		Role:            user.Role,
		Timestamp:       at,
		Status:          domain.StatusActive,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		// Closed while the write was in flight.
		return msg, nil
	}
	stored := c.msgs.addOwn(msg)
	c.followLocked()
	return stored, nil
}

// SoftDelete erases a message locally, keeping its position, then asks the
// server to flag it. The server result is not reconciled: a failed update
// is only logged.
func (c *ChatSession) SoftDelete(ctx context.Context, messageID string) error {
	ctx, span := otel.Tracer("services/ChatSession").Start(ctx, "SoftDelete",
		trace.WithAttributes(attribute.String("message.id", messageID)))
	defer span.End()

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrRoomNotOpen
	}
	i := c.msgs.find(messageID)
	if i < 0 {
		c.mu.Unlock()
		return ErrMessageNotFound
	}
	c.msgs.items[i].Erase()
	serverID := c.msgs.items[i].ID
	c.mu.Unlock()

	if serverID == "" {
		c.log.Warn().Str("local_id", messageID).Msg("message has no server id; erased locally only")
		return nil
	}
	if err := c.deps.Backend.UpdateMessageStatus(ctx, serverID, domain.StatusErased); err != nil {
		c.log.Error().Err(err).Str("message_id", serverID).Msg("status update failed")
	}
	return nil
}

// reconcile asks the backend to notify the counterpart role when nobody of
// that role is present in this room. Presence entries without a room count
// as present here.
func (c *ChatSession) reconcile(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	presence := c.presence
	role := c.user.Role
	c.mu.Unlock()

	counterpart := domain.CounterpartRole(role)
	if counterpartIn(presence, c.roomID, counterpart) {
		observability.Polls.WithLabelValues("reconcile", "present").Inc()
		return
	}
	if err := c.deps.Backend.UpdateNotification(ctx, c.roomID, counterpart); err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.Polls.WithLabelValues("reconcile", "error").Inc()
		c.log.Warn().Err(err).Str("user_type", counterpart).Msg("notification update failed")
		return
	}
	observability.Polls.WithLabelValues("reconcile", "notified").Inc()
}

func counterpartIn(users []domain.ConnectedUser, roomID, role string) bool {
	for _, u := range users {
		if u.RoomID != "" && u.RoomID != roomID {
			continue
		}
		if domain.NormalizeRole(u.Role) == role {
			return true
		}
	}
	return false
}

// Upload attaches a document to the room's order.
func (c *ChatSession) Upload(ctx context.Context, filename string, r io.Reader) ([]domain.Document, error) {
	if c.deps.Attachments == nil {
		return nil, ErrNoRoom
	}
	return c.deps.Attachments.Upload(ctx, c.orderID, filename, r)
}

// Documents lists the documents of the room's order.
func (c *ChatSession) Documents(ctx context.Context) ([]domain.Document, error) {
	if c.deps.Attachments == nil {
		return []domain.Document{}, ErrNoRoom
	}
	return c.deps.Attachments.List(ctx, c.orderID)
}

// Search ranks the room's visible messages against q.
func (c *ChatSession) Search(q string, k int) []search.Result {
	c.mu.Lock()
	docs := make([]search.Document, 0, len(c.msgs.items))
	for _, m := range c.msgs.items {
		if m.Erased() {
			continue
		}
		docs = append(docs, search.Document{ID: m.LocalID, Text: m.Body})
	}
	c.mu.Unlock()
	return search.New(docs, search.WithStopwords(search.SpanishStopwords)).TopK(q, k)
}

// Snapshot returns a copy of the room for rendering.
func (c *ChatSession) Snapshot() RoomView {
	c.mu.Lock()
	v := RoomView{
		RoomID:             c.roomID,
		OrderID:            c.orderID,
		State:              c.state,
		Messages:           c.msgs.snapshot(),
		Presence:           append([]domain.ConnectedUser(nil), c.presence...),
		CounterpartPresent: counterpartIn(c.presence, c.roomID, domain.CounterpartRole(c.user.Role)),
		FollowTail:         c.follow,
		ScrollTo:           c.scrollTo,
		RealtimeError:      c.rtErr,
	}
	c.mu.Unlock()
	if c.deps.Notifier != nil {
		v.Badge = c.deps.Notifier.Badge()
	}
	return v
}

// Close leaves the room and stops its goroutine. Only the first call has an
// effect; responses arriving afterwards are discarded.
func (c *ChatSession) Close(ctx context.Context) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		if prev == StateUninitialized {
			c.state = StateClosed
			c.mu.Unlock()
			return
		}
		c.state = StateLeaving
		userID := c.user.ID.String()
		cancel := c.cancel
		c.mu.Unlock()

		if err := c.deps.Realtime.LeaveRoom(ctx, c.roomID, userID); err != nil {
			c.log.Warn().Err(err).Msg("leave room failed")
		}

		cancel()
		<-c.done
		c.subs.close()

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		observability.OpenRooms.Dec()
		c.log.Debug().Msg("room closed")
	})
}
