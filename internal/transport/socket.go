package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-pedidos-client/internal/config"
	"github.com/tbourn/go-pedidos-client/internal/domain"
	"github.com/tbourn/go-pedidos-client/internal/observability"
)

// Realtime event names.
const (
	EventJoinRoom         = "joinRoom"
	EventLeaveRoom        = "leaveRoom"
	EventNewMessage       = "newMessage"
	EventReceiveMessage   = "receive_message"
	EventUpdateUsers      = "updateUsers"
	EventPreviousMessages = "previousMessages"
	EventError            = "errorEvent"
)

const (
	writeWait          = 10 * time.Second
	maxFrameSize       = 1 << 20
	sendQueueSize      = 64
	subscriptionBuffer = 64
)

// Envelope is one frame on the realtime channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Membership is the payload of a joinRoom event.
type Membership struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	GivenName string `json:"nombres"`
	Surname   string `json:"apellidos"`
	Role      string `json:"role"`
}

func (m Membership) key() string { return m.RoomID + "\x00" + m.UserID }

// RemoteError is the payload of an errorEvent.
type RemoteError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// SocketOptions configures a Socket.
type SocketOptions struct {
	URL         string
	Tokens      TokenSource
	Dialer      *websocket.Dialer
	PongWait    time.Duration
	MaxTries    uint
	MaxInterval time.Duration
}

// SocketOptionsFrom builds options from the loaded configuration.
func SocketOptionsFrom(b config.BackendConfig, rt config.RealtimeConfig, tokens TokenSource) SocketOptions {
	return SocketOptions{
		URL:         b.SocketURL,
		Tokens:      tokens,
		PongWait:    rt.PongWait,
		MaxTries:    rt.ReconnectMaxTries,
		MaxInterval: rt.ReconnectMaxInterval,
	}
}

// outbound is one queued frame. A frame without data is a flush marker:
// flushed is closed once every frame queued before it has been written.
type outbound struct {
	data    []byte
	flushed chan struct{}
}

// handler receives the raw payloads of the events it is registered for.
type handler interface {
	deliver(raw json.RawMessage)
	finish(err error)
}

type sink[T any] struct {
	sub    *Subscription[T]
	decode func(json.RawMessage) (T, error)
	log    *zerolog.Logger
}

func (k sink[T]) deliver(raw json.RawMessage) {
	v, err := k.decode(raw)
	if err != nil {
		k.log.Warn().Err(err).Msg("dropping undecodable realtime payload")
		return
	}
	k.sub.Publish(v)
}

func (k sink[T]) finish(err error) { k.sub.Finish(err) }

// Socket is the realtime half of the transport: a websocket that carries
// JSON envelopes, reconnects with exponential backoff, and fans inbound
// events out to subscriptions.
//
// Frames emitted while disconnected are queued and written after the next
// successful connect. Active room memberships are re-joined on reconnect.
type Socket struct {
	opts SocketOptions
	log  zerolog.Logger
	send chan outbound

	mu        sync.Mutex
	members   map[string]Membership
	handlers  map[string]map[uint64]handler
	nextID    uint64
	connected bool
	finished  bool
	err       error
	stopped   chan struct{}
}

// NewSocket returns an unconnected socket. Call Run to connect.
func NewSocket(opts SocketOptions) *Socket {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	return &Socket{
		opts:     opts,
		log:      log.With().Str("component", "socket").Logger(),
		send:     make(chan outbound, sendQueueSize),
		members:  map[string]Membership{},
		handlers: map[string]map[uint64]handler{},
		stopped:  make(chan struct{}),
	}
}

// Connected reports whether a websocket is currently established.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Err returns the terminal error once the socket has given up.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run connects and serves the socket until ctx is cancelled or reconnecting
// fails for good. Every subscription is finished on return, with the
// terminal error when there is one.
func (s *Socket) Run(ctx context.Context) error {
	defer close(s.stopped)

	first := true
	for {
		conn, err := s.connect(ctx, first)
		if err != nil {
			if ctx.Err() != nil {
				s.finish(nil)
				return nil
			}
			s.log.Error().Err(err).Msg("realtime channel gave up reconnecting")
			s.finish(err)
			return err
		}

		var preamble [][]byte
		if !first {
			preamble = s.rejoinFrames()
		}
		first = false

		s.setConnected(true)
		observability.SocketEvents.WithLabelValues("lifecycle", "connect").Inc()
		s.log.Info().Str("url", s.opts.URL).Msg("realtime channel connected")

		err = s.serve(ctx, conn, preamble)

		s.setConnected(false)
		observability.SocketEvents.WithLabelValues("lifecycle", "disconnect").Inc()
		if ctx.Err() != nil {
			s.finish(nil)
			return nil
		}
		s.log.Warn().Err(err).Msg("realtime channel disconnected")
	}
}

func (s *Socket) connect(ctx context.Context, first bool) (*websocket.Conn, error) {
	dial := func() (*websocket.Conn, error) {
		if !first {
			observability.SocketReconnects.Inc()
		}
		hdr := http.Header{}
		if s.opts.Tokens != nil {
			if tok := s.opts.Tokens.Token(ctx); tok != "" {
				hdr.Set("Authorization", "Bearer "+tok)
			}
		}
		conn, resp, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, hdr)
		if err != nil {
			observability.SocketEvents.WithLabelValues("lifecycle", "connect_error").Inc()
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return conn, nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = s.opts.MaxInterval
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Warn().Err(err).Dur("retry_in", next).Msg("realtime connect failed")
		}),
	}
	if s.opts.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(s.opts.MaxTries))
	}
	return backoff.Retry(ctx, dial, opts...)
}

// serve runs the read and write pumps of one connection until either fails
// or ctx is cancelled.
func (s *Socket) serve(ctx context.Context, conn *websocket.Conn, preamble [][]byte) error {
	stop := make(chan struct{})
	wrote := make(chan error, 1)
	go func() { wrote <- s.writePump(conn, stop, preamble) }()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	err := s.readPump(conn)
	close(stop)
	if werr := <-wrote; werr != nil && err == nil {
		err = werr
	}
	_ = conn.Close()
	return err
}

func (s *Socket) readPump(conn *websocket.Conn) error {
	pongWait := s.opts.PongWait
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(bytes.TrimSpace(data), &env); err != nil || env.Event == "" {
			s.log.Debug().Int("bytes", len(data)).Msg("ignoring malformed realtime frame")
			continue
		}
		observability.SocketEvents.WithLabelValues("in", env.Event).Inc()
		s.dispatch(env)
	}
}

func (s *Socket) writePump(conn *websocket.Conn, stop <-chan struct{}, preamble [][]byte) error {
	ticker := time.NewTicker(s.opts.PongWait * 9 / 10)
	defer ticker.Stop()
	// A failed write must also unblock the reader.
	defer conn.Close()

	for _, frame := range preamble {
		if err := writeFrame(conn, websocket.TextMessage, frame); err != nil {
			return err
		}
	}
	for {
		select {
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		case frame := <-s.send:
			if frame.flushed != nil {
				close(frame.flushed)
				continue
			}
			if err := writeFrame(conn, websocket.TextMessage, frame.data); err != nil {
				s.log.Warn().Err(err).Msg("realtime frame lost on write")
				return err
			}
		case <-ticker.C:
			if err := writeFrame(conn, websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, kind int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(kind, data)
}

func (s *Socket) dispatch(env Envelope) {
	s.mu.Lock()
	hs := make([]handler, 0, len(s.handlers[env.Event]))
	for _, h := range s.handlers[env.Event] {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h.deliver(env.Data)
	}
}

func (s *Socket) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// finish ends every subscription with err. New subscriptions made after
// this point are returned already finished.
func (s *Socket) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished, s.err = true, err
	all := map[uint64]handler{}
	for _, byID := range s.handlers {
		for id, h := range byID {
			all[id] = h
		}
	}
	s.handlers = map[string]map[uint64]handler{}
	s.mu.Unlock()

	for _, h := range all {
		h.finish(err)
	}
}

func (s *Socket) rejoinFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, 0, len(s.members))
	for _, m := range s.members {
		if frame, err := encodeFrame(EventJoinRoom, m); err == nil {
			out = append(out, frame)
		}
	}
	return out
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Emit queues one outbound event.
func (s *Socket) Emit(ctx context.Context, event string, data any) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished {
		return ErrSocketClosed
	}
	select {
	case s.send <- outbound{data: frame}:
		observability.SocketEvents.WithLabelValues("out", event).Inc()
		return nil
	case <-s.stopped:
		return ErrSocketClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every frame emitted before the call has been written
// to a connection. Use it before cancelling Run so queued leaves go out.
func (s *Socket) Flush(ctx context.Context) error {
	marker := outbound{flushed: make(chan struct{})}
	select {
	case s.send <- marker:
	case <-s.stopped:
		return ErrSocketClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker.flushed:
		return nil
	case <-s.stopped:
		return ErrSocketClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinRoom emits a join for m and remembers the membership so it is
// re-joined after a reconnect. Repeated joins are always emitted.
func (s *Socket) JoinRoom(ctx context.Context, m Membership) error {
	s.mu.Lock()
	s.members[m.key()] = m
	s.mu.Unlock()
	return s.Emit(ctx, EventJoinRoom, m)
}

// LeaveRoom emits a leave and forgets the membership.
func (s *Socket) LeaveRoom(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	delete(s.members, Membership{RoomID: roomID, UserID: userID}.key())
	s.mu.Unlock()
	return s.Emit(ctx, EventLeaveRoom, map[string]string{"roomId": roomID, "userId": userID})
}

func subscribe[T any](s *Socket, decode func(json.RawMessage) (T, error), events ...string) *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	sub := NewSubscription[T](subscriptionBuffer, func() { s.unregister(id, events) })
	if s.finished {
		sub.Finish(s.err)
		return sub
	}
	h := sink[T]{sub: sub, decode: decode, log: &s.log}
	for _, ev := range events {
		if s.handlers[ev] == nil {
			s.handlers[ev] = map[uint64]handler{}
		}
		s.handlers[ev][id] = h
	}
	return sub
}

func (s *Socket) unregister(id uint64, events []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		delete(s.handlers[ev], id)
	}
}

// Messages subscribes to inbound chat messages of every joined room.
func (s *Socket) Messages() *Subscription[domain.ChatMessage] {
	return subscribe(s, func(raw json.RawMessage) (domain.ChatMessage, error) {
		var w wireMessage
		if err := json.Unmarshal(raw, &w); err != nil {
			return domain.ChatMessage{}, err
		}
		return w.toDomain(""), nil
	}, EventNewMessage, EventReceiveMessage)
}

// Presence subscribes to full connected-user snapshots.
func (s *Socket) Presence() *Subscription[[]domain.ConnectedUser] {
	return subscribe(s, func(raw json.RawMessage) ([]domain.ConnectedUser, error) {
		var ws []wireUser
		if err := json.Unmarshal(raw, &ws); err != nil {
			return nil, err
		}
		out := make([]domain.ConnectedUser, 0, len(ws))
		for _, w := range ws {
			out = append(out, w.toDomain())
		}
		return out, nil
	}, EventUpdateUsers)
}

// History subscribes to previousMessages batches sent after a join.
func (s *Socket) History() *Subscription[[]domain.ChatMessage] {
	return subscribe(s, func(raw json.RawMessage) ([]domain.ChatMessage, error) {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			var wrapped struct {
				Messages []json.RawMessage `json:"messages"`
			}
			if json.Unmarshal(raw, &wrapped) != nil {
				return nil, err
			}
			list = wrapped.Messages
		}
		return decodeMessages(list, ""), nil
	}, EventPreviousMessages)
}

// Errors subscribes to errorEvent notifications from the server.
func (s *Socket) Errors() *Subscription[RemoteError] {
	return subscribe(s, func(raw json.RawMessage) (RemoteError, error) {
		var text string
		if json.Unmarshal(raw, &text) == nil {
			return RemoteError{Message: text}, nil
		}
		var e RemoteError
		if err := json.Unmarshal(raw, &e); err != nil {
			return RemoteError{}, err
		}
		if e.Message == "" {
			return RemoteError{}, errors.New("empty error event")
		}
		return e, nil
	}, EventError)
}
