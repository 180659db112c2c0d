package services

import (
	"context"
	"strings"
	"sync"

	"github.com/tbourn/go-pedidos-client/internal/domain"
)

// OrderLookup resolves the order a room belongs to.
type OrderLookup interface {
	FindByRoom(roomID string) (domain.Order, bool)
}

// Rooms tracks the open chat sessions, one per room.
type Rooms struct {
	deps   ChatDeps
	orders OrderLookup

	mu    sync.Mutex
	rooms map[string]*ChatSession
}

// NewRooms returns an empty room registry. orders may be nil.
func NewRooms(deps ChatDeps, orders OrderLookup) *Rooms {
	return &Rooms{deps: deps, orders: orders, rooms: map[string]*ChatSession{}}
}

// Open returns the session for roomID, opening it first if needed. When
// orderID is empty it is looked up from the last fetched orders. A session
// that fails to open is not kept.
func (r *Rooms) Open(ctx context.Context, roomID, orderID string) (*ChatSession, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrNoRoom
	}

	r.mu.Lock()
	cs, ok := r.rooms[roomID]
	if !ok {
		if orderID == "" && r.orders != nil {
			if o, found := r.orders.FindByRoom(roomID); found {
				orderID = o.ID.String()
			}
		}
		cs = NewChatSession(roomID, orderID, r.deps)
		r.rooms[roomID] = cs
	}
	r.mu.Unlock()

	if err := cs.Open(ctx); err != nil {
		r.mu.Lock()
		if r.rooms[roomID] == cs {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
		cs.Close(ctx)
		return nil, err
	}
	return cs, nil
}

// Get returns an open session.
func (r *Rooms) Get(roomID string) (*ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotOpen
	}
	return cs, nil
}

// Close leaves and forgets roomID.
func (r *Rooms) Close(ctx context.Context, roomID string) error {
	r.mu.Lock()
	cs, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()
	if !ok {
		return ErrRoomNotOpen
	}
	cs.Close(ctx)
	return nil
}

// CloseAll leaves every open room, for logout and shutdown.
func (r *Rooms) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := r.rooms
	r.rooms = map[string]*ChatSession{}
	r.mu.Unlock()
	for _, cs := range all {
		cs.Close(ctx)
	}
}

// IDs lists the open room ids.
func (r *Rooms) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}
