package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pedidos-client/internal/domain"
	"github.com/tbourn/go-pedidos-client/internal/search"
	"github.com/tbourn/go-pedidos-client/internal/services"
	"github.com/tbourn/go-pedidos-client/internal/transport"
)

//
// Service contracts (context-aware)
//

// AuthService logs the user in and out.
type AuthService interface {
	Login(ctx context.Context, username, password string) (domain.Session, error)
	Logout(ctx context.Context) error
	Current(ctx context.Context) (domain.Session, error)
}

// OrderService backs the grouped order view.
type OrderService interface {
	Fetch(ctx context.Context) (services.OrderView, error)
	Current() services.OrderView
	Create(ctx context.Context, description string) error
	Delete(ctx context.Context, id string, confirm services.Confirmer) error
}

// Room is one mounted chat session.
type Room interface {
	Snapshot() services.RoomView
	Send(ctx context.Context, body string) (domain.ChatMessage, error)
	SoftDelete(ctx context.Context, messageID string) error
	SetFollowTail(v bool)
	Upload(ctx context.Context, filename string, r io.Reader) ([]domain.Document, error)
	Documents(ctx context.Context) ([]domain.Document, error)
	Search(q string, k int) []search.Result
}

// RoomRegistry opens, finds and closes rooms.
type RoomRegistry interface {
	Open(ctx context.Context, roomID, orderID string) (Room, error)
	Get(roomID string) (Room, error)
	Close(ctx context.Context, roomID string) error
	CloseAll(ctx context.Context)
}

// BadgeSource exposes the shared unread-notification state.
type BadgeSource interface {
	Badge() domain.Badge
	Snapshot() domain.NotificationSnapshot
	Reset()
}

// NoticeFeed lists and dismisses user-facing notices.
type NoticeFeed interface {
	Active() []services.Notice
	Dismiss(id string) bool
}

// ReceiptStore persists idempotent sends so a retried request replays the
// stored message.
type ReceiptStore interface {
	Get(ctx context.Context, userID, roomID, key string, now time.Time) (*domain.SendReceipt, error)
	Create(ctx context.Context, msg domain.ChatMessage, userID, key string, status int, ttl time.Duration) error
}

//
// Handler wiring
//

// Deps are the services the handlers call. Receipts may be nil, which
// disables send replay.
type Deps struct {
	Auth          AuthService
	Orders        OrderService
	Rooms         RoomRegistry
	Notifications BadgeSource
	Notices       NoticeFeed
	Receipts      ReceiptStore
	// ReceiptTTL is how long a send can be replayed. Defaults to 24h.
	ReceiptTTL time.Duration
}

// Handlers groups the local API endpoints.
type Handlers struct {
	deps Deps
}

// New constructs Handlers bound to deps.
func New(deps Deps) *Handlers {
	if deps.ReceiptTTL <= 0 {
		deps.ReceiptTTL = 24 * time.Hour
	}
	return &Handlers{deps: deps}
}

// userID returns the logged-in user id set by the Session middleware, or
// "anonymous". It must agree with the idempotency middleware's key.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "anonymous"
}

// failErr maps a service or transport error onto a status and code.
func failErr(c *gin.Context, err error) {
	var apiErr *transport.APIError
	switch {
	case errors.Is(err, services.ErrNotLoggedIn), errors.Is(err, transport.ErrNoToken):
		fail(c, http.StatusUnauthorized, ErrCodeNotLoggedIn, "not logged in")
	case errors.Is(err, services.ErrLoginRejected):
		fail(c, http.StatusUnauthorized, ErrCodeLoginRejected, err.Error())
	case errors.Is(err, services.ErrEmptyInput):
		fail(c, http.StatusBadRequest, ErrCodeEmptyInput, err.Error())
	case errors.Is(err, services.ErrNoRoom):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrRoomNotOpen):
		fail(c, http.StatusConflict, ErrCodeRoomNotOpen, err.Error())
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeMessageNotFound, err.Error())
	case errors.Is(err, services.ErrNotConfirmed):
		fail(c, http.StatusPreconditionRequired, ErrCodeNotConfirmed, err.Error())
	case errors.Is(err, transport.ErrUploadTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, err.Error())
	case errors.As(err, &apiErr), errors.Is(err, transport.ErrBadPayload):
		fail(c, http.StatusBadGateway, ErrCodeUpstream, transport.MessageOf(err, "backend request failed"))
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, ErrCodeUpstream, "backend timed out")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
