package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-pedidos-client/internal/domain"
	"github.com/tbourn/go-pedidos-client/internal/transport"
)

// OrderBackend is the subset of the transport the order view uses.
type OrderBackend interface {
	FetchOrders(ctx context.Context) (domain.OrdersResponse, error)
	CreateOrder(ctx context.Context, description string) error
	DeleteOrder(ctx context.Context, id string) error
}

// OrderView is the grouped order list as last fetched.
type OrderView struct {
	Companies []domain.Company `json:"companies"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// Empty reports whether the view has no companies.
func (v OrderView) Empty() bool { return len(v.Companies) == 0 }

// OrderService backs the order aggregation view. Every successful write is
// followed by a full refetch; there is no optimistic local insert.
type OrderService struct {
	backend   OrderBackend
	sessions  SessionProvider
	presenter Presenter
	toastFor  time.Duration
	log       zerolog.Logger

	mu   sync.RWMutex
	view OrderView
}

// NewOrderService wires an OrderService. toast is the duration of success toasts.
func NewOrderService(b OrderBackend, sessions SessionProvider, p Presenter, toast time.Duration) *OrderService {
	if toast <= 0 {
		toast = 3 * time.Second
	}
	return &OrderService{
		backend:   b,
		sessions:  sessions,
		presenter: p,
		toastFor:  toast,
		log:       log.With().Str("component", "orders").Logger(),
	}
}

// Current returns the last grouped view.
func (s *OrderService) Current() OrderView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Fetch reloads and regroups the user's orders. Without a session it
// aborts silently with ErrNotLoggedIn. An empty result clears the view and
// raises an informational toast; a failed fetch clears the view and shows
// an error dialog.
func (s *OrderService) Fetch(ctx context.Context) (OrderView, error) {
	ctx, span := otel.Tracer("services/OrderService").Start(ctx, "Fetch")
	defer span.End()

	if _, err := currentSession(ctx, s.sessions); err != nil {
		s.log.Debug().Err(err).Msg("orders not fetched")
		return OrderView{}, err
	}

	res, err := s.backend.FetchOrders(ctx)
	if err != nil {
		s.setView(OrderView{})
		if isNoToken(err) {
			return OrderView{}, ErrNotLoggedIn
		}
		s.log.Error().Err(err).Msg("fetch orders failed")
		s.presenter.Dialog(NoticeError, "Error", transport.MessageOf(err, "No se pudieron cargar los pedidos"))
		return OrderView{}, err
	}

	view := OrderView{Companies: res.Grouped(), FetchedAt: time.Now()}
	span.SetAttributes(attribute.Int("companies", len(view.Companies)))
	s.setView(view)
	if view.Empty() {
		s.presenter.Toast(NoticeInfo, "No hay pedidos disponibles", s.toastFor)
	}
	return view, nil
}

func (s *OrderService) setView(v OrderView) {
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
}

// Create submits a new order. A blank description is a silent no-op.
func (s *OrderService) Create(ctx context.Context, description string) error {
	ctx, span := otel.Tracer("services/OrderService").Start(ctx, "Create")
	defer span.End()

	description = strings.TrimSpace(description)
	if description == "" {
		return ErrEmptyInput
	}
	if _, err := currentSession(ctx, s.sessions); err != nil {
		return err
	}

	if err := s.backend.CreateOrder(ctx, description); err != nil {
		s.log.Error().Err(err).Msg("create order failed")
		s.presenter.Dialog(NoticeError, "Error", transport.MessageOf(err, "No se pudo crear el pedido"))
		return err
	}
	s.presenter.Toast(NoticeSuccess, "Pedido creado", s.toastFor)
	s.refresh(ctx)
	return nil
}

// Delete removes an order after confirm approves it. Without approval no
// call is made and ErrNotConfirmed is returned.
func (s *OrderService) Delete(ctx context.Context, id string, confirm Confirmer) error {
	ctx, span := otel.Tracer("services/OrderService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyInput
	}
	if _, err := currentSession(ctx, s.sessions); err != nil {
		return err
	}
	if confirm == nil || !confirm(ctx, "¿Eliminar el pedido?") {
		return ErrNotConfirmed
	}

	if err := s.backend.DeleteOrder(ctx, id); err != nil {
		s.log.Error().Err(err).Str("order_id", id).Msg("delete order failed")
		s.presenter.Dialog(NoticeError, "Error", transport.MessageOf(err, "No se pudo eliminar el pedido"))
		return err
	}
	s.presenter.Dialog(NoticeSuccess, "Eliminado", "El pedido ha sido eliminado")
	s.refresh(ctx)
	return nil
}

func (s *OrderService) refresh(ctx context.Context) {
	if _, err := s.Fetch(ctx); err != nil && !isNoToken(err) {
		s.log.Warn().Err(err).Msg("refresh after write failed")
	}
}

// FindByRoom returns the order whose chat room is roomID.
func (s *OrderService) FindByRoom(roomID string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.view.Companies {
		for _, r := range c.Requesters {
			for _, o := range r.Orders {
				if o.RoomID.String() == roomID {
					return o, true
				}
			}
		}
	}
	return domain.Order{}, false
}
