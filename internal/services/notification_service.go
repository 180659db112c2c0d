package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/tbourn/go-pedidos-client/internal/domain"
	"github.com/tbourn/go-pedidos-client/internal/observability"
)

// NotificationBackend is the subset of the transport the badge poller uses.
type NotificationBackend interface {
	Notifications(ctx context.Context, userID, role string) (domain.NotificationSnapshot, error)
	UnreadMessages(ctx context.Context, userID string) (domain.NotificationSnapshot, error)
}

// NotificationService owns the unread badge. A single timer polls the
// backend and every view reads the same state instead of running its own
// loop.
type NotificationService struct {
	backend  NotificationBackend
	sessions SessionProvider
	interval time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	snap domain.NotificationSnapshot
}

// NewNotificationService wires the poller. interval is the tick period.
func NewNotificationService(b NotificationBackend, sessions SessionProvider, interval time.Duration) *NotificationService {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &NotificationService{
		backend:  b,
		sessions: sessions,
		interval: interval,
		log:      log.With().Str("component", "notifications").Logger(),
	}
}

// Run polls on every tick until ctx is cancelled.
func (s *NotificationService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll performs one notifications tick. Without a session nothing is
// called; a failed call is logged and shows a zero badge.
func (s *NotificationService) Poll(ctx context.Context) domain.NotificationSnapshot {
	ctx, span := otel.Tracer("services/NotificationService").Start(ctx, "Poll")
	defer span.End()

	sess, err := currentSession(ctx, s.sessions)
	if err != nil {
		observability.Polls.WithLabelValues("badge", "skipped").Inc()
		return s.Snapshot()
	}

	snap, err := s.backend.Notifications(ctx, sess.User.ID.String(), sess.User.Role)
	if err != nil {
		observability.Polls.WithLabelValues("badge", "error").Inc()
		s.log.Warn().Err(err).Msg("notification poll failed")
		snap = domain.NotificationSnapshot{}
	} else {
		observability.Polls.WithLabelValues("badge", "ok").Inc()
	}
	if ctx.Err() != nil {
		// Late response after teardown.
		return s.Snapshot()
	}
	s.publish(snap)
	return snap
}

// Refresh re-reads the unread counter outside the timer, for example after
// an inbound message. Pending orders from the last poll are kept.
func (s *NotificationService) Refresh(ctx context.Context) domain.NotificationSnapshot {
	sess, err := currentSession(ctx, s.sessions)
	if err != nil {
		return s.Snapshot()
	}
	snap, err := s.backend.UnreadMessages(ctx, sess.User.ID.String())
	if err != nil {
		s.log.Warn().Err(err).Msg("unread refresh failed")
		snap = domain.NotificationSnapshot{}
	}
	if ctx.Err() != nil {
		return s.Snapshot()
	}

	s.mu.Lock()
	snap.Pending = s.snap.Pending
	s.mu.Unlock()
	s.publish(snap)
	return snap
}

// Reset clears the badge, for example on logout.
func (s *NotificationService) Reset() { s.publish(domain.NotificationSnapshot{}) }

func (s *NotificationService) publish(snap domain.NotificationSnapshot) {
	if snap.UnreadCount < 0 {
		snap.UnreadCount = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	observability.UnreadBadge.Set(float64(snap.UnreadCount))
}

// Snapshot returns the last published state.
func (s *NotificationService) Snapshot() domain.NotificationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Badge returns the rendered badge: hidden exactly when the count is zero.
func (s *NotificationService) Badge() domain.Badge {
	return domain.BadgeOf(s.Snapshot())
}
