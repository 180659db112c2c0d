package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-pedidos-client/internal/domain"
	"github.com/tbourn/go-pedidos-client/internal/transport"
)

// SessionProvider yields the current session. Views receive it explicitly
// instead of reading shared storage.
type SessionProvider interface {
	Get(ctx context.Context) (domain.Session, error)
}

// SessionStore persists the session.
type SessionStore interface {
	SessionProvider
	Set(ctx context.Context, s domain.Session) error
	Clear(ctx context.Context) error
}

// LoginBackend is the backend call AuthService needs.
type LoginBackend interface {
	Login(ctx context.Context, username, password string) (transport.LoginResult, error)
}

// AuthService logs users in and out.
type AuthService struct {
	Backend   LoginBackend
	Store     SessionStore
	Presenter Presenter

	log zerolog.Logger
}

// NewAuthService wires an AuthService.
func NewAuthService(b LoginBackend, store SessionStore, p Presenter) *AuthService {
	return &AuthService{
		Backend:   b,
		Store:     store,
		Presenter: p,
		log:       log.With().Str("component", "auth").Logger(),
	}
}

// Login exchanges credentials for a session and persists it. Blank
// credentials are a silent no-op returning ErrEmptyInput.
func (s *AuthService) Login(ctx context.Context, username, password string) (domain.Session, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Login",
		trace.WithAttributes(attribute.String("user.name", username)))
	defer span.End()

	username, password = strings.TrimSpace(username), strings.TrimSpace(password)
	if username == "" || password == "" {
		return domain.Session{}, ErrEmptyInput
	}

	res, err := s.Backend.Login(ctx, username, password)
	if err != nil {
		s.log.Warn().Err(err).Str("username", username).Msg("login failed")
		s.Presenter.Dialog(NoticeError, "Error", transport.MessageOf(err, "Credenciales incorrectas"))
		return domain.Session{}, err
	}
	if !res.Success || strings.TrimSpace(res.Token) == "" {
		msg := res.Error
		if msg == "" {
			msg = res.Message
		}
		if msg == "" {
			msg = "Credenciales incorrectas"
		}
		s.Presenter.Dialog(NoticeError, "Error", msg)
		return domain.Session{}, ErrLoginRejected
	}

	res.User.Role = domain.NormalizeRole(res.User.Role)
	if res.User.Username == "" {
		res.User.Username = username
	}
	sess := domain.Session{Token: res.Token, User: res.User}
	if err := s.Store.Set(ctx, sess); err != nil {
		return domain.Session{}, err
	}
	s.log.Info().Str("user_id", sess.User.ID.String()).Str("role", sess.User.Role).Msg("logged in")
	s.Presenter.Dialog(NoticeSuccess, "Bienvenido", sess.User.DisplayGivenName())
	return sess, nil
}

// Logout clears the token and the profile together.
func (s *AuthService) Logout(ctx context.Context) error {
	return s.Store.Clear(ctx)
}

// Current returns the session, or ErrNotLoggedIn when there is no token.
func (s *AuthService) Current(ctx context.Context) (domain.Session, error) {
	return currentSession(ctx, s.Store)
}

func currentSession(ctx context.Context, p SessionProvider) (domain.Session, error) {
	sess, err := p.Get(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if !sess.LoggedIn() {
		return domain.Session{}, ErrNotLoggedIn
	}
	return sess, nil
}

// isNoToken reports whether err means the feature ran without a session.
func isNoToken(err error) bool {
	return errors.Is(err, ErrNotLoggedIn) || errors.Is(err, transport.ErrNoToken)
}
