package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-pedidos-client/internal/domain"
)

// Fixed storage keys of the persisted session.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// SessionStore keeps the bearer token and the serialized user profile in the
// client_state table. Reads are served from an in-memory copy that is loaded
// lazily and refreshed on every write.
type SessionStore struct {
	db *gorm.DB

	mu     sync.RWMutex
	loaded bool
	cached domain.Session
}

// NewSessionStore returns a store backed by db. The client_state table must
// already be migrated.
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Get returns the current session. A missing token or user yields a zero
// Session and no error. A stored profile that no longer decodes is dropped.
func (s *SessionStore) Get(ctx context.Context) (domain.Session, error) {
	s.mu.RLock()
	if s.loaded {
		sess := s.cached
		s.mu.RUnlock()
		return sess, nil
	}
	s.mu.RUnlock()

	var rows []domain.ClientState
	if err := s.db.WithContext(ctx).
		Where("key IN ?", []string{KeyToken, KeyUser}).
		Find(&rows).Error; err != nil {
		return domain.Session{}, err
	}

	var sess domain.Session
	for _, r := range rows {
		switch r.Key {
		case KeyToken:
			sess.Token = r.Value
		case KeyUser:
			if err := json.Unmarshal([]byte(r.Value), &sess.User); err != nil {
				sess.User = domain.User{}
			}
		}
	}

	s.mu.Lock()
	s.cached, s.loaded = sess, true
	s.mu.Unlock()
	return sess, nil
}

// Token returns the bearer token, or "" when not logged in.
func (s *SessionStore) Token(ctx context.Context) string {
	sess, err := s.Get(ctx)
	if err != nil {
		return ""
	}
	return sess.Token
}

// Set replaces the token and the user profile in a single transaction.
func (s *SessionStore) Set(ctx context.Context, sess domain.Session) error {
	if sess.Token == "" {
		return errors.New("session token must not be empty")
	}
	raw, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	rows := []domain.ClientState{
		{Key: KeyToken, Value: sess.Token},
		{Key: KeyUser, Value: string(raw)},
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cached, s.loaded = sess, true
	s.mu.Unlock()
	return nil
}

// Clear removes the token and the user profile together.
func (s *SessionStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("key IN ?", []string{KeyToken, KeyUser}).Delete(&domain.ClientState{}).Error
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cached, s.loaded = domain.Session{}, true
	s.mu.Unlock()
	return nil
}
