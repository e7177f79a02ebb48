package session

import (
	"context"
	"sync"
	"time"

	"woodland-client/pkg/auth"
	appErr "woodland-client/pkg/errors"
	"woodland-client/pkg/logger"

	"go.uber.org/zap"
)

// TokenIssuer exchanges user credentials for a bearer token pair.
type TokenIssuer interface {
	ObtainToken(ctx context.Context, username, password string) (access, refresh string, err error)
}

// Session holds the signed-in identity and its bearer credential. One
// Session is shared by every component that talks to the game server.
type Session struct {
	mu       sync.RWMutex
	username string
	access   string
	refresh  string

	leeway time.Duration
	now    func() time.Time
	log    *zap.Logger
}

func New() *Session {
	return &Session{
		leeway: 5 * time.Second,
		now:    time.Now,
		log:    logger.Named("session"),
	}
}

// WithClock replaces the time source, for tests.
func (s *Session) WithClock(now func() time.Time) *Session {
	s.now = now
	return s
}

// Credential returns the access token. Opaque tokens are returned as-is; a
// JWT whose exp has passed yields ErrCredentialExpired.
func (s *Session) Credential() (string, error) {
	s.mu.RLock()
	token := s.access
	s.mu.RUnlock()

	if token == "" {
		return "", appErr.ErrMissingCredential
	}
	if claims, err := auth.Inspect(token); err == nil && auth.Expired(claims, s.now(), s.leeway) {
		return "", appErr.ErrCredentialExpired
	}
	return token, nil
}

func (s *Session) SetCredential(access, refresh string) {
	s.mu.Lock()
	s.access = access
	if refresh != "" {
		s.refresh = refresh
	}
	s.mu.Unlock()
}

// ClearCredential drops the tokens but keeps the username so the UI can
// offer a re-login.
func (s *Session) ClearCredential() {
	s.mu.Lock()
	s.access = ""
	s.refresh = ""
	s.mu.Unlock()
	s.log.Info("credential cleared")
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) SignIn(ctx context.Context, issuer TokenIssuer, username, password string) error {
	access, refresh, err := issuer.ObtainToken(ctx, username, password)
	if err != nil {
		s.log.Warn("sign in failed", zap.String("username", username), zap.Error(err))
		return err
	}
	s.mu.Lock()
	s.username = username
	s.access = access
	s.refresh = refresh
	s.mu.Unlock()
	s.log.Info("signed in", zap.String("username", username))
	return nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	s.username = ""
	s.access = ""
	s.refresh = ""
	s.mu.Unlock()
}
