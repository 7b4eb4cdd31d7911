// Package session owns the access token lifecycle. Every other component
// reaches the backend through a client whose Authenticator is the Manager,
// so an unauthorized response anywhere ends the session here.
package session

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/backend"
	"github.com/faqbot/console/internal/metrics"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/logger"
)

type Manager struct {
	client *backend.Client
	store  TokenStore
	log    *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	session models.Session
	hooks   []func()
}

func NewManager(client *backend.Client, store TokenStore) *Manager {
	m := &Manager{
		client: client,
		store:  store,
		log:    logger.Named("session"),
		now:    time.Now,
	}
	client.SetAuthenticator(m)
	return m
}

// OnLogout registers fn to run after every transition to unauthenticated,
// whether explicit or caused by an unauthorized response.
func (m *Manager) OnLogout(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Token
}

func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Authenticated
}

func (m *Manager) Current() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Restore re-establishes a session from a stored token. It never fails:
// an unreadable, expired or rejected token leaves the manager
// unauthenticated.
func (m *Manager) Restore(ctx context.Context) bool {
	token, err := m.store.Load()
	if err != nil {
		m.log.Warn("Failed to load stored token", zap.Error(err))
		return false
	}
	if token == "" {
		return false
	}

	if m.expired(token) {
		m.log.Info("Stored token has expired")
		m.discard()
		return false
	}

	user, err := m.fetchProfile(ctx, token)
	if err != nil {
		if errors.Is(err, apperr.ErrAuth) {
			m.log.Info("Stored token was rejected", zap.Error(err))
			m.discard()
		} else {
			m.log.Warn("Could not verify stored token", zap.Error(err))
		}
		return false
	}

	m.establish(token, user, "restore")
	return true
}

func (m *Manager) Login(ctx context.Context, email, password string) (models.Session, error) {
	const op = "session.login"
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return models.Session{}, apperr.Validation(op, "email and password are required")
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	err := m.client.Do(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Form:   url.Values{"username": {email}, "password": {password}},
		Public: true,
	}, &resp)
	if err != nil {
		metrics.SessionEvents.WithLabelValues("login_failed").Inc()
		if rejected(err) {
			return models.Session{}, apperr.Auth(op, apperr.Detail(err), err)
		}
		return models.Session{}, err
	}
	if resp.AccessToken == "" {
		return models.Session{}, apperr.Auth(op, "backend returned no access token", nil)
	}

	user, err := m.fetchProfile(ctx, resp.AccessToken)
	if err != nil {
		metrics.SessionEvents.WithLabelValues("login_failed").Inc()
		if rejected(err) {
			return models.Session{}, apperr.Auth(op, "failed to load profile", err)
		}
		return models.Session{}, err
	}

	if err := m.store.Save(resp.AccessToken); err != nil {
		m.log.Warn("Failed to persist token", zap.Error(err))
	}
	return m.establish(resp.AccessToken, user, "login"), nil
}

// Register creates an account and signs in with the same credentials.
func (m *Manager) Register(ctx context.Context, reg models.Registration) (models.Session, error) {
	const op = "session.register"
	reg.Email = strings.TrimSpace(reg.Email)
	reg.FullName = strings.TrimSpace(reg.FullName)
	switch {
	case reg.Email == "":
		return models.Session{}, apperr.Validation(op, "email is required")
	case reg.Password == "":
		return models.Session{}, apperr.Validation(op, "password is required")
	case reg.FullName == "":
		return models.Session{}, apperr.Validation(op, "full name is required")
	}

	err := m.client.Do(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/auth/register",
		JSON:   reg,
		Public: true,
	}, nil)
	if err != nil {
		return models.Session{}, err
	}
	m.log.Info("Account registered", zap.String("email", reg.Email))

	s, err := m.Login(ctx, reg.Email, reg.Password)
	if err != nil {
		return models.Session{}, apperr.Auth(op, "account created but sign-in failed", err)
	}
	return s, nil
}

// Logout clears the session and the stored token. Calling it while signed
// out is a no-op apart from clearing the store again.
func (m *Manager) Logout() {
	m.end("logout", nil, "")
}

// Invalidate ends the session after the backend rejected token. A
// rejection of a token that has since been replaced is ignored.
func (m *Manager) Invalidate(token string, cause error) {
	m.end("invalidated", cause, token)
}

// end clears the session. With a non-empty token it only does so while that
// token is still the current one.
func (m *Manager) end(event string, cause error, token string) {
	m.mu.Lock()
	if token != "" && m.session.Token != token {
		m.mu.Unlock()
		m.log.Debug("Ignoring rejection of a replaced token", zap.String("reason", event))
		return
	}
	was := m.session.Authenticated || m.session.Token != ""
	m.session = models.Session{}
	hooks := append([]func(){}, m.hooks...)
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.log.Warn("Failed to clear stored token", zap.Error(err))
	}
	if !was {
		return
	}

	metrics.SessionEvents.WithLabelValues(event).Inc()
	if cause != nil {
		m.log.Info("Session ended", zap.String("reason", event), zap.Error(cause))
	} else {
		m.log.Info("Session ended", zap.String("reason", event))
	}
	for _, fn := range hooks {
		fn()
	}
}

func (m *Manager) establish(token string, user models.User, event string) models.Session {
	s := models.Session{Token: token, User: user, Authenticated: true}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	metrics.SessionEvents.WithLabelValues(event).Inc()
	m.log.Info("Session established", zap.String("event", event), zap.Int("user_id", user.ID))
	return s
}

func (m *Manager) discard() {
	if err := m.store.Clear(); err != nil {
		m.log.Warn("Failed to clear stored token", zap.Error(err))
	}
}

func (m *Manager) fetchProfile(ctx context.Context, token string) (models.User, error) {
	var user models.User
	err := m.client.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/auth/me",
		Token:  token,
	}, &user)
	return user, err
}

// expired reports whether token is a JWT whose exp claim has passed.
// Opaque tokens are left for the backend to judge.
func (m *Manager) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !m.now().Before(exp.Time)
}

func rejected(err error) bool {
	if errors.Is(err, apperr.ErrAuth) {
		return true
	}
	switch apperr.StatusCode(err) {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
