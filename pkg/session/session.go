package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/apierror"
	"github.com/platinummonkey/gatehouse/pkg/kv"
)

// CookieName is the browser session cookie.
const CookieName = "gatehouse_session"

const sessionPrefix = "iam:session:"

// Credentials is the token set returned by the identity provider.
type Credentials struct {
	AccessToken      string `json:"access_token,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	Scope            string `json:"scope,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Session is the server-side browser session record.
type Session struct {
	ID          string `json:"id"`
	State       string `json:"state,omitempty"`
	RedirectURI string `json:"redirectUri,omitempty"`
	Credentials string `json:"credentials,omitempty"`
}

// SetCredentials serializes the credentials into the session.
func (s *Session) SetCredentials(creds *Credentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return apierror.Wrap(err, apierror.CodeInternal, "failed to encode credentials")
	}
	s.Credentials = string(raw)
	return nil
}

// GetCredentials deserializes the stored credentials, or returns nil when
// the session holds none.
func (s *Session) GetCredentials() (*Credentials, error) {
	if s.Credentials == "" {
		return nil, nil
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(s.Credentials), &creds); err != nil {
		return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to decode credentials")
	}
	return &creds, nil
}

// Manager stores browser sessions in the key-value store with a TTL.
type Manager struct {
	kv  kv.Store
	ttl time.Duration
}

// NewManager creates a session manager. Sessions expire after ttl.
func NewManager(store kv.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{kv: store, ttl: ttl}
}

// Load returns the session identified by the request cookie, or nil when no
// cookie is present or the session has expired.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	raw, err := m.kv.Get(ctx, sessionPrefix+cookie.Value)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to load session")
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to decode session record")
	}
	return &sess, nil
}

// LoadOrCreate returns the request's session, creating a fresh one and
// setting its cookie when none exists.
func (m *Manager) LoadOrCreate(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Session, error) {
	sess, err := m.Load(ctx, r)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sess = &Session{ID: uuid.New().String()}
	if err := m.Save(ctx, sess); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

// Save persists the session, refreshing its TTL.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return apierror.Wrap(err, apierror.CodeInternal, "failed to encode session")
	}
	if err := m.kv.Set(ctx, sessionPrefix+sess.ID, string(raw), m.ttl); err != nil {
		return apierror.Wrap(err, apierror.CodeInternal, "failed to store session")
	}
	return nil
}

// Invalidate deletes the session record and expires the cookie.
func (m *Manager) Invalidate(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess != nil {
		if err := m.kv.Del(ctx, sessionPrefix+sess.ID); err != nil {
			return apierror.Wrap(err, apierror.CodeInternal, "failed to delete session")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
