package authn

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/apierror"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// DefaultPostLoginRedirect is where the browser lands after login when no
// redirect target was recorded.
const DefaultPostLoginRedirect = "/home"

// Handlers implements the browser login, logout, and OAuth2 callback
// endpoints.
type Handlers struct {
	sessions *session.Manager
	idp      IdP
	logger   *observability.Logger
}

// NewHandlers creates the authentication endpoints.
func NewHandlers(sessions *session.Manager, idp IdP, logger *observability.Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		idp:      idp,
		logger:   logger,
	}
}

// RegisterRoutes registers the authentication routes on the given router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/login", h.Login).Methods("GET")
	router.HandleFunc("/logout", h.Logout).Methods("GET")
	router.HandleFunc("/callback", h.Callback).Methods("GET")
}

// Login starts the authorization-code flow: a fresh state nonce and the
// post-login target are stored in the session, then the browser is sent to
// the IdP.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("originalRequestUri")
	if target == "" {
		target = r.Header.Get("X-Auth-Request-Redirect")
	}
	if err := h.BeginLogin(w, r, target); err != nil {
		h.writeError(w, r, err)
	}
}

// BeginLogin generates the state nonce, records it with the redirect target
// in the session, and redirects the browser to the IdP authorize URL. It is
// shared with the request gate, which starts a login when a browser call
// arrives without credentials.
func (h *Handlers) BeginLogin(w http.ResponseWriter, r *http.Request, redirectTarget string) error {
	sess, err := h.sessions.LoadOrCreate(r.Context(), w, r)
	if err != nil {
		return err
	}

	state, err := secureRandomString(32)
	if err != nil {
		return apierror.Wrap(err, apierror.CodeInternal, "failed to generate state nonce")
	}

	if redirectTarget == "" {
		redirectTarget = sess.RedirectURI
	}
	if redirectTarget == "" {
		redirectTarget = DefaultPostLoginRedirect
	}

	sess.State = state
	sess.RedirectURI = redirectTarget
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		return err
	}

	http.Redirect(w, r, h.idp.AuthCodeURL(state), http.StatusFound)
	return nil
}

// Callback completes the authorization-code flow. The returned state must
// match the session nonce exactly; the nonce is single-use and consumed here.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := h.sessions.Load(ctx, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sess == nil || sess.State == "" {
		h.writeError(w, r, apierror.New(apierror.CodeUnauthenticated, "no login in progress"))
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" || state != sess.State {
		// a state mismatch is a poisoned session; throw it away
		if err := h.sessions.Invalidate(ctx, w, sess); err != nil {
			h.logger.FromContext(ctx).WithError(err).Error("failed to invalidate session after state mismatch")
		}
		h.writeError(w, r, apierror.New(apierror.CodeUnauthenticated, "state parameter mismatch"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.writeError(w, r, apierror.New(apierror.CodeUnauthenticated, "missing authorization code"))
		return
	}

	creds, err := h.idp.Exchange(ctx, code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if creds.Error != "" {
		h.writeError(w, r, apierror.Newf(apierror.CodeUnauthenticated,
			"identity provider rejected the login: %s", creds.Error))
		return
	}

	target := sess.RedirectURI
	if target == "" {
		target = DefaultPostLoginRedirect
	}

	sess.State = ""
	sess.RedirectURI = ""
	if err := sess.SetCredentials(creds); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.sessions.Save(ctx, sess); err != nil {
		h.writeError(w, r, err)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// Logout invalidates the local session and sends the browser to the IdP
// logout endpoint.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := h.sessions.Load(ctx, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.sessions.Invalidate(ctx, w, sess); err != nil {
		h.writeError(w, r, err)
		return
	}

	http.Redirect(w, r, h.idp.LogoutURL(), http.StatusFound)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := httputil.WriteError(w, err)
	logger := h.logger.FromContext(r.Context()).WithError(err)
	if correlationID != "" {
		logger = logger.WithField("correlation_id", correlationID)
	}
	if apierror.CodeOf(err) == apierror.CodeInternal {
		logger.Error("authentication request failed")
	} else {
		logger.Debug("authentication request rejected")
	}
}

// secureRandomString returns a URL-safe random string from n bytes of
// entropy.
func secureRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "="), nil
}
