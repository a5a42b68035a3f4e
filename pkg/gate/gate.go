package gate

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/apierror"
	"github.com/platinummonkey/gatehouse/pkg/authn"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

const bearerPrefix = "Bearer "

// RequestClass distinguishes programmatic API calls from browser traffic.
// API calls carry a bearer token and get JSON errors; browser calls use the
// session and get redirected to login when unauthenticated.
type RequestClass int

const (
	APICall RequestClass = iota
	BrowserCall
)

func (c RequestClass) String() string {
	if c == APICall {
		return "api"
	}
	return "browser"
}

// Outcome is the gate's final disposition of a request.
type Outcome int

const (
	OutcomeAllowed Outcome = iota
	OutcomeDenied
	OutcomeUnauthenticated
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDenied:
		return "denied"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	default:
		return "error"
	}
}

// Authorizer decides whether a subject may perform an action on a resource.
type Authorizer interface {
	Authorize(ctx context.Context, sub, resource, action string) (rbac.Decision, error)
}

// LoginStarter begins the browser login flow for an unauthenticated request.
type LoginStarter interface {
	BeginLogin(w http.ResponseWriter, r *http.Request, redirectTarget string) error
}

// Gate authenticates and authorizes every request before it reaches the
// wrapped handler. Requests on the allowlist pass straight through.
type Gate struct {
	verifier   authn.Verifier
	authorizer Authorizer
	sessions   *session.Manager
	login      LoginStarter
	prefix     string
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// New creates a request gate. prefix is the mount point of the management
// API, under which the login, logout, callback, and forward-auth endpoints
// live.
func New(verifier authn.Verifier, authorizer Authorizer, sessions *session.Manager,
	login LoginStarter, prefix string, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{
		verifier:   verifier,
		authorizer: authorizer,
		sessions:   sessions,
		login:      login,
		prefix:     strings.TrimSuffix(prefix, "/"),
		logger:     logger,
		metrics:    metrics,
	}
}

// allowlisted reports whether the request may bypass authentication: the
// home page and the login round-trip endpoints.
func (g *Gate) allowlisted(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	switch r.URL.Path {
	case "/", g.prefix + "/login", g.prefix + "/logout", g.prefix + "/callback":
		return true
	}
	return false
}

// Classify determines how the request authenticates: a bearer token marks an
// API call, anything else is a browser call.
func Classify(r *http.Request) RequestClass {
	if strings.HasPrefix(r.Header.Get("Authorization"), bearerPrefix) {
		return APICall
	}
	return BrowserCall
}

// Middleware wraps next with authentication and authorization.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.allowlisted(r) {
			next.ServeHTTP(w, r)
			return
		}

		class := Classify(r)

		var sub string
		var outcome Outcome
		switch class {
		case APICall:
			sub, outcome = g.authenticateAPI(w, r)
		default:
			sub, outcome = g.authenticateBrowser(w, r)
		}
		if outcome != OutcomeAllowed {
			g.record(class, outcome)
			return
		}

		ctx := contextkeys.WithSubject(r.Context(), sub)
		r = r.WithContext(ctx)

		// the forward-auth endpoint runs its own policy check
		if r.URL.Path == g.prefix+"/_authorize" {
			g.record(class, OutcomeAllowed)
			next.ServeHTTP(w, r)
			return
		}

		decision, err := g.authorizer.Authorize(ctx, sub, r.URL.Path, r.Method)
		if err != nil {
			correlationID := httputil.WriteError(w, apierror.Wrap(err, apierror.CodeInternal,
				"authorization check failed"))
			g.logger.FromContext(ctx).WithError(err).
				WithField("correlation_id", correlationID).
				Error("authorization check failed")
			g.record(class, OutcomeError)
			return
		}
		if !decision.Allowed {
			g.deny(w, r, class, decision.Message)
			g.record(class, OutcomeDenied)
			return
		}

		g.record(class, OutcomeAllowed)
		next.ServeHTTP(w, r)
	})
}

// authenticateAPI verifies the bearer token and returns the subject.
func (g *Gate) authenticateAPI(w http.ResponseWriter, r *http.Request) (string, Outcome) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), bearerPrefix)

	principal, err := g.verifier.DecodeAndVerify(r.Context(), token)
	if err != nil {
		g.logger.FromContext(r.Context()).WithError(err).Debug("bearer token rejected")
		httputil.WriteError(w, apierror.New(apierror.CodeUnauthenticated,
			"Bearer token is not valid or is expired"))
		return "", OutcomeUnauthenticated
	}
	return principal.Subject, OutcomeAllowed
}

// authenticateBrowser verifies the session-held credentials, starting a
// fresh login round-trip when they are absent or no longer valid.
func (g *Gate) authenticateBrowser(w http.ResponseWriter, r *http.Request) (string, Outcome) {
	ctx := r.Context()

	sess, err := g.sessions.Load(ctx, r)
	if err != nil {
		g.internalError(w, ctx, err, "failed to load session")
		return "", OutcomeError
	}

	if sess != nil {
		creds, err := sess.GetCredentials()
		if err != nil {
			g.internalError(w, ctx, err, "failed to decode session credentials")
			return "", OutcomeError
		}
		if creds != nil && creds.AccessToken != "" {
			principal, err := g.verifier.DecodeAndVerify(ctx, creds.AccessToken)
			if err == nil {
				return principal.Subject, OutcomeAllowed
			}
			g.logger.FromContext(ctx).WithError(err).Debug("session credentials no longer valid")
		}
	}

	if err := g.login.BeginLogin(w, r, r.URL.RequestURI()); err != nil {
		g.internalError(w, ctx, err, "failed to start login")
		return "", OutcomeError
	}
	return "", OutcomeUnauthenticated
}

func (g *Gate) deny(w http.ResponseWriter, r *http.Request, class RequestClass, message string) {
	if class == APICall {
		httputil.WriteError(w, apierror.New(apierror.CodeForbidden, message))
		return
	}
	http.Error(w, message, http.StatusForbidden)
}

func (g *Gate) internalError(w http.ResponseWriter, ctx context.Context, err error, message string) {
	correlationID := httputil.WriteError(w, apierror.Wrap(err, apierror.CodeInternal, message))
	g.logger.FromContext(ctx).WithError(err).
		WithField("correlation_id", correlationID).
		Error(message)
}

func (g *Gate) record(class RequestClass, outcome Outcome) {
	if g.metrics == nil {
		return
	}
	g.metrics.AuthnAttemptsTotal.WithLabelValues(class.String(), outcome.String()).Inc()
}
