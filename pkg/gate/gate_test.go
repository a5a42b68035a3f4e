package gate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/apierror"
	"github.com/platinummonkey/gatehouse/pkg/authn"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/kv"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

const testPrefix = "/iam/api/v1"

type fakeVerifier struct {
	tokens map[string]string
}

func (f *fakeVerifier) DecodeAndVerify(ctx context.Context, token string) (*authn.Principal, error) {
	if sub, ok := f.tokens[token]; ok {
		return &authn.Principal{Subject: sub}, nil
	}
	return nil, apierror.New(apierror.CodeUnauthenticated, "Bearer token is not valid or is expired")
}

type authzCall struct {
	sub      string
	resource string
	action   string
}

type fakeAuthorizer struct {
	calls   []authzCall
	allowed bool
	err     error
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, sub, resource, action string) (rbac.Decision, error) {
	f.calls = append(f.calls, authzCall{sub: sub, resource: resource, action: action})
	if f.err != nil {
		return rbac.Decision{}, f.err
	}
	if f.allowed {
		return rbac.AllowDecision(), nil
	}
	return rbac.DenyDecision(), nil
}

type fakeLogin struct {
	started bool
	target  string
}

func (f *fakeLogin) BeginLogin(w http.ResponseWriter, r *http.Request, redirectTarget string) error {
	f.started = true
	f.target = redirectTarget
	http.Redirect(w, r, "https://idp.example.com/authorize", http.StatusFound)
	return nil
}

type gateFixture struct {
	gate       *Gate
	verifier   *fakeVerifier
	authorizer *fakeAuthorizer
	login      *fakeLogin
	sessions   *session.Manager
	handled    *bool
	handledSub *string
	handler    http.Handler
}

func setupGateTest(t *testing.T) *gateFixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kvStore := kv.NewRedisStoreFromClient(client)

	t.Cleanup(func() {
		kvStore.Close()
		mr.Close()
	})

	f := &gateFixture{
		verifier:   &fakeVerifier{tokens: map[string]string{"good-token": "jack@example.com"}},
		authorizer: &fakeAuthorizer{allowed: true},
		login:      &fakeLogin{},
		sessions:   session.NewManager(kvStore, time.Hour),
		handled:    new(bool),
		handledSub: new(string),
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	f.gate = New(f.verifier, f.authorizer, f.sessions, f.login, testPrefix, logger, nil)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*f.handled = true
		*f.handledSub = contextkeys.Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	f.handler = f.gate.Middleware(next)
	return f
}

func TestGate_AllowlistedRequestsPassThrough(t *testing.T) {
	for _, path := range []string{"/", testPrefix + "/login", testPrefix + "/logout", testPrefix + "/callback"} {
		f := setupGateTest(t)

		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.True(t, *f.handled, path)
		assert.Empty(t, f.authorizer.calls, path)
	}
}

func TestGate_AllowlistIsMethodSensitive(t *testing.T) {
	f := setupGateTest(t)

	req := httptest.NewRequest("POST", "/", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.False(t, *f.handled)
}

func TestGate_APICallWithValidToken(t *testing.T) {
	f := setupGateTest(t)

	req := httptest.NewRequest("DELETE", testPrefix+"/roles/admins", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *f.handled)
	assert.Equal(t, "jack@example.com", *f.handledSub)

	require.Len(t, f.authorizer.calls, 1)
	call := f.authorizer.calls[0]
	assert.Equal(t, "jack@example.com", call.sub)
	assert.Equal(t, testPrefix+"/roles/admins", call.resource)
	assert.Equal(t, "DELETE", call.action)
}

func TestGate_APICallWithBadToken(t *testing.T) {
	f := setupGateTest(t)

	req := httptest.NewRequest("GET", testPrefix+"/roles", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *f.handled)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Bearer token is not valid or is expired", body["message"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestGate_APICallDenied(t *testing.T) {
	f := setupGateTest(t)
	f.authorizer.allowed = false

	req := httptest.NewRequest("GET", testPrefix+"/roles", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, *f.handled)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Access denied", body["message"])
}

func TestGate_AuthorizerFailureIsInternal(t *testing.T) {
	f := setupGateTest(t)
	f.authorizer.err = apierror.New(apierror.CodeInternal, "store unavailable")

	req := httptest.NewRequest("GET", testPrefix+"/roles", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, *f.handled)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "An unexpected error has occurred", body["message"])
}

func TestGate_ForwardAuthEndpointSkipsPolicyCheck(t *testing.T) {
	f := setupGateTest(t)

	req := httptest.NewRequest("GET", testPrefix+"/_authorize", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.True(t, *f.handled)
	assert.Equal(t, "jack@example.com", *f.handledSub)
	assert.Empty(t, f.authorizer.calls, "the endpoint authorizes its own headers")
}

func TestGate_BrowserCallWithoutSessionStartsLogin(t *testing.T) {
	f := setupGateTest(t)

	req := httptest.NewRequest("GET", "/dashboard?tab=roles", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.False(t, *f.handled)
	assert.True(t, f.login.started)
	assert.Equal(t, "/dashboard?tab=roles", f.login.target)
}

func TestGate_BrowserCallWithValidCredentials(t *testing.T) {
	f := setupGateTest(t)
	ctx := context.Background()

	sess := &session.Session{ID: "s1"}
	require.NoError(t, sess.SetCredentials(&session.Credentials{AccessToken: "good-token"}))
	require.NoError(t, f.sessions.Save(ctx, sess))

	req := httptest.NewRequest("GET", "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "s1"})
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *f.handled)
	assert.Equal(t, "jack@example.com", *f.handledSub)
	assert.False(t, f.login.started)
}

func TestGate_BrowserCallWithExpiredCredentialsStartsLogin(t *testing.T) {
	f := setupGateTest(t)
	ctx := context.Background()

	sess := &session.Session{ID: "s1"}
	require.NoError(t, sess.SetCredentials(&session.Credentials{AccessToken: "stale-token"}))
	require.NoError(t, f.sessions.Save(ctx, sess))

	req := httptest.NewRequest("GET", "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "s1"})
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.False(t, *f.handled)
	assert.True(t, f.login.started)
}

func TestGate_BrowserCallDeniedIsPlainText(t *testing.T) {
	f := setupGateTest(t)
	f.authorizer.allowed = false
	ctx := context.Background()

	sess := &session.Session{ID: "s1"}
	require.NoError(t, sess.SetCredentials(&session.Credentials{AccessToken: "good-token"}))
	require.NoError(t, f.sessions.Save(ctx, sess))

	req := httptest.NewRequest("GET", "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "s1"})
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, *f.handled)
	assert.NotContains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, w.Body.String(), "Access denied")
}
