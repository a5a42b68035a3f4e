package rbac

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/kv"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func setupEngineTest(t *testing.T, rootUsers ...string) (*Engine, *Store) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kvStore := kv.NewRedisStoreFromClient(client)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := NewStore(kvStore, logger)

	matcher, err := NewMatcher(16)
	require.NoError(t, err)

	t.Cleanup(func() {
		kvStore.Close()
		mr.Close()
	})

	return NewEngine(store, matcher, rootUsers, logger), store
}

func grantRole(t *testing.T, store *Store, role *Role, sub, bindingID string) {
	t.Helper()
	_, err := store.CreateOrUpdateRole(context.Background(), role)
	require.NoError(t, err)
	_, err = store.CreateOrUpdateBinding(context.Background(), &Binding{
		ID:            bindingID,
		PrincipalID:   sub,
		PrincipalType: PrincipalTypeUser,
		RoleID:        role.ID,
	})
	require.NoError(t, err)
}

func TestAuthorize_NoBindingsIsDenied(t *testing.T) {
	engine, _ := setupEngineTest(t)

	decision, err := engine.Authorize(context.Background(), "nobody", "/api/v1/roles", "GET")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "Access denied", decision.Message)
	assert.False(t, decision.Timestamp.IsZero())
}

func TestAuthorize_RootUserAlwaysAllowed(t *testing.T) {
	engine, _ := setupEngineTest(t, "root@example.com")

	decision, err := engine.Authorize(context.Background(), "root@example.com", "/anything", "DELETE")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "Access granted", decision.Message)
}

func TestAuthorize_PolicyGrantsAccess(t *testing.T) {
	engine, store := setupEngineTest(t)

	grantRole(t, store, &Role{
		ID: "admins",
		Policies: []Policy{
			{Resource: "/api/*", Actions: []string{"GET", "POST"}},
		},
	}, "jack", "b1")

	decision, err := engine.Authorize(context.Background(), "jack", "/api/v1/roles", "GET")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAuthorize_ActionMismatchIsDenied(t *testing.T) {
	engine, store := setupEngineTest(t)

	grantRole(t, store, &Role{
		ID: "readers",
		Policies: []Policy{
			{Resource: "/api/*", Actions: []string{"GET"}},
		},
	}, "jack", "b1")

	decision, err := engine.Authorize(context.Background(), "jack", "/api/v1/roles", "DELETE")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestAuthorize_ResourceMismatchIsDenied(t *testing.T) {
	engine, store := setupEngineTest(t)

	grantRole(t, store, &Role{
		ID: "scoped",
		Policies: []Policy{
			{Resource: "/api/v1/roles", Actions: []string{"*"}},
		},
	}, "jack", "b1")

	decision, err := engine.Authorize(context.Background(), "jack", "/api/v1/role-bindings", "GET")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestAuthorize_WildcardActionGrantsAnyVerb(t *testing.T) {
	engine, store := setupEngineTest(t)

	grantRole(t, store, &Role{
		ID: "admins",
		Policies: []Policy{
			{Resource: "*", Actions: []string{"*"}},
		},
	}, "jack", "b1")

	for _, verb := range []string{"GET", "POST", "PUT", "DELETE"} {
		decision, err := engine.Authorize(context.Background(), "jack", "/any/path/at/all", verb)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, verb)
	}
}

func TestAuthorize_SecondRoleGrants(t *testing.T) {
	engine, store := setupEngineTest(t)

	grantRole(t, store, &Role{
		ID: "narrow",
		Policies: []Policy{
			{Resource: "/other", Actions: []string{"GET"}},
		},
	}, "jack", "b1")
	grantRole(t, store, &Role{
		ID: "broad",
		Policies: []Policy{
			{Resource: "/api/*", Actions: []string{"GET"}},
		},
	}, "jack", "b2")

	decision, err := engine.Authorize(context.Background(), "jack", "/api/v1/roles", "GET")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAuthorize_DanglingBindingIsSkipped(t *testing.T) {
	engine, store := setupEngineTest(t)
	ctx := context.Background()

	grantRole(t, store, &Role{
		ID: "doomed",
		Policies: []Policy{
			{Resource: "*", Actions: []string{"*"}},
		},
	}, "jack", "b1")

	require.NoError(t, store.DeleteRole(ctx, "doomed"))

	// binding still exists but its role is gone; denied, not an error
	decision, err := engine.Authorize(ctx, "jack", "/api/v1/roles", "GET")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}
