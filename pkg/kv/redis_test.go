package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client)

	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})

	return store, mr
}

func TestRedisStore_GetSet(t *testing.T) {
	store, _ := setupStoreTest(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "greeting", "hello", 0))

	val, err := store.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", val)
}

func TestRedisStore_SetWithTTL(t *testing.T) {
	store, mr := setupStoreTest(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ephemeral", "soon gone", time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Exists(t *testing.T) {
	store, _ := setupStoreTest(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "yep", "1", 0))

	ok, err = store.Exists(ctx, "yep")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_Del(t *testing.T) {
	store, _ := setupStoreTest(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", 0))
	require.NoError(t, store.Set(ctx, "b", "2", 0))
	require.NoError(t, store.Del(ctx, "a", "b"))

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ApplyBatch(t *testing.T) {
	store, _ := setupStoreTest(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "old", "stale", 0))

	batch := NewBatch().
		Set("record", `{"id":"r1"}`, 0).
		SAdd("index", "r1", "r2").
		SRem("index", "r2").
		Del("old")

	require.NoError(t, store.Apply(ctx, batch))

	val, err := store.Get(ctx, "record")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"r1"}`, val)

	members, err := store.SMembers(ctx, "index")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, members)

	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ApplyEmptyBatchIsNoop(t *testing.T) {
	store, _ := setupStoreTest(t)

	assert.NoError(t, store.Apply(context.Background(), NewBatch()))
	assert.NoError(t, store.Apply(context.Background(), nil))
}
