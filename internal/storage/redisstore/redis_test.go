package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pastebin-lite/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := Open(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Set(ctx, "paste:abc", []byte(`{"content":"hi"}`)))
	got, err := store.Get(ctx, "paste:abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"hi"}`, string(got))

	require.NoError(t, store.Del(ctx, "paste:abc"))
	_, err = store.Get(ctx, "paste:abc")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExpireIsNativeAndSurvivesOverwrite(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	require.NoError(t, store.Set(ctx, "k", []byte("a")))
	require.NoError(t, store.Expire(ctx, "k", 10*time.Second))
	require.NoError(t, store.Set(ctx, "k", []byte("b")))
	assert.Equal(t, 10*time.Second, mr.TTL("k"))

	mr.FastForward(10 * time.Second)
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	require.NoError(t, store.Set(ctx, "k", []byte("v1")))
	require.NoError(t, store.Expire(ctx, "k", time.Minute))

	ok, err := store.CompareAndSwap(ctx, "k", []byte("stale"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	ok, err = store.CompareAndSwap(ctx, "missing", []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPing(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	mr.SetError("ERR backend down")
	assert.Error(t, store.Ping(context.Background()))
	mr.SetError("")
}

func TestOpenRejectsBadURL(t *testing.T) {
	_, err := Open(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestNewWrapsClient(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestConsume(t *testing.T) {
	ctx := context.Background()
	const now = int64(1_700_000_000_000)

	t.Run("missing", func(t *testing.T) {
		store, _ := newTestStore(t)
		res, err := store.Consume(ctx, "paste:none", now)
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeMissing, res.Outcome)
	})

	t.Run("unlimited", func(t *testing.T) {
		store, mr := newTestStore(t)
		rec := `{"content":"hi","created_at":1,"expires_at":null,"remaining_views":null}`
		require.NoError(t, mr.Set("paste:a", rec))

		for i := 0; i < 3; i++ {
			res, err := store.Consume(ctx, "paste:a", now)
			require.NoError(t, err)
			assert.Equal(t, storage.OutcomeServed, res.Outcome)
			assert.JSONEq(t, rec, string(res.Value))
		}
	})

	t.Run("decrements and keeps ttl", func(t *testing.T) {
		store, mr := newTestStore(t)
		require.NoError(t, mr.Set("paste:b", `{"content":"hi","created_at":1,"expires_at":null,"remaining_views":9007199254740991}`))
		mr.SetTTL("paste:b", time.Hour)

		res, err := store.Consume(ctx, "paste:b", now)
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeServed, res.Outcome)
		assert.JSONEq(t, `{"content":"hi","created_at":1,"expires_at":null,"remaining_views":9007199254740990}`, string(res.Value))

		stored, err := mr.Get("paste:b")
		require.NoError(t, err)
		assert.Equal(t, string(res.Value), stored)
		assert.Equal(t, time.Hour, mr.TTL("paste:b"))
	})

	t.Run("content cannot fake limits", func(t *testing.T) {
		store, mr := newTestStore(t)
		rec := `{"content":"\"remaining_views\":1 \"expires_at\":0","created_at":1,"expires_at":null,"remaining_views":null}`
		require.NoError(t, mr.Set("paste:c", rec))

		res, err := store.Consume(ctx, "paste:c", now)
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeServed, res.Outcome)
		assert.Equal(t, rec, string(res.Value))
	})

	t.Run("last view deletes", func(t *testing.T) {
		store, mr := newTestStore(t)
		require.NoError(t, mr.Set("paste:d", `{"content":"hi","created_at":1,"expires_at":null,"remaining_views":1}`))

		res, err := store.Consume(ctx, "paste:d", now)
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeServed, res.Outcome)
		assert.Contains(t, string(res.Value), `"remaining_views":0`)
		assert.False(t, mr.Exists("paste:d"))
	})

	t.Run("exhausted", func(t *testing.T) {
		store, mr := newTestStore(t)
		require.NoError(t, mr.Set("paste:e", `{"content":"hi","created_at":1,"expires_at":null,"remaining_views":0}`))

		res, err := store.Consume(ctx, "paste:e", now)
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeExhausted, res.Outcome)
		assert.False(t, mr.Exists("paste:e"))
	})

	t.Run("expired at the boundary", func(t *testing.T) {
		store, mr := newTestStore(t)
		require.NoError(t, mr.Set("paste:f", `{"content":"hi","created_at":1,"expires_at":1700000000000,"remaining_views":3}`))

		res, err := store.Consume(ctx, "paste:f", now-1)
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeServed, res.Outcome)

		res, err = store.Consume(ctx, "paste:f", now)
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeExpired, res.Outcome)
		assert.False(t, mr.Exists("paste:f"))
	})

	t.Run("backend error", func(t *testing.T) {
		store, mr := newTestStore(t)
		mr.SetError("ERR backend down")
		_, err := store.Consume(ctx, "paste:g", now)
		assert.Error(t, err)
		mr.SetError("")
	})
}
