package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func runStoreSuite(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("MissingKey", func(t *testing.T) {
		_, err := s.Get(ctx, "token")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SetBoth", func(t *testing.T) {
		require.NoError(t, s.Apply(ctx, Set("token", "a1"), Set("refreshToken", "r1")))

		v, err := s.Get(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "a1", v)

		v, err = s.Get(ctx, "refreshToken")
		require.NoError(t, err)
		assert.Equal(t, "r1", v)
	})

	t.Run("OverwriteAndDeleteInOneBatch", func(t *testing.T) {
		require.NoError(t, s.Apply(ctx, Set("token", "a2"), Del("refreshToken")))

		v, err := s.Get(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "a2", v)

		_, err = s.Get(ctx, "refreshToken")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		require.NoError(t, s.Apply(ctx, Del("token"), Del("refreshToken")))
		require.NoError(t, s.Apply(ctx, Del("token"), Del("refreshToken")))

		_, err := s.Get(ctx, "token")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		require.NoError(t, s.Apply(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	runStoreSuite(t, s)
	assert.Equal(t, 0, s.Len())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	runStoreSuite(t, NewRedisStore(rdb, "test:"))
}

func TestRedisStoreUsesPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStore(rdb, "")
	require.NoError(t, s.Apply(context.Background(), Set("token", "abc")))

	got, err := mr.Get("gs:token")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	s := NewRedisStore(rdb, "x:")
	_, err := s.Get(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.Apply(context.Background(), Set("token", "v")), ErrUnavailable)
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := NewBoltStoreFromFile(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runStoreSuite(t, s)
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	s, err := NewBoltStoreFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, Set("token", "persisted")))
	require.NoError(t, s.Close())

	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	reopened, err := NewBoltStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	v, err := reopened.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "persisted", v)
}
