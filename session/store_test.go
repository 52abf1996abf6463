package session_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-beacon/session"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(0, 0)

	_, ok, err := store.Get(ctx, "tracked")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "tracked", "1"))

	val, ok, err := store.Get(ctx, "tracked")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", val)
}

func TestMemoryStore_FlagExpires(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(0, 50*time.Millisecond)
	sess := session.New("sid", session.Scoped(store, "sid"))

	require.NoError(t, sess.MarkTracked(ctx))
	tracked, err := sess.Tracked(ctx)
	require.NoError(t, err)
	assert.True(t, tracked)

	assert.Eventually(t, func() bool {
		tracked, err := sess.Tracked(ctx)
		return err == nil && !tracked
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_BoundedSize(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(100, time.Hour)

	for i := range 1000 {
		sid := fmt.Sprintf("sid-%d", i)
		require.NoError(t, session.New(sid, session.Scoped(store, sid)).MarkTracked(ctx))
	}

	assert.Equal(t, 100, store.Len())

	// the most recent sessions survive
	tracked, err := session.New("sid-999", session.Scoped(store, "sid-999")).Tracked(ctx)
	require.NoError(t, err)
	assert.True(t, tracked)

	tracked, err = session.New("sid-0", session.Scoped(store, "sid-0")).Tracked(ctx)
	require.NoError(t, err)
	assert.False(t, tracked)
}

func TestScoped_IsolatesSessions(t *testing.T) {
	ctx := context.Background()
	backing := session.NewMemoryStore(0, 0)

	a := session.New("a", session.Scoped(backing, "a"))
	b := session.New("b", session.Scoped(backing, "b"))

	require.NoError(t, a.MarkTracked(ctx))

	tracked, err := a.Tracked(ctx)
	require.NoError(t, err)
	assert.True(t, tracked)

	tracked, err = b.Tracked(ctx)
	require.NoError(t, err)
	assert.False(t, tracked)

	val, ok, err := backing.Get(ctx, "a:tracked")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, session.TrackedValue, val)
	assert.Equal(t, 1, backing.Len())
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb, err := session.NewRedisClient(context.Background(), session.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func TestRedisStore_FlagExpires(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniredis(t)

	sess := session.New("sid", session.Scoped(session.NewRedisStore(rdb, time.Minute), "sid"))

	tracked, err := sess.Tracked(ctx)
	require.NoError(t, err)
	assert.False(t, tracked)

	require.NoError(t, sess.MarkTracked(ctx))
	assert.True(t, mr.Exists("beacon:session:sid:tracked"))

	tracked, err = sess.Tracked(ctx)
	require.NoError(t, err)
	assert.True(t, tracked)

	mr.FastForward(2 * time.Minute)

	tracked, err = sess.Tracked(ctx)
	require.NoError(t, err)
	assert.False(t, tracked)
}

func TestRedisStore_UnavailableReportsError(t *testing.T) {
	mr, rdb := newMiniredis(t)
	store := session.NewRedisStore(rdb, time.Minute)

	mr.Close()

	_, _, err := store.Get(context.Background(), "tracked")
	require.Error(t, err)
}

func TestNewRedisClient_EmptyAddress(t *testing.T) {
	client, err := session.NewRedisClient(context.Background(), session.RedisConfig{})
	require.ErrorIs(t, err, session.ErrEmptyAddress)
	assert.Nil(t, client)
}
