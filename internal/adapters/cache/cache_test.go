package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/referral-platform/internal/domain"
)

func TestRedisUsageCounter(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()
	client, err := Connect(ctx, srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	counter := NewRedisUsageCounter(client)
	n, err := counter.Get(ctx, "app-1", "202603")
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 1; i <= 3; i++ {
		n, err = counter.Increment(ctx, "app-1", "202603")
		require.NoError(t, err)
		assert.EqualValues(t, i, n)
	}
	n, err = counter.Get(ctx, "app-1", "202603")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	other, err := counter.Increment(ctx, "app-1", "202604")
	require.NoError(t, err)
	assert.EqualValues(t, 1, other)

	assert.Equal(t, usageTTL, srv.TTL("usage:app-1:202603"))
	srv.FastForward(usageTTL + time.Second)
	assert.False(t, srv.Exists("usage:app-1:202603"))
}

func TestConnectAcceptsURL(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+srv.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	srv.Close()
	_, err = Connect(context.Background(), srv.Addr())
	assert.Error(t, err)
}

func TestMemoryUsageCounter(t *testing.T) {
	counter := NewMemoryUsageCounter()
	ctx := context.Background()
	n, _ := counter.Increment(ctx, "a", "202603")
	assert.EqualValues(t, 1, n)
	n, _ = counter.Increment(ctx, "a", "202603")
	assert.EqualValues(t, 2, n)
	n, _ = counter.Get(ctx, "b", "202603")
	assert.Zero(t, n)
}

func TestAPIKeyCacheExpires(t *testing.T) {
	c := NewAPIKeyCache(2, 50*time.Millisecond)
	c.Add("h1", domain.App{AppID: "a1"})
	got, ok := c.Get("h1")
	require.True(t, ok)
	assert.Equal(t, "a1", got.AppID)

	c.Remove("h1")
	_, ok = c.Get("h1")
	assert.False(t, ok)

	c.Add("h2", domain.App{AppID: "a2"})
	assert.Eventually(t, func() bool {
		_, ok := c.Get("h2")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
