package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDocumentCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedisDocumentCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	key := Key("maktab", "inv_1", "pdf")
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []byte("%PDF-1.4"), time.Hour))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("%PDF-1.4"), got)

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire")
}

func TestRedisDocumentCacheSkipsEmpty(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedisDocumentCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Set(context.Background(), "k", nil, time.Minute))
	assert.False(t, mr.Exists("k"))
}

func TestNoopDocumentCache(t *testing.T) {
	var c DocumentCache = NoopDocumentCache{}
	require.NoError(t, c.Set(context.Background(), "k", []byte("x"), time.Minute))
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "maktab:doc:html:inv_9", Key("maktab", "inv_9", "html"))
}
