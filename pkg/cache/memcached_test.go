package cache

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/grafana/gomemcache/memcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

type mockMemcachedClient struct {
	items map[string]*memcache.Item
}

func newMockMemcachedClient() *mockMemcachedClient {
	return &mockMemcachedClient{items: map[string]*memcache.Item{}}
}

func (m *mockMemcachedClient) Get(key string, _ ...memcache.Option) (*memcache.Item, error) {
	item, ok := m.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return item, nil
}

func (m *mockMemcachedClient) GetMulti(_ context.Context, keys []string, _ ...memcache.Option) (map[string]*memcache.Item, error) {
	result := map[string]*memcache.Item{}
	for _, key := range keys {
		if item, ok := m.items[key]; ok {
			result[key] = item
		}
	}
	return result, nil
}

func (m *mockMemcachedClient) Set(item *memcache.Item) error {
	m.items[item.Key] = item
	return nil
}

func (m *mockMemcachedClient) Close() {}

func TestMemcachedStoreFetch(t *testing.T) {
	c := NewMemcached(MemcachedConfig{}, newMockMemcachedClient(), "test", 0, prometheus.NewRegistry(), log.NewNopLogger())
	defer c.Stop()
	ctx := context.Background()

	c.Store(ctx, []string{"a", "b"}, [][]byte{[]byte("1"), []byte("2")})

	found, bufs, missed := c.Fetch(ctx, []string{"a", "b", "c"})
	assert.Equal(t, []string{"a", "b"}, found)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, bufs)
	assert.Equal(t, []string{"c"}, missed)

	buf, ok := c.FetchKey(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), buf)

	_, ok = c.FetchKey(ctx, "zzz")
	assert.False(t, ok)
}
