package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T, ttl time.Duration) (*RedisURLCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisURLCacheFromClient(client, Config{Prefix: "avatar_img", TTL: ttl}), mr
}

func newMemoryCache(t *testing.T, size int) *MemoryURLCache {
	t.Helper()
	c, err := NewMemoryURLCache(Config{Prefix: "avatar_img", Size: size})
	require.NoError(t, err)
	return c
}

func backends(t *testing.T) map[string]URLCache {
	rc, _ := newRedisCache(t, time.Hour)
	return map[string]URLCache{
		"redis":  rc,
		"memory": newMemoryCache(t, 100),
	}
}

func keysFor(avatarKey string) []Key {
	return []Key{
		{AvatarKey: avatarKey, Scheme: "http", Host: "someschool.example.com"},
		{AvatarKey: avatarKey, Scheme: "https", Host: "otherschool.example.com", Fallback: "https://otherschool.example.com/my/fallback.png"},
		{AvatarKey: avatarKey, Scheme: "http", Host: "someschool.example.com", Fallback: "https://test.domain/a:b.png"},
	}
}

func TestURLCacheContract(t *testing.T) {
	ctx := context.Background()

	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			k := Key{AvatarKey: "1-aaaaaaaaaa", Scheme: "http", Host: "a.example.com"}

			_, err := c.Get(ctx, k)
			assert.ErrorIs(t, err, ErrCacheMiss)

			gen, err := c.Generation(ctx, k.AvatarKey)
			require.NoError(t, err)
			assert.Equal(t, int64(0), gen)

			stored, err := c.Set(ctx, k, "http://a.example.com/images/no_pic.gif", gen)
			require.NoError(t, err)
			assert.True(t, stored)

			url, err := c.Get(ctx, k)
			require.NoError(t, err)
			assert.Equal(t, "http://a.example.com/images/no_pic.gif", url)

			other := k
			other.Scheme = "https"
			_, err = c.Get(ctx, other)
			assert.ErrorIs(t, err, ErrCacheMiss, "scheme is part of the key")
		})
	}
}

func TestInvalidateEvictsOnlyTaggedEntries(t *testing.T) {
	ctx := context.Background()

	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, avatarKey := range []string{"1-aaaaaaaaaa", "2-bbbbbbbbbb"} {
				for _, k := range keysFor(avatarKey) {
					stored, err := c.Set(ctx, k, "url-"+k.Scheme, 0)
					require.NoError(t, err)
					require.True(t, stored)
				}
			}

			before, err := c.Keys(ctx, "1-aaaaaaaaaa")
			require.NoError(t, err)
			require.Len(t, before, 3)

			n, err := c.Invalidate(ctx, "1-aaaaaaaaaa")
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			for _, k := range keysFor("1-aaaaaaaaaa") {
				_, err := c.Get(ctx, k)
				assert.ErrorIs(t, err, ErrCacheMiss)
			}
			for _, k := range keysFor("2-bbbbbbbbbb") {
				_, err := c.Get(ctx, k)
				assert.NoError(t, err)
			}

			left, err := c.Keys(ctx, "1-aaaaaaaaaa")
			require.NoError(t, err)
			assert.Empty(t, left)

			untouched, err := c.Keys(ctx, "2-bbbbbbbbbb")
			require.NoError(t, err)
			assert.Len(t, untouched, 3)

			n, err = c.Invalidate(ctx, "1-aaaaaaaaaa")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestSetWithStaleGenerationIsDropped(t *testing.T) {
	ctx := context.Background()

	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			k := keysFor("1-aaaaaaaaaa")[0]

			gen, err := c.Generation(ctx, k.AvatarKey)
			require.NoError(t, err)

			// A mutation lands between the record read and the cache write.
			_, err = c.Invalidate(ctx, k.AvatarKey)
			require.NoError(t, err)

			stored, err := c.Set(ctx, k, "stale", gen)
			require.NoError(t, err)
			assert.False(t, stored)

			_, err = c.Get(ctx, k)
			assert.ErrorIs(t, err, ErrCacheMiss)

			fresh, err := c.Generation(ctx, k.AvatarKey)
			require.NoError(t, err)
			assert.Equal(t, gen+1, fresh)

			stored, err = c.Set(ctx, k, "fresh", fresh)
			require.NoError(t, err)
			assert.True(t, stored)
		})
	}
}

func TestRedisKeysUseHashTags(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Minute)

	k := Key{AvatarKey: "7-cccccccccc", Scheme: "https", Host: "h.example.com", Fallback: "/x.png"}
	_, err := c.Set(ctx, k, "u", 0)
	require.NoError(t, err)

	keys := mr.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{
		"avatar_img:{7-cccccccccc}:https:h.example.com:%2Fx.png",
		"avatar_img_tag:{7-cccccccccc}",
	}, keys)

	assert.Equal(t, time.Minute, mr.TTL("avatar_img:{7-cccccccccc}:https:h.example.com:%2Fx.png"))
	assert.Equal(t, time.Minute, mr.TTL("avatar_img_tag:{7-cccccccccc}"))
}

func TestRedisKeysSkipExpiredMembers(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Minute)

	k := keysFor("1-aaaaaaaaaa")[0]
	_, err := c.Set(ctx, k, "u", 0)
	require.NoError(t, err)

	mr.Del(NewKeyBuilder("avatar_img").Entry(k))

	keys, err := c.Keys(ctx, k.AvatarKey)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	c := NewRedisURLCacheFromClient(client, Config{})

	_, err := c.Get(ctx, keysFor("1-aaaaaaaaaa")[0])
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	_, err = c.Set(ctx, keysFor("1-aaaaaaaaaa")[0], "u", 0)
	assert.Error(t, err)
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryURLCache(Config{TTL: time.Minute})
	require.NoError(t, err)

	now := time.Now()
	c.now = func() time.Time { return now }

	k := keysFor("1-aaaaaaaaaa")[0]
	_, err = c.Set(ctx, k, "u", 0)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, k)
	assert.ErrorIs(t, err, ErrCacheMiss)

	keys, err := c.Keys(ctx, k.AvatarKey)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Zero(t, c.size())
}

func TestMemoryCacheEvictionPrunesTags(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, 2)

	a := keysFor("1-aaaaaaaaaa")
	for _, k := range a {
		_, err := c.Set(ctx, k, "u", 0)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.size())
	keys, err := c.Keys(ctx, "1-aaaaaaaaaa")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	c.mu.Lock()
	tagged := len(c.tags["1-aaaaaaaaaa"])
	c.mu.Unlock()
	assert.Equal(t, 2, tagged)

	n, err := c.Invalidate(ctx, "1-aaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, c.size())
}

func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	var c URLCache = NoopURLCache{}

	stored, err := c.Set(ctx, Key{AvatarKey: "x"}, "u", 0)
	require.NoError(t, err)
	assert.False(t, stored)

	_, err = c.Get(ctx, Key{AvatarKey: "x"})
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestEntryKeysDoNotCollide(t *testing.T) {
	b := NewKeyBuilder("avatar_img")
	withPort := Key{AvatarKey: "1-aaaaaaaaaa", Scheme: "http", Host: "a:8080", Fallback: "x"}
	withColon := Key{AvatarKey: "1-aaaaaaaaaa", Scheme: "http", Host: "a", Fallback: "8080:x"}
	assert.NotEqual(t, b.Entry(withPort), b.Entry(withColon))

	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.Set(ctx, withPort, "port", 0)
			require.NoError(t, err)
			_, err = c.Set(ctx, withColon, "colon", 0)
			require.NoError(t, err)

			got, err := c.Get(ctx, withPort)
			require.NoError(t, err)
			assert.Equal(t, "port", got)
			got, err = c.Get(ctx, withColon)
			require.NoError(t, err)
			assert.Equal(t, "colon", got)
		})
	}
}

func TestMemoryCacheGenerationsStayBounded(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, 2)

	held, err := c.Generation(ctx, "1-aaaaaaaaaa")
	require.NoError(t, err)

	for _, k := range []string{"1-aaaaaaaaaa", "2-bbbbbbbbbb", "3-cccccccccc", "4-dddddddddd"} {
		_, err := c.Invalidate(ctx, k)
		require.NoError(t, err)
	}

	c.mu.Lock()
	remembered := c.gens.Len()
	c.mu.Unlock()
	assert.Equal(t, 2, remembered)

	// The writer that read its generation before the invalidation must
	// still be rejected after the remembered value was evicted.
	stored, err := c.Set(ctx, keysFor("1-aaaaaaaaaa")[0], "stale", held)
	require.NoError(t, err)
	assert.False(t, stored)

	fresh, err := c.Generation(ctx, "1-aaaaaaaaaa")
	require.NoError(t, err)
	assert.NotEqual(t, held, fresh)
	stored, err = c.Set(ctx, keysFor("1-aaaaaaaaaa")[0], "fresh", fresh)
	require.NoError(t, err)
	assert.True(t, stored)
}
