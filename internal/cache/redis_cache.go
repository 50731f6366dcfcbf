package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// setScript stores an entry and tags it, unless the generation moved.
// KEYS: gen, tag, entry. ARGV: expected gen, url, ttl in ms (0 = none).
var setScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur ~= tonumber(ARGV[1]) then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('SET', KEYS[3], ARGV[2], 'PX', ttl)
  redis.call('SADD', KEYS[2], KEYS[3])
  redis.call('PEXPIRE', KEYS[2], ttl)
else
  redis.call('SET', KEYS[3], ARGV[2])
  redis.call('SADD', KEYS[2], KEYS[3])
end
return 1
`)

// invalidateScript bumps the generation, deletes every tagged entry, then
// the tag set. KEYS: gen, tag. Returns the number of entries deleted.
var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[1])
local members = redis.call('SMEMBERS', KEYS[2])
local n = 0
for _, k in ipairs(members) do
  n = n + redis.call('DEL', k)
end
redis.call('DEL', KEYS[2])
return n
`)

// RedisURLCache implements URLCache on Redis.
type RedisURLCache struct {
	client *redis.Client
	keys   KeyBuilder
	ttl    time.Duration
	owns   bool
}

// RedisConfig holds connection settings.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisURLCache connects to Redis and verifies the connection.
func NewRedisURLCache(rc RedisConfig, cfg Config) (*RedisURLCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := NewRedisURLCacheFromClient(client, cfg)
	c.owns = true
	return c, nil
}

// NewRedisURLCacheFromClient wraps an existing client. Close leaves the
// client open.
func NewRedisURLCacheFromClient(client *redis.Client, cfg Config) *RedisURLCache {
	return &RedisURLCache{
		client: client,
		keys:   NewKeyBuilder(cfg.Prefix),
		ttl:    cfg.TTL,
	}
}

// Client returns the underlying client so other components can share it.
func (c *RedisURLCache) Client() *redis.Client {
	return c.client
}

func (c *RedisURLCache) Get(ctx context.Context, key Key) (string, error) {
	url, err := c.client.Get(ctx, c.keys.Entry(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get from redis: %w", err)
	}
	return url, nil
}

func (c *RedisURLCache) Generation(ctx context.Context, avatarKey string) (int64, error) {
	s, err := c.client.Get(ctx, c.keys.Gen(avatarKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	gen, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt generation %q: %w", s, err)
	}
	return gen, nil
}

func (c *RedisURLCache) Set(ctx context.Context, key Key, url string, gen int64) (bool, error) {
	keys := []string{c.keys.Gen(key.AvatarKey), c.keys.Tag(key.AvatarKey), c.keys.Entry(key)}
	stored, err := setScript.Run(ctx, c.client, keys, gen, url, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set in redis: %w", err)
	}
	return stored == 1, nil
}

func (c *RedisURLCache) Invalidate(ctx context.Context, avatarKey string) (int, error) {
	keys := []string{c.keys.Gen(avatarKey), c.keys.Tag(avatarKey)}
	n, err := invalidateScript.Run(ctx, c.client, keys).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate %s: %w", avatarKey, err)
	}
	return n, nil
}

// Keys returns tagged entries that have not expired yet.
func (c *RedisURLCache) Keys(ctx context.Context, avatarKey string) ([]string, error) {
	members, err := c.client.SMembers(ctx, c.keys.Tag(avatarKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tag set: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.Exists(ctx, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check tagged entries: %w", err)
	}

	live := make([]string, 0, len(members))
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			live = append(live, members[i])
		}
	}
	return live, nil
}

func (c *RedisURLCache) Close() error {
	if c.owns {
		return c.client.Close()
	}
	return nil
}
