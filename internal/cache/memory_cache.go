package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const defaultMemorySize = 10000

type memEntry struct {
	avatarKey string
	url       string
	expires   time.Time // zero never expires
}

// MemoryURLCache implements URLCache in process with a bounded LRU. It is
// only coherent across instances when paired with the invalidation bus.
//
// Generations come from one clock shared by all avatar keys. An
// invalidated key remembers the clock value of its last invalidation in a
// second bounded LRU; keys without a remembered value report floor, the
// highest value that LRU has evicted. A generation therefore never moves
// back to a value an in-flight writer may still hold.
type MemoryURLCache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, memEntry]
	tags    map[string]map[string]struct{}
	gens    *simplelru.LRU[string, int64]
	clock   int64
	floor   int64
	keys    KeyBuilder
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryURLCache creates an in-process cache holding up to cfg.Size entries.
func NewMemoryURLCache(cfg Config) (*MemoryURLCache, error) {
	size := cfg.Size
	if size <= 0 {
		size = defaultMemorySize
	}

	c := &MemoryURLCache{
		tags: make(map[string]map[string]struct{}),
		keys: NewKeyBuilder(cfg.Prefix),
		ttl:  cfg.TTL,
		now:  time.Now,
	}

	entries, err := simplelru.NewLRU[string, memEntry](size, c.untag)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	gens, err := simplelru.NewLRU[string, int64](size, c.raiseFloor)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation lru: %w", err)
	}
	c.entries = entries
	c.gens = gens
	return c, nil
}

// raiseFloor runs when a remembered generation is evicted, with c.mu held.
func (c *MemoryURLCache) raiseFloor(_ string, gen int64) {
	if gen > c.floor {
		c.floor = gen
	}
}

// generation must be called with c.mu held.
func (c *MemoryURLCache) generation(avatarKey string) int64 {
	if gen, ok := c.gens.Peek(avatarKey); ok {
		return gen
	}
	return c.floor
}

// untag runs inside LRU mutations, which only happen with c.mu held.
func (c *MemoryURLCache) untag(key string, e memEntry) {
	set, ok := c.tags[e.avatarKey]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(c.tags, e.avatarKey)
	}
}

func (c *MemoryURLCache) Get(_ context.Context, key Key) (string, error) {
	k := c.keys.Entry(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(k)
	if !ok {
		return "", ErrCacheMiss
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.entries.Remove(k)
		return "", ErrCacheMiss
	}
	return e.url, nil
}

func (c *MemoryURLCache) Generation(_ context.Context, avatarKey string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation(avatarKey), nil
}

func (c *MemoryURLCache) Set(_ context.Context, key Key, url string, gen int64) (bool, error) {
	k := c.keys.Entry(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation(key.AvatarKey) != gen {
		return false, nil
	}

	e := memEntry{avatarKey: key.AvatarKey, url: url}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries.Add(k, e)

	set, ok := c.tags[key.AvatarKey]
	if !ok {
		set = make(map[string]struct{})
		c.tags[key.AvatarKey] = set
	}
	set[k] = struct{}{}
	return true, nil
}

func (c *MemoryURLCache) Invalidate(_ context.Context, avatarKey string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	c.gens.Add(avatarKey, c.clock)

	set := c.tags[avatarKey]
	delete(c.tags, avatarKey)

	n := 0
	for k := range set {
		if c.entries.Remove(k) {
			n++
		}
	}
	return n, nil
}

func (c *MemoryURLCache) Keys(_ context.Context, avatarKey string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var keys []string
	for k := range c.tags[avatarKey] {
		if e, ok := c.entries.Peek(k); ok && (e.expires.IsZero() || now.Before(e.expires)) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// size returns the number of entries, including expired ones not yet swept.
func (c *MemoryURLCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *MemoryURLCache) Close() error { return nil }
