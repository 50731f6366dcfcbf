package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

// Key identifies one resolved redirect. Every field takes part in the
// cache key; AvatarKey is also the eviction tag.
type Key struct {
	AvatarKey string
	Scheme    string
	Host      string
	Fallback  string
}

// URLCache stores resolved avatar redirect URLs tagged by avatar key.
//
// Writers read Generation before loading the avatar record and pass it to
// Set. Invalidate bumps the generation, so a write computed from a record
// loaded before the invalidation is dropped instead of resurrecting a
// stale URL.
type URLCache interface {
	Get(ctx context.Context, key Key) (string, error)
	Generation(ctx context.Context, avatarKey string) (int64, error)
	// Set stores url if the avatar key's generation still equals gen. It
	// reports whether the value was stored.
	Set(ctx context.Context, key Key, url string, gen int64) (bool, error)
	// Invalidate evicts every entry tagged with avatarKey and returns how
	// many were removed.
	Invalidate(ctx context.Context, avatarKey string) (int, error)
	// Keys lists the live entry keys tagged with avatarKey.
	Keys(ctx context.Context, avatarKey string) ([]string, error)
	Close() error
}

// KeyBuilder renders storage keys. The avatar key is wrapped in a Redis
// hash tag so an entry, its tag set, and its generation share a slot.
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates a builder; an empty prefix defaults to "avatar_img".
func NewKeyBuilder(prefix string) KeyBuilder {
	if prefix == "" {
		prefix = "avatar_img"
	}
	return KeyBuilder{prefix: prefix}
}

// Entry returns the key of one cached redirect. Scheme, host and fallback
// are query-escaped so a ':' inside them cannot shift field boundaries.
func (b KeyBuilder) Entry(k Key) string {
	return fmt.Sprintf("%s:{%s}:%s:%s:%s", b.prefix, k.AvatarKey,
		url.QueryEscape(k.Scheme), url.QueryEscape(k.Host), url.QueryEscape(k.Fallback))
}

// Tag returns the key of the set indexing an avatar key's entries.
func (b KeyBuilder) Tag(avatarKey string) string {
	return fmt.Sprintf("%s_tag:{%s}", b.prefix, avatarKey)
}

// Gen returns the key of an avatar key's generation counter.
func (b KeyBuilder) Gen(avatarKey string) string {
	return fmt.Sprintf("%s_gen:{%s}", b.prefix, avatarKey)
}

// Config selects a cache backend.
type Config struct {
	Driver string // redis, memory
	Prefix string
	TTL    time.Duration // zero keeps entries until evicted
	Size   int           // memory only
}
