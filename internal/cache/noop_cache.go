package cache

import "context"

// NoopURLCache never stores anything. It backs a resolver running with
// caching disabled or with an unreachable backend.
type NoopURLCache struct{}

func (NoopURLCache) Get(context.Context, Key) (string, error)              { return "", ErrCacheMiss }
func (NoopURLCache) Generation(context.Context, string) (int64, error)     { return 0, nil }
func (NoopURLCache) Set(context.Context, Key, string, int64) (bool, error) { return false, nil }
func (NoopURLCache) Invalidate(context.Context, string) (int, error)       { return 0, nil }
func (NoopURLCache) Keys(context.Context, string) ([]string, error)        { return nil, nil }
func (NoopURLCache) Close() error                                          { return nil }
