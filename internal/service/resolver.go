package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/avatar-service/internal/avatarkey"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/cache"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/domain"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/repository"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/log"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/storage"
)

var (
	ErrNotFound        = errors.New("user not found")
	ErrInvalidFallback = errors.New("fallback must be an absolute http(s) URL or a root-relative path")
)

const (
	defaultGravatarBase = "https://secure.gravatar.com/avatar/"
	defaultGravatarSize = 50
	defaultNoPicPath    = "/images/no_pic.gif"
	defaultURLExpiry    = 7 * 24 * time.Hour
	// noEmailHash is sent to gravatar for users without an email address.
	noEmailHash = "000"
)

// ResolverConfig tunes URL construction.
type ResolverConfig struct {
	GravatarBase string
	GravatarSize int
	NoPicPath    string
	// URLExpiry is the lifetime requested for signed object storage URLs.
	URLExpiry time.Duration
}

func (c *ResolverConfig) withDefaults() {
	if c.GravatarBase == "" {
		c.GravatarBase = defaultGravatarBase
	}
	if c.GravatarSize <= 0 {
		c.GravatarSize = defaultGravatarSize
	}
	if c.NoPicPath == "" {
		c.NoPicPath = defaultNoPicPath
	}
	if c.URLExpiry <= 0 {
		c.URLExpiry = defaultURLExpiry
	}
	if !strings.HasPrefix(c.NoPicPath, "/") {
		c.NoPicPath = "/" + c.NoPicPath
	}
}

// ResolveRequest is one avatar lookup as it arrived over HTTP.
type ResolveRequest struct {
	AvatarKey string
	Scheme    string
	Host      string
	Fallback  string
}

// Resolver turns avatar keys into redirect targets, memoizing results in a
// URLCache tagged by avatar key.
type Resolver struct {
	users    repository.UserRepository
	accounts repository.AccountRepository
	keys     *avatarkey.Codec
	store    storage.Storage
	cache    cache.URLCache
	metrics  *metrics.Metrics
	cfg      ResolverConfig
	group    singleflight.Group
}

// NewResolver creates a resolver. A nil cache disables caching; nil
// metrics are replaced with unregistered collectors. store may be nil when
// no attachment is kept in object storage.
func NewResolver(
	users repository.UserRepository,
	accounts repository.AccountRepository,
	keys *avatarkey.Codec,
	store storage.Storage,
	c cache.URLCache,
	m *metrics.Metrics,
	cfg ResolverConfig,
) *Resolver {
	if c == nil {
		c = cache.NoopURLCache{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	cfg.withDefaults()
	return &Resolver{
		users:    users,
		accounts: accounts,
		keys:     keys,
		store:    store,
		cache:    c,
		metrics:  m,
		cfg:      cfg,
	}
}

// AvatarKey returns the avatar key for userID.
func (r *Resolver) AvatarKey(userID string) string {
	return r.keys.Key(userID)
}

// Resolve returns the redirect target for req.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (string, error) {
	userID, err := r.keys.Parse(req.AvatarKey)
	if err != nil {
		return "", ErrNotFound
	}
	ctx = log.WithStr(ctx, log.FieldAvatarKey, req.AvatarKey)
	l := log.Ctx(ctx)

	scheme := NormalizeScheme(req.Scheme)
	host := strings.ToLower(req.Host)

	fallback, err := NormalizeFallback(req.Fallback, scheme, host)
	if err != nil {
		l.Warn().Err(err).
			Str(log.FieldScheme, scheme).
			Str(log.FieldHost, host).
			Str("fallback", req.Fallback).
			Msg("ignoring malformed fallback")
		fallback = ""
	}

	key := cache.Key{AvatarKey: req.AvatarKey, Scheme: scheme, Host: host, Fallback: fallback}

	switch target, err := r.cache.Get(ctx, key); {
	case err == nil:
		r.metrics.CacheLookups.WithLabelValues(metrics.CacheHit).Inc()
		return target, nil
	case errors.Is(err, cache.ErrCacheMiss):
		r.metrics.CacheLookups.WithLabelValues(metrics.CacheMiss).Inc()
	default:
		r.metrics.CacheLookups.WithLabelValues(metrics.CacheError).Inc()
		l.Warn().Err(err).Msg("avatar cache read failed, recomputing")
	}

	gen, err := r.cache.Generation(ctx, req.AvatarKey)
	if err != nil {
		l.Warn().Err(err).Msg("avatar cache generation unavailable, skipping cache write")
		return r.compute(ctx, userID, key)
	}

	// The generation is part of the flight key: a request that starts
	// after an invalidation never joins a flight that loaded the old record.
	// The flight outlives the caller that started it, so it must not inherit
	// that caller's cancellation.
	flight := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d", key.AvatarKey, key.Scheme, key.Host, key.Fallback, gen)
	fctx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(flight, func() (interface{}, error) {
		target, err := r.compute(fctx, userID, key)
		if err != nil {
			return "", err
		}

		stored, err := r.cache.Set(fctx, key, target, gen)
		switch {
		case err != nil:
			l.Warn().Err(err).Msg("avatar cache write failed")
		case !stored:
			r.metrics.StaleWrites.Inc()
			l.Debug().Msg("avatar changed while resolving, result not cached")
		}
		return target, nil
	})
	if err != nil {
		return "", err
	}

	target, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected result type %T from resolve flight", v)
	}
	return target, nil
}

// Invalidate evicts every cached redirect for avatarKey.
func (r *Resolver) Invalidate(ctx context.Context, avatarKey string) (int, error) {
	n, err := r.cache.Invalidate(ctx, avatarKey)
	if err != nil {
		return 0, err
	}
	r.metrics.Invalidations.Inc()
	r.metrics.Evicted.Add(float64(n))
	return n, nil
}

// CachedEntries returns the cache keys currently tagged with avatarKey.
func (r *Resolver) CachedEntries(ctx context.Context, avatarKey string) ([]string, error) {
	entries, err := r.cache.Keys(ctx, avatarKey)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []string{}
	}
	return entries, nil
}

// compute re-reads the user and tenant on every miss.
func (r *Resolver) compute(ctx context.Context, userID string, key cache.Key) (string, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	enabled := false
	account, err := r.accounts.GetByID(ctx, user.AccountID)
	switch {
	case err == nil:
		enabled = account.AvatarsEnabled
	case errors.Is(err, repository.ErrAccountNotFound):
		l := log.Ctx(ctx)
		l.Warn().Str(log.FieldAccountID, user.AccountID).Msg("user has no account, treating avatars as disabled")
	default:
		return "", fmt.Errorf("load account: %w", err)
	}

	target, kind := r.build(ctx, user, enabled, key)
	r.metrics.Resolutions.WithLabelValues(kind).Inc()
	return target, nil
}

func (r *Resolver) build(ctx context.Context, user *domain.User, enabled bool, key cache.Key) (string, string) {
	origin := key.Scheme + "://" + key.Host

	target := key.Fallback
	if target == "" {
		target = origin + r.cfg.NoPicPath
	}

	if !enabled {
		return target, metrics.KindFallback
	}

	switch user.Avatar.Type {
	case domain.AvatarNone:
		return target, metrics.KindFallback

	case domain.AvatarAttachment:
		src := user.Avatar.Source
		if obj := user.Avatar.Object; obj != "" {
			signed, err := r.objectURL(ctx, obj)
			if err != nil {
				l := log.Ctx(ctx)
				l.Error().Err(err).Str(log.FieldUserID, user.ID).Str("object", obj).Msg("failed to sign avatar object url")
				return target, metrics.KindFallback
			}
			src = signed
		}
		switch {
		case domain.IsAbsoluteURL(src):
			return src, metrics.KindAttachment
		case domain.IsRootRelative(src):
			return origin + src, metrics.KindAttachment
		}
		l := log.Ctx(ctx)
		l.Error().Str(log.FieldUserID, user.ID).Str("source", src).Msg("stored attachment source is unusable")
		return target, metrics.KindFallback

	default:
		return r.gravatarURL(user.Email, target), metrics.KindGravatar
	}
}

func (r *Resolver) objectURL(ctx context.Context, object string) (string, error) {
	if r.store == nil {
		return "", errors.New("storage is not configured")
	}
	return r.store.GetURL(ctx, object, r.cfg.URLExpiry)
}

func (r *Resolver) gravatarURL(email, fallback string) string {
	return fmt.Sprintf("%s%s?s=%d&d=%s", r.cfg.GravatarBase, GravatarHash(email), r.cfg.GravatarSize, url.QueryEscape(fallback))
}

// GravatarHash returns the gravatar identifier for email.
func GravatarHash(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return noEmailHash
	}
	sum := md5.Sum([]byte(email))
	return hex.EncodeToString(sum[:])
}

// NormalizeScheme maps anything but https to http.
func NormalizeScheme(scheme string) string {
	if strings.EqualFold(scheme, "https") {
		return "https"
	}
	return "http"
}

// NormalizeFallback returns the absolute form of raw. Absolute URLs pass
// through unchanged; root-relative paths are joined to scheme://host.
// An empty raw yields an empty result.
func NormalizeFallback(raw, scheme, host string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", nil
	case domain.IsAbsoluteURL(raw):
		return raw, nil
	case domain.IsRootRelative(raw):
		return scheme + "://" + host + raw, nil
	default:
		return "", ErrInvalidFallback
	}
}
