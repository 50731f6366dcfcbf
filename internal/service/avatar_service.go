package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/avatar-service/internal/audit"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/consumer"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/domain"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/invalidation"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/repository"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/log"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/storage"
)

var (
	ErrInvalidAvatar   = errors.New("invalid avatar")
	ErrAccountNotFound = errors.New("account not found")
	ErrObjectMissing   = errors.New("processed avatar object not found")
)

// SystemActor is recorded as the actor of pipeline-driven changes.
const SystemActor = "system"

const (
	invalidateAttempts = 3
	invalidateBackoff  = 50 * time.Millisecond
	imagePathPrefix    = "/images/users/"
)

// avatarServiceImpl implements AvatarService interface.
type avatarServiceImpl struct {
	resolver  *Resolver
	users     repository.UserRepository
	accounts  repository.AccountRepository
	store     storage.Storage
	broadcast invalidation.Broadcaster
}

// NewAvatarService creates a new avatar service. store and broadcast may be
// nil when processed uploads or cross-instance invalidation are not in use.
func NewAvatarService(
	resolver *Resolver,
	users repository.UserRepository,
	accounts repository.AccountRepository,
	store storage.Storage,
	broadcast invalidation.Broadcaster,
) AvatarService {
	return &avatarServiceImpl{
		resolver:  resolver,
		users:     users,
		accounts:  accounts,
		store:     store,
		broadcast: broadcast,
	}
}

// Resolve delegates to the resolver.
func (s *avatarServiceImpl) Resolve(ctx context.Context, req ResolveRequest) (string, error) {
	return s.resolver.Resolve(ctx, req)
}

// AvatarKey returns the avatar key and image path for a user.
func (s *avatarServiceImpl) AvatarKey(ctx context.Context, userID string) (*domain.AvatarKeyResponse, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	key := s.resolver.AvatarKey(userID)
	return &domain.AvatarKeyResponse{AvatarKey: key, URL: imagePathPrefix + key}, nil
}

// UpdateAvatar validates and stores record, then evicts the user's cached redirects.
func (s *avatarServiceImpl) UpdateAvatar(ctx context.Context, actorID, userID string, record domain.AvatarRecord) (*domain.AvatarResponse, error) {
	resp, err := s.writeAvatar(ctx, userID, record)
	if err != nil {
		return nil, err
	}

	action := audit.ActionAvatarUpdate
	if actorID == SystemActor {
		action = audit.ActionAvatarProcessed
	}
	audit.LogWithDetail(ctx, action, actorID, userID, string(resp.Avatar.Type), "avatar updated")
	return resp, nil
}

// ResetAvatar writes the "no picture" state.
func (s *avatarServiceImpl) ResetAvatar(ctx context.Context, actorID, userID string) (*domain.AvatarResponse, error) {
	resp, err := s.writeAvatar(ctx, userID, domain.NoAvatar())
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionAvatarReset, actorID, userID, "avatar reset")
	return resp, nil
}

func (s *avatarServiceImpl) writeAvatar(ctx context.Context, userID string, record domain.AvatarRecord) (*domain.AvatarResponse, error) {
	ctx = log.WithStr(ctx, log.FieldUserID, userID)
	l := log.Ctx(ctx)

	record = record.Normalized()
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAvatar, err)
	}

	if err := s.users.UpdateAvatar(ctx, userID, record); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		l.Error().Err(err).Msg("failed to update avatar")
		return nil, err
	}

	key := s.resolver.AvatarKey(userID)
	s.invalidate(ctx, key)

	return &domain.AvatarResponse{UserID: userID, AvatarKey: key, Avatar: record}, nil
}

// invalidate runs after the write has committed. Eviction failures are
// retried and then logged; the write itself is not rolled back.
func (s *avatarServiceImpl) invalidate(ctx context.Context, avatarKey string) {
	l := log.Ctx(ctx)

	var err error
	for attempt := 1; attempt <= invalidateAttempts; attempt++ {
		var n int
		if n, err = s.resolver.Invalidate(ctx, avatarKey); err == nil {
			l.Debug().Str(log.FieldAvatarKey, avatarKey).Int("evicted", n).Msg("avatar cache invalidated")
			break
		}
		if attempt < invalidateAttempts {
			time.Sleep(time.Duration(attempt) * invalidateBackoff)
		}
	}
	if err != nil {
		l.Error().Err(err).Str(log.FieldAvatarKey, avatarKey).Msg("failed to invalidate avatar cache")
	}

	if s.broadcast == nil {
		return
	}
	if err := s.broadcast.Broadcast(ctx, avatarKey); err != nil {
		l.Error().Err(err).Str(log.FieldAvatarKey, avatarKey).Msg("failed to broadcast avatar invalidation")
	}
}

// SetAvatarsEnabled toggles the tenant flag and evicts every user in the account.
func (s *avatarServiceImpl) SetAvatarsEnabled(ctx context.Context, actorID, accountID string, enabled bool) error {
	ctx = log.WithStr(ctx, log.FieldAccountID, accountID)
	l := log.Ctx(ctx)

	if err := s.accounts.SetAvatarsEnabled(ctx, accountID, enabled); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		l.Error().Err(err).Msg("failed to toggle avatars")
		return err
	}

	ids, err := s.users.ListIDsByAccount(ctx, accountID)
	if err != nil {
		l.Error().Err(err).Msg("failed to list account users for invalidation")
		return err
	}
	for _, id := range ids {
		s.invalidate(ctx, s.resolver.AvatarKey(id))
	}

	action := audit.ActionAvatarsDisable
	if enabled {
		action = audit.ActionAvatarsEnable
	}
	audit.LogWithDetail(ctx, action, actorID, accountID, fmt.Sprintf("users=%d", len(ids)), "avatar service toggled")
	return nil
}

// CachedRedirects lists the cache entries currently held for a user.
func (s *avatarServiceImpl) CachedRedirects(ctx context.Context, userID string) (*domain.CachedRedirectsResponse, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	key := s.resolver.AvatarKey(userID)
	entries, err := s.resolver.CachedEntries(ctx, key)
	if err != nil {
		return nil, err
	}
	return &domain.CachedRedirectsResponse{AvatarKey: key, Entries: entries}, nil
}

// HandleAvatarProcessed points the user's avatar at the processed image.
// The object key is stored rather than a URL so presigned URLs are minted
// per resolve and never outlive their signature in the database.
func (s *avatarServiceImpl) HandleAvatarProcessed(ctx context.Context, event *consumer.AvatarProcessedEvent) error {
	if s.store == nil {
		return errors.New("storage is not configured")
	}

	ref, ok := event.DisplayObject()
	if !ok {
		return consumer.ErrInvalidEvent
	}

	exists, err := s.store.Exists(ctx, ref.Key)
	if err != nil {
		return fmt.Errorf("check processed avatar: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrObjectMissing, ref.Key)
	}

	_, err = s.UpdateAvatar(ctx, SystemActor, event.UserID, domain.StoredAttachment(ref.Key))
	return err
}
