package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/avatar-service/internal/consumer"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/domain"
)

// AvatarService defines the interface for avatar business logic.
type AvatarService interface {
	// Resolve returns the redirect target for an avatar request.
	Resolve(ctx context.Context, req ResolveRequest) (string, error)
	// AvatarKey returns the key used in /images/users/{key} for an existing user.
	AvatarKey(ctx context.Context, userID string) (*domain.AvatarKeyResponse, error)
	// UpdateAvatar persists a new avatar record and evicts the user's cached redirects.
	UpdateAvatar(ctx context.Context, actorID, userID string, record domain.AvatarRecord) (*domain.AvatarResponse, error)
	// ResetAvatar returns the user to the "no picture" state.
	ResetAvatar(ctx context.Context, actorID, userID string) (*domain.AvatarResponse, error)
	// SetAvatarsEnabled toggles the tenant's avatar service and evicts every user in it.
	SetAvatarsEnabled(ctx context.Context, actorID, accountID string, enabled bool) error
	// CachedRedirects lists the cache entries currently tagged with the user's avatar key.
	CachedRedirects(ctx context.Context, userID string) (*domain.CachedRedirectsResponse, error)
	// HandleAvatarProcessed applies the output of the resize pipeline as an attachment.
	HandleAvatarProcessed(ctx context.Context, event *consumer.AvatarProcessedEvent) error
}
