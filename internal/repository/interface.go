package repository

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-live/avatar-service/internal/domain"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAccountNotFound = errors.New("account not found")
)

// UserRepository defines the interface for user data persistence.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// UpdateAvatar persists the avatar record for a user. It returns only
	// after the write is committed.
	UpdateAvatar(ctx context.Context, userID string, avatar domain.AvatarRecord) error
	// ListIDsByAccount returns the ids of every user in an account.
	ListIDsByAccount(ctx context.Context, accountID string) ([]string, error)
}

// AccountRepository defines the interface for tenant persistence.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	SetAvatarsEnabled(ctx context.Context, id string, enabled bool) error
}
