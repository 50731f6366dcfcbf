package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/avatar-service/internal/domain"
)

// GormAccountRepository implements AccountRepository using GORM.
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new GORM-based account repository.
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// Create creates a new account. An empty ID is replaced with a fresh uuid.
func (r *GormAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	model := domain.AccountToModel(account)
	// Select("*") so a false AvatarsEnabled is written instead of the column default.
	if err := r.db.WithContext(ctx).Select("*").Create(model).Error; err != nil {
		return err
	}

	account.CreatedAt = model.CreatedAt
	account.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID retrieves an account by ID.
func (r *GormAccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	var model domain.AccountModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// SetAvatarsEnabled toggles the avatar service for an account.
func (r *GormAccountRepository) SetAvatarsEnabled(ctx context.Context, id string, enabled bool) error {
	result := r.db.WithContext(ctx).Model(&domain.AccountModel{}).
		Where("id = ?", id).
		Update("avatars_enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.exists(ctx, id)
	}
	return nil
}

// exists tells a missing row apart from an update that changed nothing,
// which MySQL reports as zero affected rows.
func (r *GormAccountRepository) exists(ctx context.Context, id string) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.AccountModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
