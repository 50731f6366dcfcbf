package domain

import (
	"time"

	"gorm.io/gorm"
)

// AccountModel is the GORM model for the accounts table.
type AccountModel struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	Name           string    `gorm:"type:varchar(255);not null"`
	AvatarsEnabled bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for AccountModel.
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts AccountModel to domain Account.
func (m *AccountModel) ToDomain() *Account {
	return &Account{
		ID:             m.ID,
		Name:           m.Name,
		AvatarsEnabled: m.AvatarsEnabled,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// AccountToModel converts domain Account to AccountModel.
func AccountToModel(a *Account) *AccountModel {
	return &AccountModel{
		ID:             a.ID,
		Name:           a.Name,
		AvatarsEnabled: a.AvatarsEnabled,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// UserModel is the GORM model for the users table. An empty AvatarType
// means the user never chose an avatar.
type UserModel struct {
	ID           string         `gorm:"type:varchar(36);primaryKey"`
	AccountID    string         `gorm:"type:varchar(36);index;not null"`
	Name         string         `gorm:"type:varchar(255)"`
	Email        string         `gorm:"type:varchar(255);index"`
	AvatarType   string         `gorm:"type:varchar(20)"`
	AvatarSource string         `gorm:"type:varchar(2048)"`
	AvatarObject string         `gorm:"type:varchar(1024)"`
	CreatedAt    time.Time      `gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime"`
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to domain User. An unreadable avatar type
// degrades to gravatar rather than failing the lookup.
func (m *UserModel) ToDomain() *User {
	avatar, err := ParseAvatarRecord(m.AvatarType, m.AvatarSource, m.AvatarObject)
	if err != nil {
		avatar = Gravatar()
	}
	return &User{
		ID:        m.ID,
		AccountID: m.AccountID,
		Name:      m.Name,
		Email:     m.Email,
		Avatar:    avatar,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// UserToModel converts domain User to UserModel.
func UserToModel(u *User) *UserModel {
	return &UserModel{
		ID:           u.ID,
		AccountID:    u.AccountID,
		Name:         u.Name,
		Email:        u.Email,
		AvatarType:   string(u.Avatar.Type),
		AvatarSource: u.Avatar.Source,
		AvatarObject: u.Avatar.Object,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}
