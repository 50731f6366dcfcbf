package domain

import "time"

// Account is the tenant that owns users and gates the avatar service.
type Account struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	AvatarsEnabled bool      `json:"avatars_enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// User represents a user entity with its avatar configuration.
type User struct {
	ID        string       `json:"id"`
	AccountID string       `json:"account_id"`
	Name      string       `json:"name"`
	Email     string       `json:"email,omitempty"`
	Avatar    AvatarRecord `json:"avatar"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// UpdateAvatarRequest is the body of PUT /users/me/avatar.
type UpdateAvatarRequest struct {
	Type   AvatarType `json:"type" binding:"required"`
	Source string     `json:"source"`
}

// Record converts the request into a normalized record.
func (r *UpdateAvatarRequest) Record() AvatarRecord {
	return AvatarRecord{Type: r.Type, Source: r.Source}.Normalized()
}

// SetAvatarsEnabledRequest is the body of PUT /accounts/:id/services/avatars.
type SetAvatarsEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// AvatarKeyResponse exposes a user's avatar key and image path.
type AvatarKeyResponse struct {
	AvatarKey string `json:"avatar_key"`
	URL       string `json:"url"`
}

// AvatarResponse is returned after an avatar mutation.
type AvatarResponse struct {
	UserID    string       `json:"user_id"`
	AvatarKey string       `json:"avatar_key"`
	Avatar    AvatarRecord `json:"avatar"`
}

// CachedRedirectsResponse lists the cache entries held for one avatar key.
type CachedRedirectsResponse struct {
	AvatarKey string   `json:"avatar_key"`
	Entries   []string `json:"entries"`
}
