package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/avatar-service/internal/domain"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/service"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/log"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/response"
)

const (
	headerForwardedProto = "X-Forwarded-Proto"
	headerForwardedHost  = "X-Forwarded-Host"

	// RoleAdmin may toggle the avatar service for an account and inspect
	// cached redirects.
	RoleAdmin = "admin"
)

// Config holds handler options.
type Config struct {
	// TrustProxyHeaders takes scheme and host from X-Forwarded-* headers.
	TrustProxyHeaders bool
	// RedirectTTL is the Cache-Control max-age sent with avatar redirects.
	RedirectTTL time.Duration
}

// Handler handles HTTP requests for avatar service.
type Handler struct {
	avatarService  service.AvatarService
	authMiddleware *middleware.AuthMiddleware
	cfg            Config
}

// NewHandler creates a new HTTP handler.
func NewHandler(avatarService service.AvatarService, authMiddleware *middleware.AuthMiddleware, cfg Config) *Handler {
	return &Handler{
		avatarService:  avatarService,
		authMiddleware: authMiddleware,
		cfg:            cfg,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/images/users/:avatarKey", h.AvatarImage)

	api := r.Group("/api/v1")
	{
		users := api.Group("/users")
		users.Use(h.authMiddleware.RequireAuth())
		{
			users.GET("/:id/avatar_key", h.GetAvatarKey)
			users.GET("/:id/avatar/cache", h.authMiddleware.RequireRole(RoleAdmin), h.GetCachedRedirects)
		}

		me := api.Group("/users/me")
		me.Use(h.authMiddleware.RequireAuth())
		{
			me.PUT("/avatar", h.UpdateAvatar)
			me.DELETE("/avatar", h.ResetAvatar)
		}

		accounts := api.Group("/accounts")
		accounts.Use(h.authMiddleware.RequireAuth(), h.authMiddleware.RequireRole(RoleAdmin))
		{
			accounts.PUT("/:id/services/avatars", h.SetAvatarsEnabled)
		}
	}
}

// AvatarImage redirects to the resolved avatar image.
func (h *Handler) AvatarImage(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	scheme, host := h.requestOrigin(c)
	target, err := h.avatarService.Resolve(ctx, service.ResolveRequest{
		AvatarKey: c.Param("avatarKey"),
		Scheme:    scheme,
		Host:      host,
		Fallback:  c.Query("fallback"),
	})
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l.Error().Err(err).Msg("resolve avatar failed")
		response.InternalError(c, "failed to resolve avatar")
		return
	}

	response.Redirect(c, target, h.cfg.RedirectTTL)
}

// requestOrigin returns the scheme and host the client used.
func (h *Handler) requestOrigin(c *gin.Context) (string, string) {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	host := c.Request.Host

	if h.cfg.TrustProxyHeaders {
		if v := firstValue(c.GetHeader(headerForwardedProto)); v != "" {
			scheme = v
		}
		if v := firstValue(c.GetHeader(headerForwardedHost)); v != "" {
			host = v
		}
	}
	return scheme, host
}

// firstValue returns the client-most entry of a comma-separated header.
func firstValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// GetAvatarKey returns a user's avatar key and image path.
func (h *Handler) GetAvatarKey(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	userID := c.Param("id")

	result, err := h.avatarService.AvatarKey(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("get avatar key failed")
		response.InternalError(c, "failed to get avatar key")
		return
	}

	response.Success(c, result)
}

// GetCachedRedirects lists the cache entries held for a user's avatar key.
func (h *Handler) GetCachedRedirects(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	userID := c.Param("id")

	result, err := h.avatarService.CachedRedirects(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("list cached redirects failed")
		response.InternalError(c, "failed to list cached redirects")
		return
	}

	response.Success(c, result)
}

// UpdateAvatar sets the current user's avatar.
func (h *Handler) UpdateAvatar(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req domain.UpdateAvatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid update avatar request")
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.avatarService.UpdateAvatar(ctx, userID, userID, req.Record())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAvatar):
			response.BadRequest(c, err.Error())
		case errors.Is(err, service.ErrNotFound):
			response.NotFound(c, "user not found")
		default:
			l.Error().Err(err).Str(log.FieldUserID, userID).Msg("update avatar failed")
			response.InternalError(c, "failed to update avatar")
		}
		return
	}

	response.Success(c, result)
}

// ResetAvatar returns the current user's avatar to "no picture".
func (h *Handler) ResetAvatar(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	result, err := h.avatarService.ResetAvatar(ctx, userID, userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("reset avatar failed")
		response.InternalError(c, "failed to reset avatar")
		return
	}

	response.Success(c, result)
}

// SetAvatarsEnabled toggles the avatar service for an account.
func (h *Handler) SetAvatarsEnabled(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	accountID := c.Param("id")

	var req domain.SetAvatarsEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid avatars toggle request")
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.avatarService.SetAvatarsEnabled(ctx, middleware.GetUserID(c), accountID, *req.Enabled); err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			response.NotFound(c, "account not found")
			return
		}
		l.Error().Err(err).Str(log.FieldAccountID, accountID).Msg("toggle avatars failed")
		response.InternalError(c, "failed to update account")
		return
	}

	c.Status(http.StatusNoContent)
}
