package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/avatar-service/internal/consumer"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/domain"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/service"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/middleware"
)

type fakeService struct {
	lastResolve service.ResolveRequest
	lastRecord  domain.AvatarRecord
	lastToggle  *bool
	resolveErr  error
	updateErr   error
}

func (f *fakeService) Resolve(_ context.Context, req service.ResolveRequest) (string, error) {
	f.lastResolve = req
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return req.Scheme + "://" + req.Host + "/images/no_pic.gif", nil
}

func (f *fakeService) AvatarKey(_ context.Context, userID string) (*domain.AvatarKeyResponse, error) {
	if userID == "missing" {
		return nil, service.ErrNotFound
	}
	return &domain.AvatarKeyResponse{AvatarKey: userID + "-abc", URL: "/images/users/" + userID + "-abc"}, nil
}

func (f *fakeService) UpdateAvatar(_ context.Context, _, userID string, record domain.AvatarRecord) (*domain.AvatarResponse, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.lastRecord = record
	return &domain.AvatarResponse{UserID: userID, Avatar: record}, nil
}

func (f *fakeService) ResetAvatar(_ context.Context, _, userID string) (*domain.AvatarResponse, error) {
	f.lastRecord = domain.NoAvatar()
	return &domain.AvatarResponse{UserID: userID, Avatar: f.lastRecord}, nil
}

func (f *fakeService) SetAvatarsEnabled(_ context.Context, _, accountID string, enabled bool) error {
	if accountID == "missing" {
		return service.ErrAccountNotFound
	}
	f.lastToggle = &enabled
	return nil
}

func (f *fakeService) CachedRedirects(_ context.Context, userID string) (*domain.CachedRedirectsResponse, error) {
	if userID == "missing" {
		return nil, service.ErrNotFound
	}
	return &domain.CachedRedirectsResponse{
		AvatarKey: userID + "-abc",
		Entries:   []string{"avatar_img:{" + userID + "-abc}:http:h:"},
	}, nil
}

func (f *fakeService) HandleAvatarProcessed(context.Context, *consumer.AvatarProcessedEvent) error {
	return nil
}

type testEnv struct {
	router   *gin.Engine
	svc      *fakeService
	verifier *jwt.Verifier
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	v, err := jwt.NewVerifier("secret", "")
	require.NoError(t, err)

	svc := &fakeService{}
	r := gin.New()
	NewHandler(svc, middleware.NewAuthMiddleware(v), cfg).RegisterRoutes(r)
	return &testEnv{router: r, svc: svc, verifier: v}
}

func (e *testEnv) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	tok, err := e.verifier.Issue(userID, roles, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(method, target, body, token string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestAvatarImageRedirects(t *testing.T) {
	e := newTestEnv(t, Config{RedirectTTL: time.Hour})

	w := e.do(http.MethodGet, "http://someschool.example.com/images/users/u1-abc?fallback=%2Fmy%2Ffallback.png", "", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://someschool.example.com/images/no_pic.gif", w.Header().Get("Location"))
	assert.Equal(t, "private, max-age=3600", w.Header().Get("Cache-Control"))

	assert.Equal(t, service.ResolveRequest{
		AvatarKey: "u1-abc",
		Scheme:    "http",
		Host:      "someschool.example.com",
		Fallback:  "/my/fallback.png",
	}, e.svc.lastResolve)
}

func TestAvatarImageNotFound(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.svc.resolveErr = service.ErrNotFound

	w := e.do(http.MethodGet, "/images/users/forged-0000000000", "", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAvatarImageProxyHeaders(t *testing.T) {
	headers := map[string]string{
		"X-Forwarded-Proto": "https, http",
		"X-Forwarded-Host":  "otherschool.example.com",
	}

	trusted := newTestEnv(t, Config{TrustProxyHeaders: true})
	w := trusted.do(http.MethodGet, "http://internal:8090/images/users/u1-abc", "", "", headers)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://otherschool.example.com/images/no_pic.gif", w.Header().Get("Location"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	untrusted := newTestEnv(t, Config{})
	w = untrusted.do(http.MethodGet, "http://internal:8090/images/users/u1-abc", "", "", headers)
	assert.Equal(t, "http://internal:8090/images/no_pic.gif", w.Header().Get("Location"))
}

func TestGetAvatarKey(t *testing.T) {
	e := newTestEnv(t, Config{})

	w := e.do(http.MethodGet, "/api/v1/users/u1/avatar_key", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "avatar keys are not handed out anonymously")

	tok := e.token(t, "u2")
	w = e.do(http.MethodGet, "/api/v1/users/u1/avatar_key", "", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool                     `json:"success"`
		Data    domain.AvatarKeyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "u1-abc", body.Data.AvatarKey)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v1/users/missing/avatar_key", "", tok, nil).Code)
}

func TestGetCachedRedirects(t *testing.T) {
	e := newTestEnv(t, Config{})
	path := "/api/v1/users/u1/avatar/cache"

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, path, "", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, path, "", e.token(t, "u1"), nil).Code)

	admin := e.token(t, "admin1", RoleAdmin)
	w := e.do(http.MethodGet, path, "", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data domain.CachedRedirectsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u1-abc", body.Data.AvatarKey)
	assert.Len(t, body.Data.Entries, 1)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v1/users/missing/avatar/cache", "", admin, nil).Code)
}

func TestUpdateAvatar(t *testing.T) {
	e := newTestEnv(t, Config{})

	body := `{"type":"attachment","source":"/images/thumbnails/foo.gif"}`
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPut, "/api/v1/users/me/avatar", body, "", nil).Code)

	w := e.do(http.MethodPut, "/api/v1/users/me/avatar", body, e.token(t, "u1"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.Attachment("/images/thumbnails/foo.gif"), e.svc.lastRecord)

	w = e.do(http.MethodPut, "/api/v1/users/me/avatar", `{"source":"x"}`, e.token(t, "u1"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.svc.updateErr = service.ErrInvalidAvatar
	w = e.do(http.MethodPut, "/api/v1/users/me/avatar", `{"type":"attachment","source":"x"}`, e.token(t, "u1"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetAvatar(t *testing.T) {
	e := newTestEnv(t, Config{})

	w := e.do(http.MethodDelete, "/api/v1/users/me/avatar", "", e.token(t, "u1"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.NoAvatar(), e.svc.lastRecord)
}

func TestSetAvatarsEnabled(t *testing.T) {
	e := newTestEnv(t, Config{})
	path := "/api/v1/accounts/acct1/services/avatars"

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, path, `{"enabled":true}`, e.token(t, "u1"), nil).Code)

	admin := e.token(t, "admin1", RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPut, path, `{}`, admin, nil).Code)

	w := e.do(http.MethodPut, path, `{"enabled":false}`, admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, e.svc.lastToggle)
	assert.False(t, *e.svc.lastToggle)

	w = e.do(http.MethodPut, "/api/v1/accounts/missing/services/avatars", `{"enabled":true}`, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
