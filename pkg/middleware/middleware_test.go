package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"apextrade-backend/pkg/errutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, maintenance bool) *gin.Engine {
	t.Helper()
	e, err := NewEnforcer(nil)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Role("secret"), Error())
	api := r.Group("/api", Maintenance(func(context.Context) (bool, error) { return maintenance, nil }), Authorize(e))
	api.GET("/investments/:id", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"id": c.Param("id")}) })
	api.POST("/investments", func(c *gin.Context) { c.Status(http.StatusCreated) })
	api.GET("/admin/events", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{}) })
	api.GET("/admin/fail", func(c *gin.Context) { _ = c.Error(errutil.OtpExpired("code expired", nil)) })
	api.GET("/admin/panic", func(c *gin.Context) { _ = c.Error(errors.New("plain")) })
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(AdminTokenHeader, token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthorize(t *testing.T) {
	r := newRouter(t, false)

	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/investments/inv_1", "").Code)
	require.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/api/admin/events", "").Code)
	require.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/api/admin/events", "wrong").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/admin/events", "secret").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/investments/inv_1", "secret").Code)
}

func TestErrorRendersBaseError(t *testing.T) {
	r := newRouter(t, false)
	w := do(r, http.MethodGet, "/api/admin/fail", "secret")
	require.Equal(t, http.StatusGone, w.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, string(errutil.StatusOtpExpired), body.Error.Code)
	require.Equal(t, "code expired", body.Error.Message)

	require.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/api/admin/panic", "secret").Code)
}

func TestMaintenance(t *testing.T) {
	r := newRouter(t, true)
	require.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodPost, "/api/investments", "").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/investments/inv_1", "").Code)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/investments", "secret").Code)
}

func TestDeriveRole(t *testing.T) {
	require.Equal(t, RoleClient, deriveRole("", ""))
	require.Equal(t, RoleClient, deriveRole("x", ""))
	require.Equal(t, RoleAdmin, deriveRole("x", "x"))
}
