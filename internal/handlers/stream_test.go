package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/floorwise/collab/internal/auth"
	"github.com/floorwise/collab/internal/collab"
	"github.com/floorwise/collab/internal/realtime"
)

func newStreamRouter(t *testing.T, jwt *iauth.JWTService) *gin.Engine {
	t.Helper()
	coordinator := collab.NewCoordinator(collab.CoordinatorOptions{})
	hub := realtime.NewHub(coordinator)
	r := gin.New()
	r.GET("/ws", NewStreamHandler(hub, jwt).Stream)
	return r
}

func TestStreamDevModeRequiresUserID(t *testing.T) {
	router := newStreamRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamRejectsMissingToken(t *testing.T) {
	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)
	router := newStreamRouter(t, jwt)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?user_id=u1", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamRejectsInvalidToken(t *testing.T) {
	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)
	router := newStreamRouter(t, jwt)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token=not-a-token", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamAcceptsBearerHeader(t *testing.T) {
	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)
	token, err := jwt.GenerateToken("u1", "Alice")
	require.NoError(t, err)
	router := newStreamRouter(t, jwt)

	// Identity passes; the upgrade itself fails because this is not a
	// websocket handshake, which surfaces as a 400 from the upgrader.
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
