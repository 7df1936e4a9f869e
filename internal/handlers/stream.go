package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/floorwise/collab/internal/auth"
	"github.com/floorwise/collab/internal/realtime"
	"github.com/floorwise/collab/pkg/errors"
	"github.com/floorwise/collab/pkg/response"
)

// StreamHandler upgrades HTTP connections into collaboration WebSocket
// sessions. Identity comes from a signed token when auth is enabled, or from
// plain query parameters in development mode.
type StreamHandler struct {
	hub *realtime.Hub
	jwt *iauth.JWTService
}

// NewStreamHandler constructs a stream handler. A nil JWT service disables
// token validation.
func NewStreamHandler(hub *realtime.Hub, jwt *iauth.JWTService) *StreamHandler {
	return &StreamHandler{hub: hub, jwt: jwt}
}

// Stream validates the caller's identity and hands the request to the hub.
func (h *StreamHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	userID, displayName, err := h.identity(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.hub.Serve(userID, displayName, c.Writer, c.Request)
}

func (h *StreamHandler) identity(c *gin.Context) (userID, displayName string, err error) {
	if h.jwt == nil {
		userID = strings.TrimSpace(c.Query("user_id"))
		if userID == "" {
			return "", "", errors.NewBadRequest("user_id query parameter is required")
		}
		displayName = strings.TrimSpace(c.Query("display_name"))
		if displayName == "" {
			displayName = userID
		}
		return userID, displayName, nil
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}
	if token == "" {
		return "", "", errors.ErrUnauthorized
	}

	claims, validateErr := h.jwt.ValidateToken(token)
	if validateErr != nil {
		return "", "", errors.ErrUnauthorized
	}

	displayName = claims.DisplayName
	if displayName == "" {
		displayName = claims.UserID
	}
	return claims.UserID, displayName, nil
}
