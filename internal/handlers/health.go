package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/floorwise/collab/internal/collab"
	"github.com/floorwise/collab/pkg/response"
)

// Health returns a simple status payload useful for readiness checks.
func Health(coordinator *collab.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{
			"status":          "ok",
			"connected_users": coordinator.ConnectedUsers(),
		})
	}
}
