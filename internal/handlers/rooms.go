package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/floorwise/collab/internal/collab"
	"github.com/floorwise/collab/pkg/errors"
	"github.com/floorwise/collab/pkg/response"
)

// RoomHandler exposes read-only views of the live engine state.
type RoomHandler struct {
	coordinator *collab.Coordinator
}

// NewRoomHandler constructs a room handler.
func NewRoomHandler(coordinator *collab.Coordinator) *RoomHandler {
	return &RoomHandler{coordinator: coordinator}
}

// Get returns a live snapshot of one room: members, presence, and locks.
func (h *RoomHandler) Get(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("id"))
	if roomID == "" {
		response.Error(c, errors.NewBadRequest("room id is required"))
		return
	}
	response.Success(c, http.StatusOK, h.coordinator.Room(roomID))
}

// Locks returns every unexpired lock in the system.
func (h *RoomHandler) Locks(c *gin.Context) {
	response.Success(c, http.StatusOK, h.coordinator.ActiveLocks())
}
