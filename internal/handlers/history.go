package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/floorwise/collab/internal/history"
	"github.com/floorwise/collab/pkg/errors"
	"github.com/floorwise/collab/pkg/response"
)

// HistoryHandler serves the persisted lock and conflict audit trail.
type HistoryHandler struct {
	recorder *history.Recorder
}

// NewHistoryHandler constructs a history handler. A nil recorder means
// history persistence is disabled and every endpoint answers 404.
func NewHistoryHandler(recorder *history.Recorder) *HistoryHandler {
	return &HistoryHandler{recorder: recorder}
}

// LockEvents lists recorded lock transitions, newest first.
func (h *HistoryHandler) LockEvents(c *gin.Context) {
	if h.recorder == nil {
		response.Error(c, errors.ErrHistoryDisabled)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.recorder.ListLockEvents(c.Request.Context(), strings.TrimSpace(c.Query("resource_id")), limit)
	if err != nil {
		response.Error(c, errors.Wrap(err, "failed to list lock events"))
		return
	}
	response.Success(c, http.StatusOK, rows)
}

// Conflicts lists persisted conflict records, newest first.
func (h *HistoryHandler) Conflicts(c *gin.Context) {
	if h.recorder == nil {
		response.Error(c, errors.ErrHistoryDisabled)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	includeResolved := strings.EqualFold(c.Query("include_resolved"), "true")
	rows, err := h.recorder.ListConflicts(c.Request.Context(), includeResolved, limit)
	if err != nil {
		response.Error(c, errors.Wrap(err, "failed to list conflicts"))
		return
	}
	response.Success(c, http.StatusOK, rows)
}
