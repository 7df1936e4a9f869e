package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/floorwise/collab/internal/collab"
	"github.com/floorwise/collab/pkg/errors"
	"github.com/floorwise/collab/pkg/response"
	"github.com/floorwise/collab/pkg/validator"
)

// ConflictHandler exposes the conflict lifecycle to external collaborators.
// The diff/analysis component reports detected conflicts here; resolution
// happens over the websocket protocol.
type ConflictHandler struct {
	coordinator *collab.Coordinator
}

// NewConflictHandler constructs a conflict handler.
func NewConflictHandler(coordinator *collab.Coordinator) *ConflictHandler {
	return &ConflictHandler{coordinator: coordinator}
}

type reportConflictRequest struct {
	ResourceID   string `json:"resource_id" validate:"required"`
	ConflictType string `json:"conflict_type" validate:"required"`
	Severity     string `json:"severity" validate:"required,oneof=low medium high critical"`
	UserA        string `json:"user_a" validate:"required"`
	UserB        string `json:"user_b" validate:"required,nefield=UserA"`
	Description  string `json:"description"`
}

// Report records an externally detected conflict and notifies the two
// involved users.
func (h *ConflictHandler) Report(c *gin.Context) {
	var req reportConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest("invalid request body"))
		return
	}
	if err := validator.ValidateStruct(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	severity, err := collab.ParseSeverity(req.Severity)
	if err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	conflict, err := h.coordinator.ReportConflict(collab.ConflictReport{
		ResourceID:   req.ResourceID,
		ConflictType: req.ConflictType,
		Severity:     severity,
		UserA:        req.UserA,
		UserB:        req.UserB,
		Description:  req.Description,
	})
	if err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	response.Success(c, http.StatusCreated, conflict)
}

// List returns tracked conflicts, optionally filtered by resource id. Pass
// include_resolved=true to include resolved records.
func (h *ConflictHandler) List(c *gin.Context) {
	opts := collab.ListOptions{
		ResourceID:      strings.TrimSpace(c.Query("resource_id")),
		IncludeResolved: strings.EqualFold(c.Query("include_resolved"), "true"),
	}
	response.Success(c, http.StatusOK, h.coordinator.Conflicts(opts))
}
