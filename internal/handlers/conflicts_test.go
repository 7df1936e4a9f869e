package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/floorwise/collab/internal/collab"
	"github.com/floorwise/collab/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopSink struct{}

func (nopSink) Send(collab.Event) error { return nil }
func (nopSink) Close() error            { return nil }

func newConflictRouter(coordinator *collab.Coordinator) *gin.Engine {
	r := gin.New()
	handler := NewConflictHandler(coordinator)
	r.POST("/api/conflicts", handler.Report)
	r.GET("/api/conflicts", handler.List)
	return r
}

func performJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestReportConflictEndpoint(t *testing.T) {
	coordinator := collab.NewCoordinator(collab.CoordinatorOptions{})
	require.NoError(t, coordinator.Connect("u1", "Alice", nopSink{}))
	require.NoError(t, coordinator.Connect("u2", "Bob", nopSink{}))
	router := newConflictRouter(coordinator)

	rec := performJSON(router, http.MethodPost, "/api/conflicts", `{
		"resource_id": "floor-1",
		"conflict_type": "concurrent_edit",
		"severity": "high",
		"user_a": "u1",
		"user_b": "u2",
		"description": "both edited wall 14"
	}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, data["conflict_id"])
	require.Equal(t, "high", data["severity"])
	require.Equal(t, false, data["resolved"])
}

func TestReportConflictValidation(t *testing.T) {
	coordinator := collab.NewCoordinator(collab.CoordinatorOptions{})
	router := newConflictRouter(coordinator)

	cases := map[string]string{
		"missing resource": `{"conflict_type":"concurrent_edit","severity":"low","user_a":"u1","user_b":"u2"}`,
		"bad severity":     `{"resource_id":"floor-1","conflict_type":"concurrent_edit","severity":"urgent","user_a":"u1","user_b":"u2"}`,
		"same users":       `{"resource_id":"floor-1","conflict_type":"concurrent_edit","severity":"low","user_a":"u1","user_b":"u1"}`,
		"malformed body":   `{"resource_id":`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := performJSON(router, http.MethodPost, "/api/conflicts", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListConflictsEndpoint(t *testing.T) {
	coordinator := collab.NewCoordinator(collab.CoordinatorOptions{})
	_, err := coordinator.ReportConflict(collab.ConflictReport{
		ResourceID: "floor-1",
		Severity:   collab.SeverityLow,
		UserA:      "u1",
		UserB:      "u2",
	})
	require.NoError(t, err)
	resolved, err := coordinator.ReportConflict(collab.ConflictReport{
		ResourceID: "floor-2",
		Severity:   collab.SeverityHigh,
		UserA:      "u1",
		UserB:      "u3",
	})
	require.NoError(t, err)
	router := newConflictRouter(coordinator)

	// Resolve one so the filters have something to distinguish.
	coordinator.HandleMessage("u1", []byte(`{"type":"resolve_conflict","conflict_id":"`+resolved.ID+`","resolution":"done"}`))

	rec := performJSON(router, http.MethodGet, "/api/conflicts", "")
	var resp response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	open, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, open, 1)

	rec = performJSON(router, http.MethodGet, "/api/conflicts?include_resolved=true", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	all, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, all, 2)

	rec = performJSON(router, http.MethodGet, "/api/conflicts?resource_id=floor-1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	filtered, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, filtered, 1)
}
