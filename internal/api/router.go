package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/floorwise/collab/internal/app"
	iauth "github.com/floorwise/collab/internal/auth"
	"github.com/floorwise/collab/internal/collab"
	"github.com/floorwise/collab/internal/handlers"
	"github.com/floorwise/collab/internal/history"
	"github.com/floorwise/collab/internal/middleware"
	"github.com/floorwise/collab/internal/realtime"
)

// NewRouter builds the Gin engine, wires middleware, and registers the
// websocket entry point and REST routes. The recorder and jwt service may be
// nil when the corresponding feature is disabled.
func NewRouter(cfg *app.Config, coordinator *collab.Coordinator, jwt *iauth.JWTService, recorder *history.Recorder) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(coordinator))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	hub := realtime.NewHub(coordinator)
	stream := handlers.NewStreamHandler(hub, jwt)
	r.GET("/ws", stream.Stream)

	roomHandler := handlers.NewRoomHandler(coordinator)
	conflictHandler := handlers.NewConflictHandler(coordinator)
	historyHandler := handlers.NewHistoryHandler(recorder)

	api := r.Group("/api")
	{
		api.GET("/rooms/:id", roomHandler.Get)
		api.GET("/locks", roomHandler.Locks)

		api.GET("/conflicts", conflictHandler.List)
		api.POST("/conflicts", conflictHandler.Report)

		api.GET("/history/locks", historyHandler.LockEvents)
		api.GET("/history/conflicts", historyHandler.Conflicts)
	}

	return r, nil
}
