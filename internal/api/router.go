package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/Darkvarin/Learnyzer-sub003/internal/app"
	iauth "github.com/Darkvarin/Learnyzer-sub003/internal/auth"
	"github.com/Darkvarin/Learnyzer-sub003/internal/battle"
	"github.com/Darkvarin/Learnyzer-sub003/internal/handlers"
	"github.com/Darkvarin/Learnyzer-sub003/internal/middleware"
	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	"github.com/Darkvarin/Learnyzer-sub003/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers the battle
// management routes plus the websocket entry point.
func NewRouter(
	db *gorm.DB,
	jwt *iauth.JWTService,
	cfg *app.Config,
	registry *realtime.Registry,
	manager *battle.Manager,
	results *services.BattleResultService,
) (*gin.Engine, error) {
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if registry == nil {
		return nil, fmt.Errorf("connection registry must be provided")
	}
	if manager == nil {
		return nil, fmt.Errorf("battle manager must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	healthHandler := handlers.NewHealthHandler(db, manager, registry)
	r.GET("/health", healthHandler.Health)

	// Websocket entry. Auth happens inside the handler because browsers
	// cannot attach headers to websocket dials.
	streamHandler := handlers.NewStreamHandler(registry, manager, jwt)
	r.GET("/ws/battles", streamHandler.Stream)

	requireAuth := middleware.Auth(jwt)

	battleHandler := handlers.NewBattleHandler(manager, results)
	battles := r.Group("/api/battles")
	battles.Use(requireAuth)
	{
		battles.POST("", battleHandler.Create)
		battles.POST("/:id/start", battleHandler.Start)
		battles.POST("/:id/abort", battleHandler.Abort)
		battles.GET("/:id/progress", battleHandler.Progress)
		battles.GET("/:id/members", battleHandler.Members)
		battles.GET("/:id/result", battleHandler.Result)
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
