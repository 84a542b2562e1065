package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Darkvarin/Learnyzer-sub003/internal/battle"
	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/response"
)

// HealthHandler reports process liveness plus a coarse view of the live load.
type HealthHandler struct {
	db       *gorm.DB
	manager  *battle.Manager
	registry *realtime.Registry
}

// NewHealthHandler constructs the health endpoint.
func NewHealthHandler(db *gorm.DB, manager *battle.Manager, registry *realtime.Registry) *HealthHandler {
	return &HealthHandler{
		db:       db,
		manager:  manager,
		registry: registry,
	}
}

// Health returns ok when the process and its database are reachable.
func (h *HealthHandler) Health(c *gin.Context) {
	status := gin.H{
		"status":      "ok",
		"connections": 0,
		"battles":     0,
	}
	if h.registry != nil {
		status["connections"] = h.registry.Count()
	}
	if h.manager != nil {
		status["battles"] = h.manager.Count()
	}

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			response.Success(c, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}

	response.Success(c, http.StatusOK, status)
}
