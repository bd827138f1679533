// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"perfusion-service/internal/config"
	"perfusion-service/internal/database"
	"perfusion-service/internal/model"
	"perfusion-service/internal/service"
	"perfusion-service/internal/transport"
)

// HealthHandler reports service liveness and component status
type HealthHandler struct {
	cfg        *config.Config
	db         *database.DB
	transports *transport.Manager
	devices    *service.DeviceService
	schedules  *service.ScheduleService
	logger     *zap.Logger
	startedAt  time.Time
}

// NewHealthHandler creates a new health handler. db may be nil when
// the database is disabled.
func NewHealthHandler(
	cfg *config.Config,
	db *database.DB,
	transports *transport.Manager,
	devices *service.DeviceService,
	schedules *service.ScheduleService,
	logger *zap.Logger,
) *HealthHandler {
	return &HealthHandler{
		cfg:        cfg,
		db:         db,
		transports: transports,
		devices:    devices,
		schedules:  schedules,
		logger:     logger.With(zap.String("handler", "health")),
		startedAt:  time.Now(),
	}
}

// RegisterRoutes registers health-related routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.Health)
	router.GET("/health/live", h.Liveness)
}

// Liveness answers as long as the process serves HTTP
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Health reports overall service health with per-component detail
func (h *HealthHandler) Health(c *gin.Context) {
	healthy := true
	components := gin.H{}

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			healthy = false
			components["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
		} else {
			components["database"] = gin.H{"status": "healthy"}
		}
	} else {
		components["database"] = gin.H{"status": "disabled"}
	}

	devices := h.devices.ListDevices(c.Request.Context())
	connected, errored := 0, 0
	for _, dev := range devices {
		switch dev.Status {
		case model.DeviceStatusConnected:
			connected++
		case model.DeviceStatusError:
			errored++
		}
	}
	components["devices"] = gin.H{
		"registered": len(devices),
		"connected":  connected,
		"errored":    errored,
	}

	jobs := h.schedules.ListJobs(c.Request.Context())
	active := 0
	for _, job := range jobs {
		if !job.State.IsTerminal() {
			active++
		}
	}
	components["scheduler"] = gin.H{
		"jobs":   len(jobs),
		"active": active,
	}

	components["transports"] = gin.H{
		"open_ports": h.transports.OpenPorts(),
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":     status,
		"service":    h.cfg.App.Name,
		"version":    h.cfg.App.Version,
		"uptime":     time.Since(h.startedAt).String(),
		"components": components,
		"timestamp":  time.Now(),
	})
}
