// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"perfusion-service/internal/config"
	"perfusion-service/internal/database"
	"perfusion-service/internal/discovery"
	"perfusion-service/internal/eventbus"
	"perfusion-service/internal/handler"
	"perfusion-service/internal/middleware"
	"perfusion-service/internal/service"
	"perfusion-service/internal/transport"
)

// Router holds all dependencies for routing
type Router struct {
	config          *config.Config
	logger          *zap.Logger
	db              *database.DB
	transports      *transport.Manager
	deviceService   *service.DeviceService
	scheduleService *service.ScheduleService
	scanners        *discovery.ScannerManager
	bus             *eventbus.Bus
}

// NewRouter creates a new router instance. db may be nil when the
// database is disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	transports *transport.Manager,
	deviceService *service.DeviceService,
	scheduleService *service.ScheduleService,
	scanners *discovery.ScannerManager,
	bus *eventbus.Bus,
) *Router {
	return &Router{
		config:          config,
		logger:          logger,
		db:              db,
		transports:      transports,
		deviceService:   deviceService,
		scheduleService: scheduleService,
		scanners:        scanners,
		bus:             bus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(r.logger))
	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(
		r.config, r.db, r.transports, r.deviceService, r.scheduleService, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.deviceService, r.logger)
	jobHandler := handler.NewJobHandler(r.scheduleService, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.scanners, r.logger)
	wsHandler := handler.NewWebSocketHandler(r.bus, r.logger)

	// health endpoints sit outside the versioned API
	healthHandler.RegisterRoutes(router.Group(""))

	apiV1 := router.Group("/api/v1")
	deviceHandler.RegisterRoutes(apiV1)
	jobHandler.RegisterRoutes(apiV1)
	discoveryHandler.RegisterRoutes(apiV1)

	wsHandler.RegisterRoutes(router.Group("/ws"))

	r.logger.Info("All routes configured successfully")
}
