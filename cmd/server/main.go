// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"perfusion-service/internal/config"
	"perfusion-service/internal/database"
	"perfusion-service/internal/discovery"
	serialscan "perfusion-service/internal/discovery/serial"
	usbscan "perfusion-service/internal/discovery/usb"
	"perfusion-service/internal/driver"
	"perfusion-service/internal/eventbus"
	"perfusion-service/internal/repository"
	"perfusion-service/internal/routes"
	"perfusion-service/internal/scheduler"
	"perfusion-service/internal/service"
	"perfusion-service/internal/transport"
	"perfusion-service/internal/utils"
)

// Application wires the service together: serial transports, device
// drivers, the job scheduler, discovery, and the HTTP surface
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	transports *transport.Manager
	registry   *driver.Registry
	bus        *eventbus.Bus
	sched      *scheduler.Scheduler
	scanners   *discovery.ScannerManager

	deviceService   *service.DeviceService
	scheduleService *service.ScheduleService

	runRepo   repository.RunRepository
	auditRepo repository.OperationLogRepository

	bgCtx    context.Context
	bgCancel context.CancelFunc
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting service",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	app := &Application{
		config:   cfg,
		logger:   logger,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initializeCore(); err != nil {
		return nil, fmt.Errorf("failed to initialize core components: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase connects to the optional run-history database and
// runs migrations. With database.enabled=false the service runs fully
// in-memory.
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, run history will not be persisted")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(db, app.logger)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.runRepo = repository.NewRunRepository(db, app.logger)
	app.auditRepo = repository.NewOperationLogRepository(db, app.logger)

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeCore sets up the transport manager, driver registry, event
// bus, scheduler, and discovery scanners
func (app *Application) initializeCore() error {
	app.transports = transport.NewManager(app.logger)

	app.registry = driver.NewRegistry(app.logger)
	driver.RegisterDefaultDrivers(app.registry, app.logger)
	app.logger.Info("Driver registry initialized",
		zap.Int("registered_drivers", len(app.registry.SupportedKinds())),
	)

	app.bus = eventbus.New(app.logger)
	go app.bus.Start()

	app.sched = scheduler.New(scheduler.Config{
		Tick:           app.config.Scheduler.Tick,
		DefaultTimeout: app.config.Scheduler.DefaultTimeout,
	}, app.logger)

	app.scanners = discovery.NewScannerManager(app.logger)
	app.scanners.RegisterScanner(serialscan.NewScanner(app.logger, nil))
	app.scanners.RegisterScanner(usbscan.NewScanner(app.logger))

	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.deviceService = service.NewDeviceService(
		app.transports,
		app.registry,
		app.bus,
		app.auditRepo,
		app.config,
		app.logger,
	)

	app.scheduleService = service.NewScheduleService(
		app.sched,
		app.deviceService,
		app.bus,
		app.runRepo,
		app.config,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.transports,
		app.deviceService,
		app.scheduleService,
		app.scanners,
		app.bus,
	)

	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.Server.Addr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.Server.Addr()),
	)
	return nil
}

// Start runs the service until a shutdown signal arrives
func (app *Application) Start() error {
	if err := app.scheduleService.Start(app.bgCtx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go app.deviceService.RunHeartbeat(app.bgCtx)

	if app.auditRepo != nil && app.config.Database.RunRetention > 0 {
		go app.startAuditCleanup()
	}

	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.waitForShutdown()
	return nil
}

// startAuditCleanup prunes the operation audit trail on the configured
// retention window, once an hour
func (app *Application) startAuditCleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-app.bgCtx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-app.config.Database.RunRetention)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := app.auditRepo.DeleteOldEntries(ctx, cutoff); err != nil {
				app.logger.Error("Audit cleanup failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// waitForShutdown blocks on SIGINT/SIGTERM, then shuts down gracefully
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown stops the HTTP server first so no new work arrives, then
// winds down the scheduler, devices, event bus, and database
func (app *Application) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// stops the scheduler loop, waits for in-flight runs, drains the
	// run-history writer
	app.scheduleService.Stop()

	app.bgCancel()

	app.deviceService.Shutdown(ctx)

	app.bus.Stop()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")
	app.logger.Sync()
}
