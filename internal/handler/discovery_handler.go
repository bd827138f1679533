// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"perfusion-service/internal/discovery"
	"perfusion-service/internal/utils"
)

// DiscoveryHandler handles hardware discovery HTTP requests
type DiscoveryHandler struct {
	scanners *discovery.ScannerManager
	logger   *zap.Logger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(scanners *discovery.ScannerManager, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		scanners: scanners,
		logger:   logger.With(zap.String("handler", "discovery")),
	}
}

// RegisterRoutes registers discovery-related routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	disc := router.Group("/discovery")
	{
		disc.GET("/ports", h.ListPorts)
		disc.GET("/scanners", h.ListScanners)
		disc.POST("/scan", h.Scan)
		disc.POST("/scan/:type", h.ScanByType)
	}
}

// ListPorts enumerates serial ports visible to the host
func (h *DiscoveryHandler) ListPorts(c *gin.Context) {
	ports, err := serial.GetPortsList()
	if err != nil {
		h.logger.Error("Failed to enumerate serial ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to enumerate serial ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Serial ports retrieved successfully", gin.H{
		"ports": ports,
		"count": len(ports),
	})
}

// ListScanners lists the scanner types ready to run on this host
func (h *DiscoveryHandler) ListScanners(c *gin.Context) {
	available := h.scanners.GetAvailableScanners()
	utils.SuccessResponse(c, http.StatusOK, "Scanners retrieved successfully", gin.H{
		"scanners": available,
	})
}

// Scan runs every available scanner and returns the merged results
func (h *DiscoveryHandler) Scan(c *gin.Context) {
	devices, err := h.scanners.ScanAll(c.Request.Context())
	if err != nil {
		h.logger.Error("Discovery scan failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Discovery scan failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Scan completed successfully", gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// ScanByType runs one named scanner
func (h *DiscoveryHandler) ScanByType(c *gin.Context) {
	scannerType := c.Param("type")
	devices, err := h.scanners.ScanByType(c.Request.Context(), scannerType)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Scan failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Scan completed successfully", gin.H{
		"scanner": scannerType,
		"devices": devices,
		"count":   len(devices),
	})
}
