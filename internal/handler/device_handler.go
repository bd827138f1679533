// internal/handler/device_handler.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfusion-service/internal/device"
	"perfusion-service/internal/model"
	"perfusion-service/internal/service"
	"perfusion-service/internal/transport"
	"perfusion-service/internal/utils"
)

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	deviceService *service.DeviceService
	logger        *zap.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *service.DeviceService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		logger:        logger.With(zap.String("handler", "device")),
	}
}

// RegisterRoutes registers device-related routes
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	devices := router.Group("/devices")
	{
		devices.POST("", h.RegisterDevice)
		devices.GET("", h.ListDevices)

		deviceRoutes := devices.Group("/:id")
		{
			deviceRoutes.GET("", h.GetDevice)
			deviceRoutes.DELETE("", h.DeleteDevice)
			deviceRoutes.POST("/connect", h.ConnectDevice)
			deviceRoutes.POST("/disconnect", h.DisconnectDevice)
			deviceRoutes.POST("/ping", h.PingDevice)
			deviceRoutes.POST("/operations", h.ExecuteOperation)
			deviceRoutes.GET("/operations", h.ListDeviceOperations)
		}
	}

	operations := router.Group("/operations")
	{
		operations.GET("", h.ListRecentOperations)
	}
}

// RegisterDevice registers a new device
func (h *DeviceHandler) RegisterDevice(c *gin.Context) {
	var req service.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dev, err := h.deviceService.RegisterDevice(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to register device", zap.Error(err))
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to register device", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Device registered successfully", dev)
}

// ListDevices lists all registered devices
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices := h.deviceService.ListDevices(c.Request.Context())
	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved successfully", gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// GetDevice retrieves device by ID
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	id, ok := deviceID(c)
	if !ok {
		return
	}

	dev, err := h.deviceService.GetDevice(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device retrieved successfully", dev)
}

// DeleteDevice disconnects and removes a device
func (h *DeviceHandler) DeleteDevice(c *gin.Context) {
	id, ok := deviceID(c)
	if !ok {
		return
	}

	if err := h.deviceService.DeleteDevice(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to delete device", zap.Error(err), zap.String("device_id", id.String()))
		utils.ErrorResponse(c, http.StatusNotFound, "Failed to delete device", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device deleted successfully", gin.H{"device_id": id})
}

// ConnectDevice opens the device's serial connection and verifies it
func (h *DeviceHandler) ConnectDevice(c *gin.Context) {
	id, ok := deviceID(c)
	if !ok {
		return
	}

	if err := h.deviceService.ConnectDevice(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to connect device", zap.Error(err), zap.String("device_id", id.String()))
		utils.ErrorResponse(c, deviceErrorStatus(err), "Failed to connect device", err)
		return
	}

	dev, err := h.deviceService.GetDevice(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device connected successfully", dev)
}

// DisconnectDevice closes the device's serial connection
func (h *DeviceHandler) DisconnectDevice(c *gin.Context) {
	id, ok := deviceID(c)
	if !ok {
		return
	}

	if err := h.deviceService.DisconnectDevice(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to disconnect device", zap.Error(err), zap.String("device_id", id.String()))
		utils.ErrorResponse(c, http.StatusNotFound, "Failed to disconnect device", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device disconnected successfully", gin.H{"device_id": id})
}

// PingDevice checks the device is still responsive on the wire
func (h *DeviceHandler) PingDevice(c *gin.Context) {
	id, ok := deviceID(c)
	if !ok {
		return
	}

	if err := h.deviceService.PingDevice(c.Request.Context(), id); err != nil {
		utils.ErrorResponse(c, deviceErrorStatus(err), "Device ping failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device is responsive", gin.H{"device_id": id})
}

// ExecuteOperation runs a single operation against a connected device
func (h *DeviceHandler) ExecuteOperation(c *gin.Context) {
	id, ok := deviceID(c)
	if !ok {
		return
	}

	var op model.Operation
	if err := c.ShouldBindJSON(&op); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if op.Type == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Operation type is required", nil)
		return
	}

	result, err := h.deviceService.ExecuteOperation(c.Request.Context(), id, &op)
	if err != nil {
		h.logger.Error("Operation failed",
			zap.Error(err),
			zap.String("device_id", id.String()),
			zap.String("operation", string(op.Type)),
		)
		utils.ErrorResponse(c, deviceErrorStatus(err), "Operation failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Operation completed successfully", gin.H{
		"device_id": id,
		"operation": op.Type,
		"result":    result,
	})
}

// ListDeviceOperations returns the audit trail for one device
func (h *DeviceHandler) ListDeviceOperations(c *gin.Context) {
	id, ok := deviceID(c)
	if !ok {
		return
	}

	entries, err := h.deviceService.ListDeviceOperations(c.Request.Context(), id, limitParam(c))
	if err != nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Operation audit unavailable", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Operations retrieved successfully", gin.H{
		"device_id":  id,
		"operations": entries,
	})
}

// ListRecentOperations returns the latest audit entries across devices
func (h *DeviceHandler) ListRecentOperations(c *gin.Context) {
	entries, err := h.deviceService.ListRecentOperations(c.Request.Context(), limitParam(c))
	if err != nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Operation audit unavailable", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Operations retrieved successfully", gin.H{
		"operations": entries,
	})
}

// deviceID parses the :id path parameter, writing the error response
// itself when the ID is malformed
func deviceID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid device ID", err)
		return uuid.Nil, false
	}
	return id, true
}

// deviceErrorStatus maps device failures to HTTP status codes. A
// silent device is a gateway timeout; everything else is a bad request
// from the caller's point of view.
func deviceErrorStatus(err error) int {
	var devErr *device.Error
	if errors.As(err, &devErr) || errors.Is(err, transport.ErrTimeout) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadRequest
}
