// Package api serves a read-only HTTP view of devices, snapshots and run history.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bueste/switchbackup/internal/audit"
	"github.com/bueste/switchbackup/internal/backup"
	"github.com/bueste/switchbackup/pkg/models"
)

// DeviceLister returns the configured devices
type DeviceLister interface {
	ListDevices() ([]models.DeviceProfile, error)
}

// Handler contains all API handlers
type Handler struct {
	devices  DeviceLister
	store    *backup.Store
	history  *audit.Service
	registry prometheus.Gatherer
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	devices DeviceLister,
	store *backup.Store,
	history *audit.Service,
	registry prometheus.Gatherer,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		devices:  devices,
		store:    store,
		history:  history,
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.HealthCheck)
	if h.registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/api/v1")

	devices := v1.Group("/devices")
	devices.GET("", h.ListDevices)
	devices.GET("/:alias/snapshots", h.ListSnapshots)
	devices.GET("/:alias/snapshots/latest", h.GetLatestSnapshot)
	devices.GET("/:alias/snapshots/:name", h.GetSnapshot)

	v1.GET("/runs", h.ListRuns)
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// DeviceView is a configured device with its snapshot summary
type DeviceView struct {
	models.DeviceProfile
	Snapshots int              `json:"snapshots"`
	Latest    *models.Snapshot `json:"latest,omitempty"`
}

// ListDevices lists configured devices
func (h *Handler) ListDevices(c echo.Context) error {
	devices, err := h.devices.ListDevices()
	if err != nil {
		return h.fail(c, err)
	}

	views := make([]DeviceView, 0, len(devices))
	configured := make(map[string]bool, len(devices))
	for _, d := range devices {
		configured[backup.SafeAlias(d.Alias)] = true
		snapshots, err := h.store.List(d.Alias)
		if err != nil {
			return h.fail(c, err)
		}
		view := DeviceView{DeviceProfile: d, Snapshots: len(snapshots)}
		if len(snapshots) > 0 {
			view.Latest = &snapshots[0]
		}
		views = append(views, view)
	}

	// Backups left behind by devices removed from the device list
	stored, err := h.store.Aliases()
	if err != nil {
		return h.fail(c, err)
	}
	orphaned := []string{}
	for _, alias := range stored {
		if !configured[alias] {
			orphaned = append(orphaned, alias)
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"devices":  views,
		"total":    len(views),
		"orphaned": orphaned,
	})
}

// ListSnapshots lists the stored snapshots of a device, newest first
func (h *Handler) ListSnapshots(c echo.Context) error {
	alias := c.Param("alias")
	snapshots, err := h.store.List(alias)
	if err != nil {
		return h.fail(c, err)
	}
	if len(snapshots) == 0 && !h.isConfigured(alias) {
		return c.JSON(http.StatusNotFound, models.NewErrorResponse(models.NewDeviceNotFoundError(alias)))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"alias":     alias,
		"snapshots": snapshots,
		"total":     len(snapshots),
	})
}

// GetLatestSnapshot returns the newest snapshot with content
func (h *Handler) GetLatestSnapshot(c echo.Context) error {
	alias := c.Param("alias")
	snap, err := h.store.Latest(alias)
	if errors.Is(err, models.ErrNoBackup) {
		return c.JSON(http.StatusNotFound, models.NewErrorResponse(models.NewSnapshotNotFoundError(alias, "latest")))
	}
	if err != nil {
		return h.fail(c, err)
	}
	return h.writeSnapshot(c, snap)
}

// GetSnapshot returns one snapshot by file name
func (h *Handler) GetSnapshot(c echo.Context) error {
	alias, name := c.Param("alias"), c.Param("name")
	snap, err := h.store.Read(alias, name)
	if errors.Is(err, models.ErrNoBackup) {
		return c.JSON(http.StatusNotFound, models.NewErrorResponse(models.NewSnapshotNotFoundError(alias, name)))
	}
	if err != nil {
		return h.fail(c, err)
	}
	return h.writeSnapshot(c, snap)
}

func (h *Handler) writeSnapshot(c echo.Context, snap *models.Snapshot) error {
	if c.QueryParam("format") == "raw" {
		return c.String(http.StatusOK, snap.Content)
	}
	return c.JSON(http.StatusOK, snap)
}

// ListRuns returns recent run records
func (h *Handler) ListRuns(c echo.Context) error {
	filter := audit.Filter{Alias: c.QueryParam("alias")}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return c.JSON(http.StatusBadRequest, models.NewErrorResponse(
				models.NewAPIError(models.CodeInvalidRequest, "limit must be a positive integer"),
			))
		}
		filter.Limit = limit
	}

	records, err := h.history.Recent(c.Request().Context(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	if records == nil {
		records = []*models.RunRecord{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  records,
		"total": len(records),
	})
}

func (h *Handler) isConfigured(alias string) bool {
	devices, err := h.devices.ListDevices()
	if err != nil {
		return false
	}
	for _, d := range devices {
		if d.Alias == alias {
			return true
		}
	}
	return false
}

func (h *Handler) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNoBackup):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidName):
		status = http.StatusBadRequest
	default:
		h.logger.Error("api request failed", zap.String("path", c.Path()), zap.Error(err))
	}

	apiErr := models.NewAPIError(models.CodeFor(err), http.StatusText(status)).WithInner(err)
	if errors.Is(err, models.ErrInvalidName) {
		apiErr.Code = models.CodeInvalidRequest
	}
	return c.JSON(status, models.NewErrorResponse(apiErr.WithDetail("error", err.Error())))
}
