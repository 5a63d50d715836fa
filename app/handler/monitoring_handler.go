package handler

import (
	"net/http"
	"strconv"
	"time"

	"trainops/internal/service"
	"trainops/pkg/alerts"

	"github.com/gin-gonic/gin"
)

// MonitoringHandler handles monitoring API requests
type MonitoringHandler struct {
	monitoringService *service.MonitoringService
}

// NewMonitoringHandler creates a new monitoring handler
func NewMonitoringHandler(monitoringService *service.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{monitoringService: monitoringService}
}

// Query dispatches monitoring reads on the action parameter
// GET /api/monitoring?action=health|alerts|metrics|dashboard
func (h *MonitoringHandler) Query(c *gin.Context) {
	switch c.DefaultQuery("action", "dashboard") {
	case "health":
		c.JSON(http.StatusOK, h.monitoringService.Health())
	case "alerts":
		c.JSON(http.StatusOK, gin.H{
			"alerts":    h.monitoringService.ActiveAlerts(),
			"timestamp": time.Now(),
		})
	case "metrics":
		h.queryMetrics(c)
	case "dashboard":
		c.JSON(http.StatusOK, h.monitoringService.Dashboard(c.Request.Context()))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action: " + c.Query("action")})
	}
}

// queryMetrics returns either the latest snapshot or, when a metric key is
// given, that key's recent history.
func (h *MonitoringHandler) queryMetrics(c *gin.Context) {
	key := c.Query("metric")
	if key == "" {
		c.JSON(http.StatusOK, h.monitoringService.Metrics())
		return
	}

	minutes := 60
	if raw := c.Query("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a positive integer"})
			return
		}
		minutes = n
	}

	c.JSON(http.StatusOK, gin.H{
		"metric":  key,
		"minutes": minutes,
		"points":  h.monitoringService.MetricHistory(key, minutes),
	})
}

// MutateRequest is the write-action envelope for the monitoring endpoint.
type MutateRequest struct {
	Action string `json:"action" binding:"required"`

	// resolve_alert
	AlertID string `json:"alertId"`

	// create_alert
	Type     string `json:"type"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Source   string `json:"source"`

	// add_metric
	Metric   string                 `json:"metric"`
	Value    *float64               `json:"value"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Mutate dispatches monitoring writes on the action field
// POST /api/monitoring
func (h *MonitoringHandler) Mutate(c *gin.Context) {
	var req MutateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	switch req.Action {
	case "resolve_alert":
		if req.AlertID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "alertId is required"})
			return
		}
		if !h.monitoringService.ResolveAlert(req.AlertID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found or already resolved: " + req.AlertID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"resolved": true, "alert_id": req.AlertID})

	case "create_alert":
		id, err := h.monitoringService.CreateAlert(alerts.AlertType(req.Type), req.Category, req.Title, req.Message, req.Source)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alert_id": id})

	case "add_metric":
		if req.Metric == "" || req.Value == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metric and value are required"})
			return
		}
		if err := h.monitoringService.AddMetric(req.Metric, *req.Value, req.Metadata); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"recorded": true, "metric": req.Metric})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action: " + req.Action})
	}
}
