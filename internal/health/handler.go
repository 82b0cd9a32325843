package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler serves the health endpoints.
type Handler struct {
	aggregator *Aggregator
	startTime  time.Time
	version    string
}

// NewHandler creates a new health handler.
func NewHandler(aggregator *Aggregator, version string) *Handler {
	return &Handler{
		aggregator: aggregator,
		startTime:  time.Now(),
		version:    version,
	}
}

// HealthHandler serves the aggregated report. It always answers 200;
// callers read the status from the body.
func (h *Handler) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.aggregator.Aggregate(c.Request.Context()))
	}
}

// LivenessHandler reports that the process is up without probing anything.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"version":   h.version,
			"uptime":    time.Since(h.startTime).Round(time.Second).String(),
			"timestamp": time.Now().UTC(),
		})
	}
}

// RegisterRoutes registers the health routes on a Gin engine.
func (h *Handler) RegisterRoutes(engine *gin.Engine, healthPath string) {
	engine.GET(healthPath, h.HealthHandler())
	engine.GET("/healthz", h.LivenessHandler())
}
