package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/tiergate/internal/health"
	"github.com/vyrodovalexey/tiergate/internal/middleware"
	"github.com/vyrodovalexey/tiergate/internal/observability"
	"github.com/vyrodovalexey/tiergate/internal/tier"
	"github.com/vyrodovalexey/tiergate/internal/usage"
)

// Management routes. Everything else is handed to the proxy.
const (
	healthPath   = "/health"
	servicesPath = "/gateway/services"
	usagePath    = "/gateway/usage"
)

// Service availability as reported by the services listing.
const (
	serviceAvailable   = "available"
	serviceUnavailable = "unavailable"
)

type policyView struct {
	Window      string `json:"window"`
	MaxRequests int    `json:"maxRequests"`
}

type serviceView struct {
	Name                string     `json:"name"`
	Path                string     `json:"path"`
	Description         string     `json:"description,omitempty"`
	Policy              policyView `json:"policy"`
	Status              string     `json:"status"`
	Circuit             string     `json:"circuit"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
}

type servicesResponse struct {
	Services []serviceView `json:"services"`
	Count    int           `json:"count"`
}

type limitsView struct {
	RequestsPerMinute int  `json:"requestsPerMinute"`
	RequestsPerHour   int  `json:"requestsPerHour"`
	RequestsPerDay    int  `json:"requestsPerDay"`
	Unlimited         bool `json:"unlimited"`
}

type usageResponse struct {
	Identity string       `json:"identity"`
	Date     string       `json:"date"`
	Usage    usage.Counts `json:"usage"`
	Total    int64        `json:"total"`
	Tier     string       `json:"tier"`
	Limits   limitsView   `json:"limits"`
}

func (g *Gateway) newEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	// Proxied paths are forwarded as received.
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	health.NewHandler(g.aggregator, g.version).RegisterRoutes(engine, healthPath)
	engine.GET(servicesPath, g.handleServices)
	engine.GET(usagePath, g.handleUsage)

	if cfg := g.Config(); cfg.Metrics.IsEnabled() {
		engine.GET(cfg.Metrics.Path, gin.WrapH(g.metrics.Handler()))
	}

	engine.NoRoute(gin.WrapH(g.proxy))

	return engine
}

// wrap applies the server middleware. The request id is assigned outside
// recovery so that panic responses carry it.
func (g *Gateway) wrap(h http.Handler) http.Handler {
	return middleware.Chain(h,
		middleware.RequestID(),
		middleware.Recovery(g.logger),
		middleware.ClientIP(middleware.NewClientIPExtractor(g.Config().TrustedProxies)),
		observability.TracingMiddleware(g.tracer),
		observability.MetricsMiddleware(g.metrics),
		middleware.Logging(g.logger),
	)
}

func (g *Gateway) handleServices(c *gin.Context) {
	services := g.Services()
	resp := servicesResponse{
		Services: make([]serviceView, 0, len(services)),
		Count:    len(services),
	}

	for _, svc := range services {
		stats := g.components.breakers.Stats(svc.Name)
		status := serviceAvailable
		if !stats.Available() {
			status = serviceUnavailable
		}
		resp.Services = append(resp.Services, serviceView{
			Name:        svc.Name,
			Path:        svc.PathPrefix,
			Description: svc.Description,
			Policy: policyView{
				Window:      svc.Policy.Window.String(),
				MaxRequests: svc.Policy.MaxRequests,
			},
			Status:              status,
			Circuit:             stats.State.String(),
			ConsecutiveFailures: stats.ConsecutiveFails,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func (g *Gateway) handleUsage(c *gin.Context) {
	r := c.Request
	cred := tier.ExtractCredential(r, g.Config().TierProvider.APIKeyHeader)
	id := g.components.resolver.Resolve(r.Context(), cred, middleware.ClientIPFromRequest(r))

	if id.Anonymous {
		middleware.WriteError(c.Writer, r, http.StatusUnauthorized, middleware.CodeUnauthorized,
			"usage is only available to identified callers")
		return
	}

	counts, day, err := g.components.meter.Usage(r.Context(), id.Key())
	if err != nil {
		g.logger.WithContext(r.Context()).Error("failed to read usage",
			observability.String("identity", id.Key()),
			observability.Error(err),
		)
		middleware.WriteError(c.Writer, r, http.StatusInternalServerError, middleware.CodeInternalError,
			"usage is temporarily unavailable")
		return
	}
	if counts == nil {
		counts = usage.Counts{}
	}

	c.JSON(http.StatusOK, usageResponse{
		Identity: id.Subject,
		Date:     day.Format(usage.DayLayout),
		Usage:    counts,
		Total:    counts.Total(),
		Tier:     id.Tier.Name,
		Limits: limitsView{
			RequestsPerMinute: id.Tier.RequestsPerMinute,
			RequestsPerHour:   id.Tier.RequestsPerHour,
			RequestsPerDay:    id.Tier.RequestsPerDay,
			Unlimited:         id.Tier.Unlimited,
		},
	})
}
