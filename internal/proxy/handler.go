package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/tiergate/internal/circuitbreaker"
	"github.com/vyrodovalexey/tiergate/internal/middleware"
	"github.com/vyrodovalexey/tiergate/internal/observability"
	"github.com/vyrodovalexey/tiergate/internal/ratelimit"
	"github.com/vyrodovalexey/tiergate/internal/registry"
	"github.com/vyrodovalexey/tiergate/internal/tier"
)

// RouteMatcher finds the service owning a request path.
type RouteMatcher interface {
	Match(path string) (*registry.ServiceDescriptor, error)
}

// IdentityResolver resolves the caller. It never fails.
type IdentityResolver interface {
	Resolve(ctx context.Context, cred tier.Credential, clientAddr string) tier.Identity
}

// Admitter decides whether a request may proceed.
type Admitter interface {
	Admit(ctx context.Context, id tier.Identity, svc *registry.ServiceDescriptor) (ratelimit.Decision, error)
}

// Guard runs backend calls through a per-service circuit breaker.
type Guard interface {
	Guard(ctx context.Context, service string, fn func(context.Context) error) error
}

// UsageRecorder is notified of every successful backend call. Record must
// not block.
type UsageRecorder interface {
	Record(identity, service, method string) error
}

// Handler is the gateway's request pipeline.
type Handler struct {
	routes       RouteMatcher
	resolver     IdentityResolver
	limiter      Admitter
	breakers     Guard
	usage        UsageRecorder
	transport    http.RoundTripper
	apiKeyHeader string
	logger       observability.Logger
	tracer       *observability.Tracer
	now          func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithTransport sets the transport used for backend calls.
func WithTransport(transport http.RoundTripper) Option {
	return func(h *Handler) {
		h.transport = transport
	}
}

// WithUsage sets the usage recorder.
func WithUsage(usage UsageRecorder) Option {
	return func(h *Handler) {
		h.usage = usage
	}
}

// WithAPIKeyHeader sets the header carrying API keys.
func WithAPIKeyHeader(header string) Option {
	return func(h *Handler) {
		h.apiKeyHeader = header
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithTracer sets the tracer for backend call spans.
func WithTracer(tracer *observability.Tracer) Option {
	return func(h *Handler) {
		h.tracer = tracer
	}
}

// WithClock sets the time source for timestamps and response times.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates the request pipeline.
func NewHandler(routes RouteMatcher, resolver IdentityResolver, limiter Admitter, breakers Guard, opts ...Option) *Handler {
	h := &Handler{
		routes:       routes,
		resolver:     resolver,
		limiter:      limiter,
		breakers:     breakers,
		transport:    http.DefaultTransport,
		apiKeyHeader: "X-API-Key",
		logger:       observability.NopLogger(),
		tracer:       observability.NopTracer(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	logger := h.logger.WithContext(r.Context())

	svc, err := h.routes.Match(r.URL.Path)
	if err != nil {
		outcomesTotal.WithLabelValues("", outcomeNotFound).Inc()
		middleware.WriteError(w, r, http.StatusNotFound, middleware.CodeNotFound,
			fmt.Sprintf("no service is registered for %s", r.URL.Path))
		return
	}
	observability.SetServiceLabel(r.Context(), svc.Name)

	id := h.resolver.Resolve(r.Context(), tier.ExtractCredential(r, h.apiKeyHeader), middleware.ClientIPFromRequest(r))

	decision, err := h.limiter.Admit(r.Context(), id, svc)
	if err != nil {
		outcomesTotal.WithLabelValues(svc.Name, outcomeInternal).Inc()
		logger.Error("rate limit check failed",
			observability.String("service", svc.Name),
			observability.Error(err),
		)
		middleware.WriteError(w, r, http.StatusInternalServerError, middleware.CodeInternalError,
			"admission check failed")
		return
	}

	setRateLimitHeaders(w.Header(), decision)

	if !decision.Allowed {
		outcomesTotal.WithLabelValues(svc.Name, outcomeRateLimited).Inc()
		middleware.WriteRateLimitError(w, r, decision.Err(svc.Name).Error(), decision.RetryAfter)
		return
	}

	ctx := r.Context()
	if svc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, svc.Timeout)
		defer cancel()
	}

	if requestID := observability.RequestIDFromContext(r.Context()); requestID != "" {
		w.Header().Set(middleware.HeaderXRequestID, requestID)
	}

	err = h.breakers.Guard(ctx, svc.Name, func(ctx context.Context) error {
		return h.forward(ctx, w, r, svc, id, start)
	})

	switch {
	case err == nil:
		outcomesTotal.WithLabelValues(svc.Name, outcomeForwarded).Inc()
		if h.usage != nil {
			_ = h.usage.Record(id.Key(), svc.Name, r.Method)
		}

	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		outcomesTotal.WithLabelValues(svc.Name, outcomeCircuitOpen).Inc()
		middleware.WriteError(w, r, http.StatusBadGateway, middleware.CodeBadGateway,
			fmt.Sprintf("service %s is temporarily unavailable", svc.Name))

	case r.Context().Err() != nil:
		outcomesTotal.WithLabelValues(svc.Name, outcomeCanceled).Inc()
		logger.Debug("client went away during backend call",
			observability.String("service", svc.Name),
		)

	default:
		outcomesTotal.WithLabelValues(svc.Name, outcomeUpstream).Inc()
		logger.Warn("backend call failed",
			observability.String("service", svc.Name),
			observability.Error(err),
		)
		middleware.WriteError(w, r, http.StatusBadGateway, middleware.CodeBadGateway,
			fmt.Sprintf("service %s failed to respond", svc.Name))
	}
}

// forward proxies the request to the backend and relays the answer.
// Transport errors, timeouts and 5xx answers are returned as
// *UpstreamError and nothing is written; the caller answers for them.
func (h *Handler) forward(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	svc *registry.ServiceDescriptor,
	id tier.Identity,
	start time.Time,
) error {
	ctx, span := h.tracer.StartSpan(ctx, "proxy.Forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tiergate.service", svc.Name),
			attribute.String("http.request.method", r.Method),
		),
	)
	defer span.End()

	var proxyErr error
	callStart := time.Now()

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			h.rewrite(pr, svc, id, start)
		},
		Transport: h.transport,
		ModifyResponse: func(resp *http.Response) error {
			backendDuration.WithLabelValues(svc.Name).Observe(time.Since(callStart).Seconds())
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

			if resp.StatusCode >= http.StatusInternalServerError {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
				span.SetStatus(codes.Error, "backend server error")
				return &UpstreamError{Service: svc.Name, StatusCode: resp.StatusCode, Cause: ErrUpstreamStatus}
			}

			// Headers the gateway already set win over the backend's.
			for name := range w.Header() {
				resp.Header.Del(name)
			}
			resp.Header.Set(HeaderResponseTime, formatResponseTime(h.now().Sub(start)))
			return nil
		},
		ErrorHandler: func(_ http.ResponseWriter, _ *http.Request, err error) {
			var upstream *UpstreamError
			if errors.As(err, &upstream) {
				proxyErr = upstream
				return
			}
			backendDuration.WithLabelValues(svc.Name).Observe(time.Since(callStart).Seconds())
			span.RecordError(err)
			span.SetStatus(codes.Error, "backend unreachable")
			proxyErr = &UpstreamError{Service: svc.Name, Cause: err}
		},
	}

	rp.ServeHTTP(w, r.WithContext(ctx))
	return proxyErr
}

// rewrite builds the backend request: the external prefix is mapped to
// the service's internal path and gateway headers are set. Client-supplied
// copies of gateway headers are dropped.
func (h *Handler) rewrite(pr *httputil.ProxyRequest, svc *registry.ServiceDescriptor, id tier.Identity, start time.Time) {
	out := pr.Out
	out.URL.Scheme = svc.Upstream.Scheme
	out.URL.Host = svc.Upstream.Host
	out.URL.Path = svc.RewritePath(pr.In.URL.Path)
	out.URL.RawPath = ""
	out.Host = svc.Upstream.Host

	pr.SetXForwarded()

	for _, name := range gatewayOwnedHeaders {
		out.Header.Del(name)
	}
	if requestID := observability.RequestIDFromContext(pr.In.Context()); requestID != "" {
		out.Header.Set(middleware.HeaderXRequestID, requestID)
	}
	out.Header.Set(HeaderGatewayTimestamp, start.UTC().Format(time.RFC3339Nano))
	if !id.Anonymous {
		out.Header.Set(HeaderUserID, id.Subject)
		out.Header.Set(HeaderUserTier, id.Tier.Name)
	}

	observability.InjectTraceContext(out.Context(), out)
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	if d.Unlimited {
		return
	}
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(middleware.RetryAfterSeconds(d.ResetAfter), 10))
}

func formatResponseTime(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 2, 64) + "ms"
}
