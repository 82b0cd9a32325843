// Package middleware provides HTTP middleware components for the gateway.
package middleware

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderXForwardedFor is the X-Forwarded-For header name.
	HeaderXForwardedFor = "X-Forwarded-For"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// Error codes carried in the "error" field of error bodies.
const (
	CodeNotFound           = "not_found"
	CodeUnauthorized       = "unauthorized"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeBadGateway         = "bad_gateway"
	CodeInternalError      = "internal_error"
	CodeServiceUnavailable = "service_unavailable"
)

// maxRequestIDLength bounds client-supplied request ids.
const maxRequestIDLength = 128
