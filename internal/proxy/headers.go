package proxy

// Outbound and response headers set by the gateway.
const (
	HeaderUserID             = "X-User-ID"
	HeaderUserTier           = "X-User-Tier"
	HeaderGatewayTimestamp   = "X-Gateway-Timestamp"
	HeaderResponseTime       = "X-Response-Time"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// gatewayOwnedHeaders may only be set by the gateway itself.
var gatewayOwnedHeaders = []string{
	HeaderUserID,
	HeaderUserTier,
	HeaderGatewayTimestamp,
}
