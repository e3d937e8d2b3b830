package common

type contextKey string

const (
	RequestIDContextKey contextKey = "request_id"
)

const (
	// GlobalIngressKey is the well-known limiting key the outermost filter
	// applies to every inbound request.
	GlobalIngressKey = "global"

	RetryAfterHeader = "Retry-After"
)
