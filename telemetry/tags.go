// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
)

// CacheResult represents the outcome of an engine cache lookup.
type CacheResult string

const (
	CacheHit    CacheResult = "hit"
	CacheMiss   CacheResult = "miss"
	CacheBypass CacheResult = "bypass"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Algorithm   string
	CacheResult CacheResult
	Endpoint    string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{CacheResult: CacheBypass}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	return tagsFromContext(r.Context())
}

func tagsFromContext(ctx context.Context) *RequestTags {
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetCacheResult sets the cache result for logging.
func SetCacheResult(r *http.Request, result CacheResult) {
	SetCacheResultContext(r.Context(), result)
}

// SetCacheResultContext sets the cache result on the request tags carried by
// ctx. The storage engine uses this since it only sees the context.
func SetCacheResultContext(ctx context.Context, result CacheResult) {
	if tags := tagsFromContext(ctx); tags != nil {
		tags.CacheResult = result
	}
}

// CacheResultFromContext returns the cache result recorded on ctx, or
// CacheBypass when there is none.
func CacheResultFromContext(ctx context.Context) CacheResult {
	if tags := tagsFromContext(ctx); tags != nil && tags.CacheResult != "" {
		return tags.CacheResult
	}
	return CacheBypass
}

// SetAlgorithm sets the hash algorithm tag for metrics and logging.
func SetAlgorithm(r *http.Request, algorithm string) {
	if tags := GetTags(r); tags != nil {
		tags.Algorithm = algorithm
	}
}

// SetEndpoint sets the endpoint type for logging.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}
