// Package security applies security response headers. Every response
// passing through the pipeline carries the configured headers whether
// the request was allowed or denied, and rate limit headers reflecting
// the current window state.
package security
