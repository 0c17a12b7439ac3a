// Package request defines the normalized request descriptor consumed by
// the security pipeline and the per-endpoint security profile.
package request

import (
	"net/url"
	"time"
)

// SecurityLevel classifies how strictly an endpoint is protected.
type SecurityLevel string

// Security levels.
const (
	SecurityLevelPublic   SecurityLevel = "public"
	SecurityLevelStandard SecurityLevel = "standard"
	SecurityLevelHigh     SecurityLevel = "high"
)

// Descriptor is a normalized inbound request. The transport layer builds
// one per request; the pipeline never sees raw socket bytes.
type Descriptor struct {
	// Method is the HTTP method.
	Method string

	// Path is the request path.
	Path string

	// Query contains the parsed query parameters.
	Query url.Values

	// Headers contains the request headers. Keys are canonical
	// (http.CanonicalHeaderKey form).
	Headers map[string][]string

	// Body is the request body, capped by the transport layer. When the
	// original body exceeded the cap, Body holds nothing and
	// BodyTruncated is set; the scanner then falls back to
	// header/metadata heuristics.
	Body []byte

	// BodyTruncated indicates the body exceeded the configured cap.
	BodyTruncated bool

	// ClientIP is the remote client address.
	ClientIP string

	// ReceivedAt is when the transport layer accepted the request.
	ReceivedAt time.Time
}

// Header returns the first value of the named header, or "".
func (d *Descriptor) Header(name string) string {
	if d.Headers == nil {
		return ""
	}
	values := d.Headers[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// UserAgent returns the User-Agent header.
func (d *Descriptor) UserAgent() string {
	return d.Header("User-Agent")
}

// EndpointProfile describes the security requirements of one endpoint.
type EndpointProfile struct {
	// RequiresAuth indicates whether authentication is mandatory.
	RequiresAuth bool

	// RequiredPermission is the permission the caller must hold. Empty
	// means no permission check beyond authentication.
	RequiredPermission string

	// SecurityLevel is the endpoint's protection level. High-security
	// endpoints fail closed on audit write failure.
	SecurityLevel SecurityLevel
}

// PublicProfile returns a profile for unauthenticated endpoints.
func PublicProfile() *EndpointProfile {
	return &EndpointProfile{SecurityLevel: SecurityLevelPublic}
}
