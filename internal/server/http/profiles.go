package http

import (
	"strings"
	"sync"

	"github.com/vyrodovalexey/avsecmw/internal/request"
)

type routeKey struct {
	method string
	path   string
}

type prefixRule struct {
	method  string
	prefix  string
	profile *request.EndpointProfile
}

// ProfileRegistry maps routes to endpoint security profiles. Exact
// matches win over prefixes; among prefixes the longest wins. An empty
// method matches every method. Unregistered routes resolve to the
// default profile.
type ProfileRegistry struct {
	mu       sync.RWMutex
	exact    map[routeKey]*request.EndpointProfile
	prefixes []prefixRule
	fallback *request.EndpointProfile
}

// NewProfileRegistry creates a registry whose default profile is
// public.
func NewProfileRegistry() *ProfileRegistry {
	return &ProfileRegistry{
		exact:    make(map[routeKey]*request.EndpointProfile),
		fallback: request.PublicProfile(),
	}
}

// Register maps an exact method and path to a profile. An empty method
// matches any method.
func (r *ProfileRegistry) Register(method, path string, profile *request.EndpointProfile) {
	r.mu.Lock()
	r.exact[routeKey{method: method, path: path}] = profile
	r.mu.Unlock()
}

// RegisterPrefix maps a path prefix to a profile.
func (r *ProfileRegistry) RegisterPrefix(method, prefix string, profile *request.EndpointProfile) {
	r.mu.Lock()
	r.prefixes = append(r.prefixes, prefixRule{method: method, prefix: prefix, profile: profile})
	r.mu.Unlock()
}

// SetDefault sets the profile for unmatched routes.
func (r *ProfileRegistry) SetDefault(profile *request.EndpointProfile) {
	r.mu.Lock()
	r.fallback = profile
	r.mu.Unlock()
}

// Resolve returns the profile for the method and path.
func (r *ProfileRegistry) Resolve(method, path string) *request.EndpointProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if profile, ok := r.exact[routeKey{method: method, path: path}]; ok {
		return profile
	}
	if profile, ok := r.exact[routeKey{path: path}]; ok {
		return profile
	}

	var best *request.EndpointProfile
	bestLen := -1
	for _, rule := range r.prefixes {
		if rule.method != "" && rule.method != method {
			continue
		}
		if len(rule.prefix) > bestLen && strings.HasPrefix(path, rule.prefix) {
			best = rule.profile
			bestLen = len(rule.prefix)
		}
	}
	if best != nil {
		return best
	}

	return r.fallback
}
