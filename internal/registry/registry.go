// Package registry holds the immutable mapping from service name to its
// upstream address, external path prefix and admission policy.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/vyrodovalexey/tiergate/internal/config"
)

// ErrUnknownService is the sentinel wrapped by UnknownServiceError.
var ErrUnknownService = errors.New("unknown service")

// UnknownServiceError is returned when a service name or path does not
// match any registered service.
type UnknownServiceError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service %q", e.Name)
}

// Unwrap returns ErrUnknownService.
func (e *UnknownServiceError) Unwrap() error {
	return ErrUnknownService
}

// Policy is the per-service baseline admission cap.
type Policy struct {
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"maxRequests"`
}

// ServiceDescriptor is static routing and policy metadata for one backend.
type ServiceDescriptor struct {
	Name         string
	Upstream     *url.URL
	PathPrefix   string
	InternalPath string
	HealthPath   string
	Timeout      time.Duration
	Description  string
	Policy       Policy
}

// HealthURL returns the absolute URL of the service health endpoint.
func (d *ServiceDescriptor) HealthURL() string {
	u := *d.Upstream
	u.Path = joinPath(u.Path, d.HealthPath)
	u.RawQuery = ""
	return u.String()
}

// RewritePath maps an external request path under PathPrefix to the
// backend path under the upstream base path and InternalPath.
// The path is cleaned first, so dot segments never leave the service.
func (d *ServiceDescriptor) RewritePath(external string) string {
	rest := strings.TrimPrefix(CleanPath(external), d.PathPrefix)
	return joinPath(joinPath(d.Upstream.Path, d.InternalPath), rest)
}

// Registry is a read-only set of services. It is safe for concurrent use
// because nothing mutates it after construction.
type Registry struct {
	byName   map[string]*ServiceDescriptor
	byPrefix []*ServiceDescriptor
}

// New builds a registry from descriptors. Duplicate names or prefixes are
// configuration errors.
func New(services []*ServiceDescriptor) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]*ServiceDescriptor, len(services)),
		byPrefix: make([]*ServiceDescriptor, 0, len(services)),
	}

	prefixes := make(map[string]bool, len(services))
	for _, svc := range services {
		if svc == nil || svc.Name == "" {
			return nil, errors.New("service name is required")
		}
		if svc.Upstream == nil {
			return nil, fmt.Errorf("service %q: upstream is required", svc.Name)
		}
		if _, dup := r.byName[svc.Name]; dup {
			return nil, fmt.Errorf("duplicate service %q", svc.Name)
		}
		if prefixes[svc.PathPrefix] {
			return nil, fmt.Errorf("service %q: duplicate path prefix %q", svc.Name, svc.PathPrefix)
		}
		prefixes[svc.PathPrefix] = true
		r.byName[svc.Name] = svc
		r.byPrefix = append(r.byPrefix, svc)
	}

	// Longest prefix first so nested prefixes resolve to the most specific service.
	sort.SliceStable(r.byPrefix, func(i, j int) bool {
		return len(r.byPrefix[i].PathPrefix) > len(r.byPrefix[j].PathPrefix)
	})

	return r, nil
}

// FromConfig builds a registry from defaulted service configuration.
func FromConfig(services []config.ServiceConfig) (*Registry, error) {
	descriptors := make([]*ServiceDescriptor, 0, len(services))
	for i := range services {
		s := &services[i]
		upstream, err := url.Parse(s.Upstream)
		if err != nil {
			return nil, fmt.Errorf("service %q: invalid upstream: %w", s.Name, err)
		}
		descriptors = append(descriptors, &ServiceDescriptor{
			Name:         s.Name,
			Upstream:     upstream,
			PathPrefix:   s.PathPrefix,
			InternalPath: s.InternalPath,
			HealthPath:   s.HealthPath,
			Timeout:      s.Timeout.Duration(),
			Description:  s.Description,
			Policy: Policy{
				Window:      s.RateLimit.Window.Duration(),
				MaxRequests: s.RateLimit.MaxRequests,
			},
		})
	}
	return New(descriptors)
}

// Lookup returns the service registered under name.
func (r *Registry) Lookup(name string) (*ServiceDescriptor, error) {
	svc, ok := r.byName[name]
	if !ok {
		return nil, &UnknownServiceError{Name: name}
	}
	return svc, nil
}

// Match returns the service whose path prefix owns the cleaned path. A
// prefix owns a path when they are equal or the path continues with a
// slash.
func (r *Registry) Match(reqPath string) (*ServiceDescriptor, error) {
	reqPath = CleanPath(reqPath)
	for _, svc := range r.byPrefix {
		if !strings.HasPrefix(reqPath, svc.PathPrefix) {
			continue
		}
		if len(reqPath) == len(svc.PathPrefix) || reqPath[len(svc.PathPrefix)] == '/' || svc.PathPrefix == "/" {
			return svc, nil
		}
	}
	return nil, &UnknownServiceError{Name: reqPath}
}

// Services returns all services ordered by name.
func (r *Registry) Services() []*ServiceDescriptor {
	out := make([]*ServiceDescriptor, 0, len(r.byName))
	for _, svc := range r.byName {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	return len(r.byName)
}

// CleanPath resolves dot segments and repeated slashes in a request path.
// A trailing slash is kept.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if p[len(p)-1] == '/' && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

func joinPath(base, elem string) string {
	if elem == "" || elem == "/" {
		if base == "" {
			return "/"
		}
		return base
	}
	if base == "" || base == "/" {
		return "/" + strings.TrimPrefix(elem, "/")
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(elem, "/")
}
