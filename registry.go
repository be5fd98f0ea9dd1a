package connect

import (
	"fmt"
	"strings"
)

const (
	PlatformSearchAnalytics = "search-analytics"
	PlatformCMS             = "cms"
	PlatformSiteBuilder     = "site-builder"
	PlatformSocial          = "social"
)

// DefaultPlatforms returns the built-in platform catalogue in display order.
func DefaultPlatforms() []PlatformDescriptor {
	return []PlatformDescriptor{
		{
			ID:                   PlatformSearchAnalytics,
			DisplayName:          "Google Search Console",
			Category:             CategorySearchAnalytics,
			RequiredCapabilities: []string{"search.read", "sites.list"},
			Enabled:              true,
			MultiAccount:         true,
		},
		{
			ID:                   PlatformCMS,
			DisplayName:          "WordPress",
			Category:             CategoryWebsiteCMS,
			RequiredCapabilities: []string{"posts.write", "sites.list"},
			Enabled:              true,
			MultiAccount:         true,
		},
		{
			ID:                   PlatformSiteBuilder,
			DisplayName:          "Wix",
			Category:             CategorySiteBuilder,
			RequiredCapabilities: []string{"site.read"},
			Enabled:              true,
		},
		{
			ID:          PlatformSocial,
			DisplayName: "Social publishing",
			Category:    CategorySocial,
			Enabled:     false,
		},
	}
}

// Registry is an immutable catalogue of platforms. It is the single
// source of truth for which platforms exist and whether they are enabled.
type Registry struct {
	order []string
	byID  map[string]PlatformDescriptor
}

// NewRegistry validates the descriptors and builds a registry that keeps
// their declaration order.
func NewRegistry(descriptors ...PlatformDescriptor) (*Registry, error) {
	r := &Registry{
		order: make([]string, 0, len(descriptors)),
		byID:  make(map[string]PlatformDescriptor, len(descriptors)),
	}

	for _, d := range descriptors {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidConfig)
		}
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlatform, id)
		}
		d.ID = id
		if d.DisplayName == "" {
			d.DisplayName = id
		}
		r.order = append(r.order, id)
		r.byID[id] = d.clone()
	}

	return r, nil
}

// MustRegistry is NewRegistry that panics on invalid descriptors.
func MustRegistry(descriptors ...PlatformDescriptor) *Registry {
	r, err := NewRegistry(descriptors...)
	if err != nil {
		panic(err)
	}
	return r
}

// List returns every descriptor, enabled or not, in declaration order.
func (r *Registry) List() []PlatformDescriptor {
	out := make([]PlatformDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].clone())
	}
	return out
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (PlatformDescriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return PlatformDescriptor{}, fmt.Errorf("%w: %s", ErrPlatformNotFound, id)
	}
	return d.clone(), nil
}

// Enabled returns the descriptor for id only when it can be connected.
func (r *Registry) Enabled(id string) (PlatformDescriptor, error) {
	d, err := r.Get(id)
	if err != nil {
		return d, err
	}
	if !d.Enabled {
		return d, fmt.Errorf("%w: %s", ErrPlatformDisabled, id)
	}
	return d, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// IDs returns the registered platform ids in declaration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// ByMarker resolves a marker query parameter back to its platform.
func (r *Registry) ByMarker(param string) (PlatformDescriptor, bool) {
	for _, id := range r.order {
		if MarkerParam(id) == param {
			return r.byID[id].clone(), true
		}
	}
	return PlatformDescriptor{}, false
}

// WithOverrides returns a copy of descriptors with Enabled flags replaced
// by the entries present in enabled.
func WithOverrides(descriptors []PlatformDescriptor, enabled map[string]bool) []PlatformDescriptor {
	out := make([]PlatformDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if v, ok := enabled[d.ID]; ok {
			d.Enabled = v
		}
		out = append(out, d.clone())
	}
	return out
}
