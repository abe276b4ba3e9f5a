package authz

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// Resolver computes the effective permission set for a principal: the union
// of every configured source, with per-user overrides applied last. The same
// inputs always yield the same set.
type Resolver struct {
	sources   []PermissionSource
	overrides OverrideStore
	catalog   CatalogStore
	group     singleflight.Group
}

// NewResolver constructs a Resolver over the given sources. Source order is
// irrelevant; union semantics make the merge commutative.
func NewResolver(catalog CatalogStore, overrides OverrideStore, sources ...PermissionSource) *Resolver {
	return &Resolver{sources: sources, overrides: overrides, catalog: catalog}
}

// EffectivePermissions returns the post-override permission set for the
// principal. Super-admins receive the full catalog with no further checks.
// Concurrent calls for the same user share one computation.
func (r *Resolver) EffectivePermissions(ctx context.Context, p *Principal) (map[string]struct{}, error) {
	if p == nil {
		return nil, fmt.Errorf("authz: nil principal")
	}
	if p.SuperAdmin {
		return r.fullCatalog(ctx)
	}
	v, err, _ := r.group.Do(strconv.FormatInt(p.UserID, 10), func() (any, error) {
		return r.compute(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]struct{}), nil
}

func (r *Resolver) compute(ctx context.Context, p *Principal) (map[string]struct{}, error) {
	granted := make(map[string]struct{})
	for _, source := range r.sources {
		set, err := source.Resolve(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("authz: resolve source: %w", err)
		}
		for name := range set {
			granted[name] = struct{}{}
		}
	}
	if r.overrides != nil {
		overrides, err := r.overrides.Overrides(ctx, p.UserID)
		if err != nil {
			return nil, fmt.Errorf("authz: resolve overrides: %w", err)
		}
		for _, o := range overrides {
			if o.Allowed {
				granted[o.Permission] = struct{}{}
			} else {
				delete(granted, o.Permission)
			}
		}
	}
	return granted, nil
}

func (r *Resolver) fullCatalog(ctx context.Context) (map[string]struct{}, error) {
	names, err := r.catalog.AllPermissionNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("authz: catalog: %w", err)
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set, nil
}

type permissionsContextKey struct{}

// ContextWithPermissions stashes the resolved set so handlers behind the
// guard reuse the request's computation.
func ContextWithPermissions(ctx context.Context, set map[string]struct{}) context.Context {
	return context.WithValue(ctx, permissionsContextKey{}, set)
}

// PermissionsFromContext returns the set stored by the guard, or nil.
func PermissionsFromContext(ctx context.Context) map[string]struct{} {
	set, _ := ctx.Value(permissionsContextKey{}).(map[string]struct{})
	return set
}
