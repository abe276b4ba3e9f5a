package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubSource map[int64][]string

func (s stubSource) Resolve(ctx context.Context, p *Principal) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for _, name := range s[p.UserID] {
		set[name] = struct{}{}
	}
	return set, nil
}

type stubOverrides map[int64][]Override

func (s stubOverrides) Overrides(ctx context.Context, userID int64) ([]Override, error) {
	return s[userID], nil
}

type stubCatalog []string

func (s stubCatalog) AllPermissionNames(ctx context.Context) ([]string, error) {
	return s, nil
}

func TestEffectivePermissionsUnionsSources(t *testing.T) {
	normalized := stubSource{7: {"patients.view", "patients.edit"}}
	legacy := stubSource{7: {"patients.view", "billing.view"}}
	r := NewResolver(stubCatalog{}, stubOverrides{}, normalized, legacy)

	set, err := r.EffectivePermissions(context.Background(), &Principal{UserID: 7})
	require.NoError(t, err)
	require.Len(t, set, 3)
	require.Contains(t, set, "patients.view")
	require.Contains(t, set, "patients.edit")
	require.Contains(t, set, "billing.view")
}

func TestEffectivePermissionsDenyOverrideWins(t *testing.T) {
	normalized := stubSource{7: {"patients.view", "billing.refund"}}
	legacy := stubSource{7: {"billing.refund"}}
	overrides := stubOverrides{7: {{Permission: "billing.refund", Allowed: false}}}
	r := NewResolver(stubCatalog{}, overrides, normalized, legacy)

	set, err := r.EffectivePermissions(context.Background(), &Principal{UserID: 7})
	require.NoError(t, err)
	require.Contains(t, set, "patients.view")
	require.NotContains(t, set, "billing.refund")
}

func TestEffectivePermissionsAllowOverrideAdds(t *testing.T) {
	normalized := stubSource{7: {"patients.view"}}
	overrides := stubOverrides{7: {{Permission: "laboratory.order", Allowed: true}}}
	r := NewResolver(stubCatalog{}, overrides, normalized)

	set, err := r.EffectivePermissions(context.Background(), &Principal{UserID: 7})
	require.NoError(t, err)
	require.Contains(t, set, "laboratory.order")
}

func TestEffectivePermissionsIdempotent(t *testing.T) {
	normalized := stubSource{7: {"patients.view", "patients.edit"}}
	overrides := stubOverrides{7: {{Permission: "patients.edit", Allowed: false}}}
	r := NewResolver(stubCatalog{}, overrides, normalized)

	first, err := r.EffectivePermissions(context.Background(), &Principal{UserID: 7})
	require.NoError(t, err)
	second, err := r.EffectivePermissions(context.Background(), &Principal{UserID: 7})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEffectivePermissionsSuperAdminFullCatalog(t *testing.T) {
	catalog := stubCatalog{"patients.view", "roles.edit", "billing.void"}
	r := NewResolver(catalog, stubOverrides{})

	set, err := r.EffectivePermissions(context.Background(), &Principal{UserID: 1, SuperAdmin: true})
	require.NoError(t, err)
	require.Len(t, set, 3)
	require.Contains(t, set, "billing.void")
}

func TestEffectivePermissionsNilPrincipal(t *testing.T) {
	r := NewResolver(stubCatalog{}, stubOverrides{})
	_, err := r.EffectivePermissions(context.Background(), nil)
	require.Error(t, err)
}
