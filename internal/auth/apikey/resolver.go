package apikey

import (
	"context"

	"github.com/vyrodovalexey/avsecmw/internal/auth"
	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
)

// Resolver validates API key credentials and resolves identities. It
// implements auth.IdentityResolver.
type Resolver struct {
	validator Validator
}

// NewResolver creates an API key resolver over the store.
func NewResolver(store Store, opts ...ValidatorOption) *Resolver {
	return &Resolver{validator: NewValidator(store, opts...)}
}

// Resolve validates the credential and builds the identity. The
// identity's effective permissions are the role permissions narrowed to
// the key's scopes: a key is never a superset of its issuing subject.
func (r *Resolver) Resolve(ctx context.Context, credential string) (*auth.Identity, error) {
	key, err := r.validator.Validate(ctx, credential)
	if err != nil {
		return nil, err
	}

	rolePerms := rbac.PermissionsOfRoles(key.Roles)
	permissions := rolePerms
	if len(key.Scopes) > 0 {
		permissions = intersect(rolePerms, key.Scopes)
	}

	return &auth.Identity{
		Subject:     key.Subject,
		Username:    key.Name,
		Roles:       append([]rbac.Role(nil), key.Roles...),
		Permissions: permissions,
		Scopes:      append([]rbac.Permission(nil), key.Scopes...),
		Method:      auth.MethodAPIKey,
	}, nil
}

func intersect(a, b []rbac.Permission) []rbac.Permission {
	inB := make(map[rbac.Permission]struct{}, len(b))
	for _, p := range b {
		inB[p] = struct{}{}
	}
	var out []rbac.Permission
	for _, p := range a {
		if _, ok := inB[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

var _ auth.IdentityResolver = (*Resolver)(nil)
