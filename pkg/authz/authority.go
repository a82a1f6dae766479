package authz

import "sort"

// Authority is a granted authority derived from a role string.
type Authority string

const (
	RoleAdmin     = "ROLE_ADMIN"
	RoleUser      = "ROLE_USER"
	RoleAnonymous = "ROLE_ANONYMOUS"
)

// NormalizeRoles drops empty and duplicate roles and returns them sorted.
// Case is preserved; "ROLE_ADMIN" and "role_admin" are different roles.
func NormalizeRoles(roles ...[]string) []string {
	seen := map[string]struct{}{}
	out := []string{}

	for _, set := range roles {
		for _, role := range set {
			if role == "" {
				continue
			}
			if _, ok := seen[role]; ok {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
	}

	sort.Strings(out)
	return out
}

func FromRoles(roles []string) []Authority {
	authorities := make([]Authority, 0, len(roles))
	for _, role := range roles {
		authorities = append(authorities, Authority(role))
	}
	return authorities
}

func HasRole(roles []string, role string) bool {
	if role == "" {
		return false
	}
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}

func HasAnyRole(roles []string, required ...string) bool {
	for _, role := range required {
		if HasRole(roles, role) {
			return true
		}
	}
	return false
}

func HasAllRoles(roles []string, required ...string) bool {
	for _, role := range required {
		if !HasRole(roles, role) {
			return false
		}
	}
	return true
}
