package domain

import (
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEngineer Role = "engineer"
	RoleViewer   Role = "viewer"
)

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleEngineer:
		return RoleEngineer, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Principal is an authenticated caller with its mission scope already resolved
// by the authorization collaborator.
type Principal struct {
	ID                 string   `json:"id"`
	Role               Role     `json:"role"`
	AccessibleMissions []string `json:"accessible_missions"`
}

func (p Principal) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return WrapError(ErrInvalidPrincipal, "validate principal", fmt.Errorf("empty principal id"))
	}
	if _, err := ParseRole(string(p.Role)); err != nil {
		return WrapError(ErrInvalidPrincipal, "validate principal", err)
	}
	for _, mission := range p.AccessibleMissions {
		if strings.TrimSpace(mission) == "" {
			return WrapError(ErrInvalidPrincipal, "validate principal", fmt.Errorf("blank mission in scope"))
		}
	}
	return nil
}

// AccessPredicate describes which chunk metadata a principal may see.
type AccessPredicate struct {
	AllMissions bool
	Missions    []string
	Role        Role
}

// NewAccessPredicate returns a predicate with a sorted, de-duplicated mission list.
func NewAccessPredicate(all bool, missions []string, role Role) AccessPredicate {
	seen := make(map[string]struct{}, len(missions))
	out := make([]string, 0, len(missions))
	for _, m := range missions {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return AccessPredicate{AllMissions: all, Missions: out, Role: role}
}

// Allows reports whether a chunk tagged with mission and allowedRoles is visible.
// Untagged chunks are visible to every principal; admins bypass role tags.
func (p AccessPredicate) Allows(mission string, allowedRoles []string) bool {
	if !p.AllMissions && mission != "" {
		found := false
		for _, m := range p.Missions {
			if m == mission {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(allowedRoles) == 0 || p.Role == RoleAdmin {
		return true
	}
	for _, r := range allowedRoles {
		if Role(strings.ToLower(r)) == p.Role {
			return true
		}
	}
	return false
}
