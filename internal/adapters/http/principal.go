package httpadapter

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/evident/internal/core/domain"
)

// Trusted gateway headers. The gateway authenticates the caller and resolves
// its mission scope before the request reaches this service.
const (
	principalIDHeader       = "X-Principal-Id"
	principalRoleHeader     = "X-Principal-Role"
	principalMissionsHeader = "X-Principal-Missions"
)

// PrincipalFromRequest reads the caller identity set by the gateway.
func PrincipalFromRequest(r *http.Request) (domain.Principal, error) {
	id := strings.TrimSpace(r.Header.Get(principalIDHeader))
	if id == "" {
		return domain.Principal{}, domain.WrapError(domain.ErrUnauthorized, "resolve principal", fmt.Errorf("%s header is required", principalIDHeader))
	}
	rawRole := strings.TrimSpace(r.Header.Get(principalRoleHeader))
	if rawRole == "" {
		return domain.Principal{}, domain.WrapError(domain.ErrUnauthorized, "resolve principal", fmt.Errorf("%s header is required", principalRoleHeader))
	}
	role, err := domain.ParseRole(rawRole)
	if err != nil {
		return domain.Principal{}, domain.WrapError(domain.ErrForbidden, "resolve principal", err)
	}

	var missions []string
	if raw := strings.TrimSpace(r.Header.Get(principalMissionsHeader)); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			mission := strings.TrimSpace(part)
			if mission == "" {
				return domain.Principal{}, domain.WrapError(domain.ErrInvalidPrincipal, "resolve principal", fmt.Errorf("blank mission in %s", principalMissionsHeader))
			}
			missions = append(missions, mission)
		}
	}

	return domain.Principal{ID: id, Role: role, AccessibleMissions: missions}, nil
}

func requireAdmin(principal domain.Principal) error {
	if principal.Role != domain.RoleAdmin {
		return domain.WrapError(domain.ErrForbidden, "authorize", fmt.Errorf("role %s cannot read the audit trail", principal.Role))
	}
	return nil
}
