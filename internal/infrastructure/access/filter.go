package access

import (
	"context"

	"github.com/kirillkom/evident/internal/core/domain"
)

// MissionFilter derives the index predicate from an already authenticated
// principal. Admins see every mission; everyone else is limited to the
// missions resolved by the gateway plus untagged documents.
type MissionFilter struct {
	// SharedMissions are visible to every principal, e.g. a "general" mission.
	SharedMissions []string
}

func NewMissionFilter(shared []string) *MissionFilter {
	return &MissionFilter{SharedMissions: shared}
}

func (f *MissionFilter) Predicate(_ context.Context, principal domain.Principal) (domain.AccessPredicate, error) {
	if err := principal.Validate(); err != nil {
		return domain.AccessPredicate{}, err
	}
	if principal.Role == domain.RoleAdmin {
		return domain.NewAccessPredicate(true, nil, principal.Role), nil
	}

	missions := make([]string, 0, len(principal.AccessibleMissions)+len(f.SharedMissions))
	missions = append(missions, principal.AccessibleMissions...)
	missions = append(missions, f.SharedMissions...)
	return domain.NewAccessPredicate(false, missions, principal.Role), nil
}
