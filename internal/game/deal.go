package game

import (
	"fmt"
	"slices"
)

// Rand is the subset of math/rand/v2 used for draws, so tests can seed it.
type Rand interface {
	IntN(n int) int
}

// Assignment binds every dealt player to exactly one role.
type Assignment struct {
	MasterID  string
	InsiderID string
	Roles     map[string]Role
}

// Citizens lists the citizen ids in a stable order.
func (a Assignment) Citizens() []string {
	ids := make([]string, 0, len(a.Roles))
	for id, role := range a.Roles {
		if role == RoleCitizen {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Deal draws a Master and an Insider from players. The previous Master is skipped for the
// Master draw whenever another candidate exists.
func Deal(players []string, previousMaster string, rng Rand) (Assignment, error) {
	ids := uniqueIDs(players)
	if len(ids) < MinPlayers {
		return Assignment{}, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughPlayers, len(ids), MinPlayers)
	}

	masterPool := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != previousMaster {
			masterPool = append(masterPool, id)
		}
	}
	if len(masterPool) == 0 {
		masterPool = ids
	}

	for attempt := 0; attempt < maxDealAttempts; attempt++ {
		master := masterPool[rng.IntN(len(masterPool))]
		insiderPool := make([]string, 0, len(ids)-1)
		for _, id := range ids {
			if id != master {
				insiderPool = append(insiderPool, id)
			}
		}
		if len(insiderPool) == 0 {
			continue
		}
		insider := insiderPool[rng.IntN(len(insiderPool))]

		assignment := Assignment{
			MasterID:  master,
			InsiderID: insider,
			Roles:     make(map[string]Role, len(ids)),
		}
		for _, id := range ids {
			switch id {
			case master:
				assignment.Roles[id] = RoleMaster
			case insider:
				assignment.Roles[id] = RoleInsider
			default:
				assignment.Roles[id] = RoleCitizen
			}
		}
		if err := assignment.Validate(); err != nil {
			continue
		}
		return assignment, nil
	}
	return Assignment{}, ErrDealFailed
}

// Validate checks the one-Master, one-Insider invariant.
func (a Assignment) Validate() error {
	masters, insiders := 0, 0
	for _, role := range a.Roles {
		switch role {
		case RoleMaster:
			masters++
		case RoleInsider:
			insiders++
		case RoleCitizen:
		default:
			return fmt.Errorf("%w: %v", ErrUnknownRole, role)
		}
	}
	if masters != 1 || insiders != 1 {
		return fmt.Errorf("%w: %d masters, %d insiders", ErrDealFailed, masters, insiders)
	}
	if a.MasterID == "" || a.MasterID == a.InsiderID {
		return fmt.Errorf("%w: master and insider must differ", ErrDealFailed)
	}
	if a.Roles[a.MasterID] != RoleMaster || a.Roles[a.InsiderID] != RoleInsider {
		return fmt.Errorf("%w: role ids out of sync", ErrDealFailed)
	}
	return nil
}

func uniqueIDs(players []string) []string {
	seen := make(map[string]struct{}, len(players))
	ids := make([]string, 0, len(players))
	for _, id := range players {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
