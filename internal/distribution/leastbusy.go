package distribution

import (
	"context"
	"fmt"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// LeastBusy picks the eligible member with the fewest open cases; ties go
// to the lowest user id.
type LeastBusy struct {
	roster Roster
	loads  LoadCounter
}

func NewLeastBusy(roster Roster, loads LoadCounter) *LeastBusy {
	return &LeastBusy{roster: roster, loads: loads}
}

func (l *LeastBusy) GetUser(ctx context.Context, team *models.Team, position string) (*models.User, error) {
	if team == nil {
		return nil, nil
	}
	if l.loads == nil {
		return nil, fmt.Errorf("least busy: no load counter configured")
	}
	users, err := eligibleMembers(ctx, l.roster, team.ID, position)
	if err != nil {
		return nil, err
	}
	var best *models.User
	bestLoad := 0
	for _, u := range users {
		n, err := l.loads.CountOpenCases(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("least busy: load of %s: %w", u.ID, err)
		}
		if best == nil || n < bestLoad {
			best, bestLoad = u, n
		}
	}
	return best, nil
}
