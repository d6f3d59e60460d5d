package distribution

import (
	"context"
	"fmt"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// RoundRobin hands cases to eligible members in user id order. The pointer
// to the last assigned member lives in the CursorStore.
type RoundRobin struct {
	roster  Roster
	cursors CursorStore
}

func NewRoundRobin(roster Roster, cursors CursorStore) *RoundRobin {
	if cursors == nil {
		cursors = NewMemoryCursorStore()
	}
	return &RoundRobin{roster: roster, cursors: cursors}
}

// GetUser returns the next member after the last pick, or nil when the
// team has no eligible member.
func (r *RoundRobin) GetUser(ctx context.Context, team *models.Team, position string) (*models.User, error) {
	if team == nil {
		return nil, nil
	}
	users, err := eligibleMembers(ctx, r.roster, team.ID, position)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	picked, err := r.cursors.Next(ctx, cursorKey(team.ID, position), ids)
	if err != nil {
		return nil, fmt.Errorf("round robin cursor for team %s: %w", team.ID, err)
	}
	for _, u := range users {
		if u.ID == picked {
			return u, nil
		}
	}
	return nil, fmt.Errorf("round robin cursor returned unknown user %q", picked)
}

func cursorKey(teamID, position string) string {
	if position == "" {
		return teamID
	}
	return teamID + ":" + position
}
