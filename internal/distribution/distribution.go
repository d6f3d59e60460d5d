// Package distribution picks the agent a new case is assigned to.
package distribution

import (
	"context"
	"fmt"
	"sort"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
	"github.com/gotrs-io/gotrs-caseflow/internal/repository"
)

// Roster is the read-only team data the strategies consume.
type Roster interface {
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	TeamMembers(ctx context.Context, teamID string) ([]models.TeamMember, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// LoadCounter reports the live open-case load of an agent.
type LoadCounter interface {
	CountOpenCases(ctx context.Context, userID string) (int, error)
}

// Request describes one distribution decision.
type Request struct {
	Mode     models.DistributionMode
	TeamID   string
	UserID   string
	Position string
}

// Assigner dispatches a Request to the strategy selected by its mode.
type Assigner struct {
	roster     Roster
	roundRobin *RoundRobin
	leastBusy  *LeastBusy
}

// NewAssigner wires the strategies to their collaborators.
func NewAssigner(roster Roster, cursors CursorStore, loads LoadCounter) *Assigner {
	return &Assigner{
		roster:     roster,
		roundRobin: NewRoundRobin(roster, cursors),
		leastBusy:  NewLeastBusy(roster, loads),
	}
}

// Assign returns the id of the user the case goes to, or "" when the case
// stays unassigned. A team that does not resolve leaves the case unassigned.
func (a *Assigner) Assign(ctx context.Context, req Request) (string, error) {
	switch req.Mode {
	case models.DistributionNone:
		return "", nil
	case models.DistributionDirect:
		return req.UserID, nil
	case models.DistributionRoundRobin, models.DistributionLeastBusy:
		if req.TeamID == "" {
			return "", nil
		}
		team, err := a.roster.GetTeam(ctx, req.TeamID)
		if repository.IsNotFound(err) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("distribution: team %s: %w", req.TeamID, err)
		}
		var user *models.User
		if req.Mode == models.DistributionRoundRobin {
			user, err = a.roundRobin.GetUser(ctx, team, req.Position)
		} else {
			user, err = a.leastBusy.GetUser(ctx, team, req.Position)
		}
		if err != nil || user == nil {
			return "", err
		}
		return user.ID, nil
	default:
		return "", fmt.Errorf("distribution: unknown mode %d", int(req.Mode))
	}
}

// eligibleMembers returns active non-portal team members holding the
// position (any position when empty), ordered by user id.
func eligibleMembers(ctx context.Context, roster Roster, teamID, position string) ([]*models.User, error) {
	members, err := roster.TeamMembers(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("team %s members: %w", teamID, err)
	}
	seen := make(map[string]bool, len(members))
	users := make([]*models.User, 0, len(members))
	for _, m := range members {
		if position != "" && m.Role != position {
			continue
		}
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		u, err := roster.GetUser(ctx, m.UserID)
		if repository.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", m.UserID, err)
		}
		if u.Eligible() {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}
