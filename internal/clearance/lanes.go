// Package clearance runs the separation clearance board: parallel lanes of
// checklist items owned by different departments. Completion of a separation
// is gated on every required item being cleared.
package clearance

import (
	"fmt"
)

// Lane is a department track on the board.
type Lane string

const (
	LaneIT          Lane = "IT"
	LaneFinance     Lane = "FINANCE"
	LaneAdminAssets Lane = "ADMIN_ASSETS"
	LaneInsurance   Lane = "INSURANCE"
	LaneUsedCars    Lane = "USED_CARS"
	LaneHRPayroll   Lane = "HR_PAYROLL"
	LaneOperations  Lane = "OPERATIONS"
)

// Lanes lists every lane in board order.
var Lanes = []Lane{LaneIT, LaneFinance, LaneAdminAssets, LaneInsurance, LaneUsedCars, LaneHRPayroll, LaneOperations}

// Valid reports whether l is a known lane.
func (l Lane) Valid() bool {
	for _, x := range Lanes {
		if x == l {
			return true
		}
	}
	return false
}

// LaneAccess decides which lanes an actor may act on from their roles.
// Override roles act on every lane and may add items.
type LaneAccess struct {
	byRole    map[string]map[Lane]bool
	overrides map[string]bool
}

// NewLaneAccess builds the mapping, rejecting unknown lane names.
func NewLaneAccess(byRole map[string][]string, overrideRoles []string) (*LaneAccess, error) {
	a := &LaneAccess{
		byRole:    make(map[string]map[Lane]bool, len(byRole)),
		overrides: make(map[string]bool, len(overrideRoles)),
	}
	for role, lanes := range byRole {
		set := make(map[Lane]bool, len(lanes))
		for _, name := range lanes {
			l := Lane(name)
			if !l.Valid() {
				return nil, fmt.Errorf("role %s maps to unknown lane %q", role, name)
			}
			set[l] = true
		}
		a.byRole[role] = set
	}
	for _, role := range overrideRoles {
		a.overrides[role] = true
	}
	return a, nil
}

// IsOverride reports whether any role is an override role.
func (a *LaneAccess) IsOverride(roles []string) bool {
	for _, r := range roles {
		if a.overrides[r] {
			return true
		}
	}
	return false
}

// CanAct reports whether the roles grant access to lane.
func (a *LaneAccess) CanAct(roles []string, lane Lane) bool {
	if a.IsOverride(roles) {
		return true
	}
	for _, r := range roles {
		if a.byRole[r][lane] {
			return true
		}
	}
	return false
}

// LanesFor lists the lanes the roles may act on, in board order.
func (a *LaneAccess) LanesFor(roles []string) []Lane {
	var out []Lane
	for _, l := range Lanes {
		if a.CanAct(roles, l) {
			out = append(out, l)
		}
	}
	return out
}

func laneIndex(l Lane) int {
	for i, x := range Lanes {
		if x == l {
			return i
		}
	}
	return len(Lanes)
}
