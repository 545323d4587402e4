package access

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleDoctor Role = "DOCTOR"
	RoleNurse  Role = "NURSE"
)

type Resource string

const (
	ResourceAppointments Resource = "appointments"
	ResourceAudit        Resource = "audit"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ParseRole normalizes a role name. Unknown names are returned as-is so that
// the policy can deny them.
func ParseRole(raw string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(raw)))
}

type actionSet map[Action]struct{}

func newActionSet(actions ...Action) actionSet {
	s := make(actionSet, len(actions))
	for _, a := range actions {
		s[a] = struct{}{}
	}
	return s
}

// Policy maps a role to the actions it may perform on each resource.
// The zero value denies everything.
type Policy struct {
	rules map[Role]map[Resource]actionSet
}

// DefaultPolicy returns the clinic's standard table.
func DefaultPolicy() *Policy {
	return &Policy{rules: map[Role]map[Resource]actionSet{
		RoleAdmin: {
			ResourceAppointments: newActionSet(ActionCreate, ActionRead, ActionUpdate, ActionDelete),
			ResourceAudit:        newActionSet(ActionRead),
		},
		RoleDoctor: {
			ResourceAppointments: newActionSet(ActionCreate, ActionRead, ActionUpdate),
		},
		RoleNurse: {
			ResourceAppointments: newActionSet(ActionRead, ActionUpdate),
		},
	}}
}

// Authorize answers for the appointments resource.
func (p *Policy) Authorize(role Role, action Action) bool {
	return p.Allows(role, ResourceAppointments, action)
}

func (p *Policy) Allows(role Role, resource Resource, action Action) bool {
	if p == nil || p.rules == nil {
		return false
	}
	_, ok := p.rules[role][resource][action]
	return ok
}

func (p *Policy) Grant(role Role, resource Resource, action Action) {
	if p.rules == nil {
		p.rules = make(map[Role]map[Resource]actionSet)
	}
	if p.rules[role] == nil {
		p.rules[role] = make(map[Resource]actionSet)
	}
	if p.rules[role][resource] == nil {
		p.rules[role][resource] = newActionSet()
	}
	p.rules[role][resource][action] = struct{}{}
}

func (p *Policy) Revoke(role Role, resource Resource, action Action) {
	delete(p.rules[role][resource], action)
}

// Rule is a single role/resource/action triple.
type Rule struct {
	Role     Role
	Resource Resource
	Action   Action
}

func (r Rule) String() string {
	return fmt.Sprintf("%s:%s:%s", r.Role, r.Resource, r.Action)
}

// ParseRules parses entries of the form ROLE:resource:action.
func ParseRules(entries []string) ([]Rule, error) {
	var rules []Rule
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}

		parts := strings.Split(e, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("access rule %q: want ROLE:resource:action", e)
		}

		r := Rule{
			Role:     ParseRole(parts[0]),
			Resource: Resource(strings.ToLower(strings.TrimSpace(parts[1]))),
			Action:   Action(strings.ToLower(strings.TrimSpace(parts[2]))),
		}
		if !knownRole(r.Role) || !knownResource(r.Resource) || !knownAction(r.Action) {
			return nil, fmt.Errorf("access rule %q: unknown role, resource or action", e)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Apply grants and then revokes the given rules.
func (p *Policy) Apply(grants, revokes []Rule) {
	for _, r := range grants {
		p.Grant(r.Role, r.Resource, r.Action)
	}
	for _, r := range revokes {
		p.Revoke(r.Role, r.Resource, r.Action)
	}
}

func knownRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleNurse:
		return true
	}
	return false
}

func knownResource(r Resource) bool {
	return r == ResourceAppointments || r == ResourceAudit
}

func knownAction(a Action) bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}
