package rbac

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Rule describes who passes one Action. An empty MinRole admits every
// active member.
type Rule struct {
	MinRole   string `yaml:"min_role,omitempty" json:"min_role,omitempty"`
	OwnerOnly bool   `yaml:"owner_only,omitempty" json:"owner_only,omitempty"`
}

// Policy maps actions to rules and role slugs to levels. New actions are
// added as data, not code.
type Policy struct {
	Levels map[string]int  `yaml:"levels" json:"levels"`
	Rules  map[Action]Rule `yaml:"rules" json:"rules"`
}

// DefaultPolicy returns the built-in policy table
func DefaultPolicy() *Policy {
	return &Policy{
		Levels: map[string]int{
			RoleOwner:  100,
			RoleAdmin:  50,
			RoleMember: 10,
		},
		Rules: map[Action]Rule{
			ActionView:          {},
			ActionUpdate:        {MinRole: RoleAdmin},
			ActionDelete:        {OwnerOnly: true},
			ActionManageMembers: {OwnerOnly: true},
			ActionManageModules: {OwnerOnly: true},
			ActionViewAudit:     {MinRole: RoleAdmin},
		},
	}
}

// LoadPolicy reads and validates a YAML policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses and validates a YAML policy document
func ParsePolicy(data []byte) (*Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate checks that the well-known levels are strictly ordered
// owner > admin > member > 0 and that every rule references a known role.
func (p *Policy) Validate() error {
	for _, slug := range []string{RoleOwner, RoleAdmin, RoleMember} {
		if _, ok := p.Levels[slug]; !ok {
			return fmt.Errorf("policy is missing level for role %q", slug)
		}
	}
	for slug, level := range p.Levels {
		if level <= 0 {
			return fmt.Errorf("role %q must have a positive level, got %d", slug, level)
		}
	}
	if !(p.Levels[RoleOwner] > p.Levels[RoleAdmin] && p.Levels[RoleAdmin] > p.Levels[RoleMember]) {
		return fmt.Errorf("role levels must satisfy owner > admin > member")
	}

	for action, rule := range p.Rules {
		if action == "" {
			return fmt.Errorf("policy rule with empty action")
		}
		if rule.MinRole == "" {
			continue
		}
		if _, ok := p.Levels[rule.MinRole]; !ok {
			return fmt.Errorf("rule %q references unknown role %q", action, rule.MinRole)
		}
		if rule.OwnerOnly {
			return fmt.Errorf("rule %q cannot be owner_only and set min_role", action)
		}
	}
	return nil
}

// WithAdminsManaging returns a copy of the policy in which the member and
// module management checks also pass for admin-level roles.
func (p *Policy) WithAdminsManaging(members, modules bool) *Policy {
	clone := p.Clone()
	if members {
		clone.Rules[ActionManageMembers] = Rule{MinRole: RoleAdmin}
	}
	if modules {
		clone.Rules[ActionManageModules] = Rule{MinRole: RoleAdmin}
	}
	return clone
}

// Clone returns a deep copy of the policy
func (p *Policy) Clone() *Policy {
	clone := &Policy{
		Levels: make(map[string]int, len(p.Levels)),
		Rules:  make(map[Action]Rule, len(p.Rules)),
	}
	for k, v := range p.Levels {
		clone.Levels[k] = v
	}
	for k, v := range p.Rules {
		clone.Rules[k] = v
	}
	return clone
}

// Actions returns the actions of the policy in sorted order
func (p *Policy) Actions() []Action {
	actions := make([]Action, 0, len(p.Rules))
	for action := range p.Rules {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Permits evaluates a rule for a subject. Unknown actions are an error,
// a failing rule is not.
func (p *Policy) Permits(action Action, subject Subject) (bool, error) {
	rule, ok := p.Rules[action]
	if !ok {
		return false, fmt.Errorf("unknown policy action %q", action)
	}

	if subject.GlobalAdmin || subject.Owner {
		return true, nil
	}
	if rule.OwnerOnly || subject.Role == nil {
		return false, nil
	}
	if rule.MinRole == "" {
		return true, nil
	}
	return p.LevelOf(subject.Role) >= p.Levels[rule.MinRole], nil
}

// LevelOf returns the level of a role. Levels in the policy take
// precedence over the stored level so a reloaded policy applies at once.
func (p *Policy) LevelOf(role *Role) int {
	if role == nil {
		return 0
	}
	if level, ok := p.Levels[role.Slug]; ok {
		return level
	}
	return role.Level
}
