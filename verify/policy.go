package verify

import (
	"github.com/pkg/errors"
)

// ErrUnknownRule means a policy was asked about a rule it does not have.
var ErrUnknownRule = errors.New("unknown rule")

// A Policy is the ordered list of rules a verification runs. Order matters:
// a rule may only depend on rules before it.
type Policy struct {
	Name           string
	ContainerRules []ContainerRule
	ContentRules   []ContentRule

	// States overrides the states of rules, by rule name.
	States map[string]State
}

// DefaultPolicy checks everything the built-in rules know about.
func DefaultPolicy() *Policy {
	return &Policy{
		Name:           "default",
		ContainerRules: ContainerRules(),
		ContentRules:   ContentRules(),
		States:         make(map[string]State),
	}
}

// NewPolicy returns the default policy with the given states, which map rule
// names to "fail", "warn" or "ignore".
func NewPolicy(name string, states map[string]string) (*Policy, error) {
	p := DefaultPolicy()
	if name != "" {
		p.Name = name
	}
	for rule, s := range states {
		st, err := ParseState(s)
		if err != nil {
			return nil, errors.Wrap(err, rule)
		}
		if err := p.SetState(rule, st); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SetState overrides the state of the named rule.
func (p *Policy) SetState(rule string, s State) error {
	if !p.has(rule) {
		return errors.Wrap(ErrUnknownRule, rule)
	}
	if p.States == nil {
		p.States = make(map[string]State)
	}
	p.States[rule] = s
	return nil
}

func (p *Policy) has(rule string) bool {
	for _, r := range p.ContainerRules {
		if r.Name() == rule {
			return true
		}
	}
	for _, r := range p.ContentRules {
		if r.Name() == rule {
			return true
		}
	}
	return false
}

// State returns the state r has under p.
func (p *Policy) State(r Rule) State {
	if s, ok := p.States[r.Name()]; ok {
		return s
	}
	return r.State()
}

// RuleNames lists every rule of p in the order they run.
func (p *Policy) RuleNames() []string {
	var result []string
	for _, r := range p.ContainerRules {
		result = append(result, r.Name())
	}
	for _, r := range p.ContentRules {
		result = append(result, r.Name())
	}
	return result
}
