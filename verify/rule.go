package verify

import (
	"github.com/ndlib/sigbag/container"
)

// Finding is what a rule reports about one element. The engine turns it into
// a Result using the rule's state.
type Finding struct {
	Element string
	OK      bool
	Message string
}

func pass(element, msg string) Finding { return Finding{Element: element, OK: true, Message: msg} }
func fail(element, msg string) Finding { return Finding{Element: element, Message: msg} }

// Outcome is what one rule evaluation returns. If Terminate is set the
// engine stops checking the current unit of work: the rest of the content
// for content rules, the rest of the container for container rules.
type Outcome struct {
	Findings  []Finding
	Terminate bool
	Reason    string
}

// Continue returns an outcome letting verification go on.
func Continue(fs ...Finding) Outcome {
	return Outcome{Findings: fs}
}

// Terminate returns an outcome which stops verification of the current unit.
func Terminate(reason string, fs ...Finding) Outcome {
	return Outcome{Findings: fs, Terminate: true, Reason: reason}
}

// Rule is the part common to container and content rules.
type Rule interface {
	Name() string

	// State is the state the rule has unless a policy overrides it.
	State() State

	// DependsOn lists rules which must not have failed for this rule to
	// run. A rule whose dependency failed is skipped.
	DependsOn() []string
}

// ContainerRule checks a whole container.
type ContainerRule interface {
	Rule
	VerifyContainer(c *container.Container, h *ResultHolder) Outcome
}

// ContentRule checks one signature content.
type ContentRule interface {
	Rule
	VerifyContent(sc *container.SignatureContent, h *ResultHolder) Outcome
}

type baseRule struct {
	name  string
	state State
	deps  []string
}

func (r baseRule) Name() string        { return r.name }
func (r baseRule) State() State        { return r.state }
func (r baseRule) DependsOn() []string { return r.deps }

type containerRule struct {
	baseRule
	check func(c *container.Container) Outcome
}

func (r containerRule) VerifyContainer(c *container.Container, h *ResultHolder) Outcome {
	return r.check(c)
}

type contentRule struct {
	baseRule
	check func(sc *container.SignatureContent) Outcome
}

func (r contentRule) VerifyContent(sc *container.SignatureContent, h *ResultHolder) Outcome {
	return r.check(sc)
}

// NewContainerRule makes a container rule from a function.
func NewContainerRule(name string, state State, check func(*container.Container) Outcome, deps ...string) ContainerRule {
	return containerRule{baseRule{name, state, deps}, check}
}

// NewContentRule makes a content rule from a function.
func NewContentRule(name string, state State, check func(*container.SignatureContent) Outcome, deps ...string) ContentRule {
	return contentRule{baseRule{name, state, deps}, check}
}
