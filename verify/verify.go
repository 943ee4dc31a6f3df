/*
Package verify checks a container against the hashes its manifests record.

A verification runs the rules of a Policy in order. Container rules run once
and content rules run once for each signature content. Every rule reports
findings which become Results; a failing finding is NOK or WARN depending on
the state of the rule, and rules in the Ignore state do not run at all.

A rule is skipped when a rule it depends on already failed for the same
content, so one broken manifest does not show up as a failure of everything
below it. A rule may also terminate: the rest of the current content is not
checked, or, for container rules, nothing else is.

Verification never returns an error for problems with the container. They
are all reported as results.
*/
package verify

import (
	"log"
	"strings"

	"github.com/ndlib/sigbag/container"
)

// Verify checks c under p. A nil p means DefaultPolicy. The returned
// VerifiedContainer does not own c; closing it closes c.
func Verify(c *container.Container, p *Policy) *VerifiedContainer {
	if p == nil {
		p = DefaultPolicy()
	}
	e := &engine{p: p, h: new(ResultHolder)}
	if e.container(c) {
		for _, sc := range c.Contents() {
			e.content(sc)
		}
	}
	return newVerifiedContainer(c, p.Name, e.h)
}

type engine struct {
	p *Policy
	h *ResultHolder
}

// container runs the container rules. It returns false if one terminated.
func (e *engine) container(c *container.Container) bool {
	for _, r := range e.p.ContainerRules {
		if !e.ready(r, "") {
			continue
		}
		out := r.VerifyContainer(c, e.h)
		e.record(r, "", out)
		if out.Terminate {
			log.Printf("verify: %s terminated container checks: %s", r.Name(), out.Reason)
			return false
		}
	}
	return true
}

func (e *engine) content(sc *container.SignatureContent) {
	path := sc.ManifestPath()
	for _, r := range e.p.ContentRules {
		if !e.ready(r, path) {
			continue
		}
		out := r.VerifyContent(sc, e.h)
		e.record(r, path, out)
		if out.Terminate {
			log.Printf("verify: %s terminated checks of %s: %s", r.Name(), path, out.Reason)
			return
		}
	}
}

// ready is true if r should run for content. Rules whose dependencies
// failed are recorded as ignored.
func (e *engine) ready(r Rule, content string) bool {
	if e.p.State(r) == Ignore {
		return false
	}
	var failed []string
	for _, dep := range r.DependsOn() {
		if e.h.Failed(dep, content) {
			failed = append(failed, dep)
		}
	}
	if len(failed) > 0 {
		e.h.Add(Result{
			Status:  Ignored,
			Rule:    r.Name(),
			Content: content,
			Message: "skipped, failed: " + strings.Join(failed, ", "),
		})
		return false
	}
	return true
}

func (e *engine) record(r Rule, content string, out Outcome) {
	state := e.p.State(r)
	for _, f := range out.Findings {
		res := Result{
			Status:  OK,
			Rule:    r.Name(),
			Content: content,
			Element: f.Element,
			Message: f.Message,
		}
		if !f.OK {
			res.Status = NOK
			if state == Warning {
				res.Status = Warn
			}
		}
		e.h.Add(res)
	}
}

// VerifiedContainer is a container together with the results of verifying
// it.
type VerifiedContainer struct {
	*container.Container
	policy   string
	results  []Result
	contents []*VerifiedSignatureContent
}

func newVerifiedContainer(c *container.Container, policy string, h *ResultHolder) *VerifiedContainer {
	v := &VerifiedContainer{
		Container: c,
		policy:    policy,
		results:   h.For(""),
	}
	for _, sc := range c.Contents() {
		v.contents = append(v.contents, &VerifiedSignatureContent{
			SignatureContent: sc,
			results:          h.For(sc.ManifestPath()),
		})
	}
	return v
}

// Results returns the results of the container rules.
func (v *VerifiedContainer) Results() []Result {
	return append([]Result(nil), v.results...)
}

// AllResults returns every result, container rules first.
func (v *VerifiedContainer) AllResults() []Result {
	result := v.Results()
	for _, vc := range v.contents {
		result = append(result, vc.results...)
	}
	return result
}

// VerifiedContents returns one VerifiedSignatureContent per content of the
// container.
func (v *VerifiedContainer) VerifiedContents() []*VerifiedSignatureContent {
	return v.contents
}

// Status is the most severe status of all the results.
func (v *VerifiedContainer) Status() Status {
	return Aggregate(v.AllResults())
}

// Passed is true if no result is NOK.
func (v *VerifiedContainer) Passed() bool {
	return v.Status() != NOK
}

// VerifiedSignatureContent is a signature content together with the results
// of the content rules run on it.
type VerifiedSignatureContent struct {
	*container.SignatureContent
	results []Result
}

func (vc *VerifiedSignatureContent) Results() []Result {
	return append([]Result(nil), vc.results...)
}

func (vc *VerifiedSignatureContent) Status() Status {
	return Aggregate(vc.results)
}
