package verify

import (
	"strings"

	"github.com/pkg/errors"
)

// Status is the outcome of one check. Statuses are ordered by severity.
type Status int

// The statuses, least severe first.
const (
	Ignored Status = iota
	OK
	Warn
	NOK
)

var statusNames = []string{"IGNORED", "OK", "WARN", "NOK"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "UNKNOWN"
	}
	return statusNames[s]
}

// MarshalText encodes a status by name in reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State says how a rule's failures are reported.
type State int

// The rule states.
const (
	// Fail reports failures as NOK.
	Fail State = iota
	// Warning reports failures as WARN.
	Warning
	// Ignore turns the rule off.
	Ignore
)

// ErrBadState means a rule state could not be parsed.
var ErrBadState = errors.New("unknown rule state")

// ParseState reads "fail", "warn" or "ignore".
func ParseState(s string) (State, error) {
	switch strings.ToLower(s) {
	case "fail":
		return Fail, nil
	case "warn", "warning":
		return Warning, nil
	case "ignore":
		return Ignore, nil
	}
	return Fail, errors.Wrap(ErrBadState, s)
}

func (s State) String() string {
	switch s {
	case Warning:
		return "warn"
	case Ignore:
		return "ignore"
	}
	return "fail"
}

// Result is one finding of one rule. Results are not changed once made.
type Result struct {
	Status  Status `json:"status" yaml:"status"`
	Rule    string `json:"rule" yaml:"rule"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"` // manifest path; empty for container rules
	Element string `json:"element,omitempty" yaml:"element,omitempty"` // path of the tested file
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// ResultHolder gathers the results of one verification run.
type ResultHolder struct {
	results []Result
}

// Add appends results.
func (h *ResultHolder) Add(rs ...Result) {
	h.results = append(h.results, rs...)
}

// Results returns every result in the order they were added.
func (h *ResultHolder) Results() []Result {
	return append([]Result(nil), h.results...)
}

// For returns the results for the content whose manifest is at path.
func (h *ResultHolder) For(content string) []Result {
	var result []Result
	for _, r := range h.results {
		if r.Content == content {
			result = append(result, r)
		}
	}
	return result
}

// Failed is true if rule has a NOK result for content.
func (h *ResultHolder) Failed(rule, content string) bool {
	for _, r := range h.results {
		if r.Rule == rule && r.Content == content && r.Status == NOK {
			return true
		}
	}
	return false
}

// Status is the most severe status among the results.
func (h *ResultHolder) Status() Status {
	return Aggregate(h.results)
}

// Aggregate returns the most severe status in rs, or Ignored if rs has
// none but ignored results.
func Aggregate(rs []Result) Status {
	s := Ignored
	for _, r := range rs {
		if r.Status > s {
			s = r.Status
		}
	}
	return s
}
