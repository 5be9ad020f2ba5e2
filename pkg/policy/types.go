package policy

import (
	"fmt"
	"time"

	"github.com/openfroyo/conform/pkg/profile"
)

// Severity grades a violation. Error and critical violations reject the
// profile; info and warning violations are reported only.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of s reject a profile.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// UnmarshalText rejects unknown severities in policy definitions.
func (s *Severity) UnmarshalText(text []byte) error {
	switch v := Severity(text); v {
	case "", SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		*s = v
		return nil
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
}

// Policy is one Rego module producing deny messages for profiles.
type Policy struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rego        string `json:"rego"`
	// Severity applies to deny messages that do not carry their own.
	Severity Severity `json:"severity"`
	Enabled  bool     `json:"enabled"`
	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single deny message.
type Violation struct {
	Policy   string   `json:"policy"`
	Profile  string   `json:"profile"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Policy, v.Message)
}

// Result is the outcome of evaluating every enabled policy against one
// profile.
type Result struct {
	// Allowed is false once any blocking violation is recorded.
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
	// Warnings lists policies that failed to evaluate.
	Warnings          []string      `json:"warnings,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

func (r *Result) add(vs ...Violation) {
	for _, v := range vs {
		if v.Severity.Blocking() {
			r.Allowed = false
		}
		r.Violations = append(r.Violations, v)
	}
}

// Blocking returns the violations that reject the profile.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies evaluate.
type Input struct {
	Profile   profile.Spec `json:"profile"`
	Path      string       `json:"path,omitempty"`
	Operation string       `json:"operation"`
}
