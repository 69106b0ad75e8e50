package policy

import (
	"time"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that are logged but never block a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the plan.
	SeverityError Severity = "error"
)

// Blocking reports whether a violation of severity s denies the plan.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are the members of
	// the package's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Input is the document a plan is evaluated against, available to Rego as input.
type Input struct {
	// Environment is the plan's target environment.
	Environment InputEnvironment `json:"environment"`

	// Mode is apply or destroy.
	Mode engine.PlanMode `json:"mode"`

	// Units are the plan units in topological order.
	Units []InputUnit `json:"units"`

	// Context carries operator intent.
	Context Context `json:"context"`
}

// InputEnvironment is the environment section of Input.
type InputEnvironment struct {
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Tier     string            `json:"tier"`
	Region   string            `json:"region"`
	Labels   map[string]string `json:"labels"`
}

// InputUnit is one plan unit as seen by policies.
type InputUnit struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Provider  string `json:"provider"`
	Operation string `json:"operation"`

	// Attributes are the desired attributes, or the prior ones for deletes.
	Attributes map[string]interface{} `json:"attributes"`

	// Changed lists the attribute paths that differ from state.
	Changed []string `json:"changed"`

	// Immutable lists the attributes whose change forces replacement.
	Immutable []string `json:"immutable"`

	// ForcesReplacement lists the changed paths that force replacement.
	ForcesReplacement []string `json:"forces_replacement"`
}

// Context provides operator intent for policy evaluation.
type Context struct {
	// AllowDestroy is set when the operator accepts destructive changes.
	AllowDestroy bool `json:"allow_destroy"`

	// User is the operator running the plan.
	User string `json:"user,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// NewInput builds the evaluation document for plan.
func NewInput(plan *engine.Plan, ctx Context) *Input {
	env := plan.Environment
	in := &Input{
		Environment: InputEnvironment{
			Name:     env.Name,
			Provider: string(env.Provider),
			Tier:     string(env.Tier),
			Region:   env.Region,
			Labels:   env.Labels,
		},
		Mode:    plan.Mode,
		Units:   make([]InputUnit, 0, len(plan.Units)),
		Context: ctx,
	}
	if in.Environment.Labels == nil {
		in.Environment.Labels = map[string]string{}
	}

	for _, u := range plan.Units {
		iu := InputUnit{
			ID:                u.ID,
			Kind:              string(u.Kind),
			Provider:          string(u.Provider),
			Operation:         string(u.Operation),
			Changed:           make([]string, 0, len(u.Changes)),
			Immutable:         []string{},
			ForcesReplacement: []string{},
		}
		switch {
		case u.Desired != nil:
			iu.Attributes = u.Desired.Attributes
			iu.Immutable = append(iu.Immutable, u.Desired.Immutable...)
		case u.Prior != nil:
			iu.Attributes = u.Prior.Attributes
			iu.Immutable = append(iu.Immutable, u.Prior.Immutable...)
		}
		if iu.Attributes == nil {
			iu.Attributes = map[string]interface{}{}
		}
		for _, c := range u.Changes {
			iu.Changed = append(iu.Changed, c.Path)
			if c.ForcesReplacement {
				iu.ForcesReplacement = append(iu.ForcesReplacement, c.Path)
			}
		}
		in.Units = append(in.Units, iu)
	}
	return in
}
