package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PlanOptions controls how a plan is computed.
type PlanOptions struct {
	// Refresh reads live state through the driver instead of trusting the snapshot.
	Refresh bool
}

// Planner diffs desired resource specs against a state snapshot and builds
// the execution graph of the resulting units. Planning is single-threaded:
// the plan is complete before anything is applied.
type Planner struct {
	// driver is consulted for live reads when refreshing
	driver Driver
}

// NewPlanner creates a planner. driver may be nil when refresh is never used.
func NewPlanner(driver Driver) *Planner {
	return &Planner{driver: driver}
}

// Plan computes the units needed to converge snapshot to graph.
func (p *Planner) Plan(
	ctx context.Context,
	env Environment,
	graph *DependencyGraph,
	snapshot *StateSnapshot,
	opts PlanOptions,
) (*Plan, error) {
	if graph == nil {
		return nil, NewPermanentError("dependency graph is nil", nil).WithCode(ErrCodeValidation)
	}
	if snapshot == nil {
		snapshot = NewStateSnapshot(env.Name)
	}

	plan := newPlan(env, PlanModeApply, snapshot)
	priors, err := p.priors(ctx, snapshot, opts)
	if err != nil {
		return nil, err
	}

	for _, id := range graph.Order {
		spec := graph.Spec(id)
		if spec == nil {
			return nil, NewPermanentError(fmt.Sprintf("graph node %s has no spec", id), nil).
				WithCode(ErrCodeInternal)
		}
		prior := priors[id]
		op, changes := Diff(spec, prior)
		plan.Units = append(plan.Units, &PlanUnit{
			ID:        id,
			Kind:      spec.Kind,
			Provider:  spec.Provider,
			Operation: op,
			Status:    NodeStatusDiffed,
			Desired:   spec,
			Prior:     prior,
			Changes:   changes,
			DependsOn: append([]string{}, graph.Nodes[id].Dependencies...),
		})
	}

	cascadeReplacements(plan.Units)

	for _, id := range snapshot.IDs() {
		if graph.Nodes[id] != nil {
			continue
		}
		prior := snapshot.Resources[id]
		plan.Units = append(plan.Units, deleteUnit(prior))
	}

	orderDeletes(plan.Units)
	if err := plan.finalize(); err != nil {
		return nil, err
	}
	return plan, nil
}

// PlanDestroy computes a plan deleting every resource in snapshot.
func (p *Planner) PlanDestroy(env Environment, snapshot *StateSnapshot) (*Plan, error) {
	if snapshot == nil {
		snapshot = NewStateSnapshot(env.Name)
	}
	plan := newPlan(env, PlanModeDestroy, snapshot)
	for _, id := range snapshot.IDs() {
		plan.Units = append(plan.Units, deleteUnit(snapshot.Resources[id]))
	}
	orderDeletes(plan.Units)
	if err := plan.finalize(); err != nil {
		return nil, err
	}
	return plan, nil
}

func newPlan(env Environment, mode PlanMode, snapshot *StateSnapshot) *Plan {
	return &Plan{
		ID:          uuid.New().String(),
		Environment: env,
		Mode:        mode,
		StateSerial: snapshot.Serial,
		CreatedAt:   time.Now().UTC(),
	}
}

func deleteUnit(prior *ResourceState) *PlanUnit {
	return &PlanUnit{
		ID:        prior.ID,
		Kind:      prior.Kind,
		Provider:  prior.Provider,
		Operation: OperationDelete,
		Status:    NodeStatusDiffed,
		Prior:     prior,
		Changes:   []Change{{Path: ".", Before: prior.ID, Action: ChangeActionRemove}},
	}
}

// cascadeReplacements replaces every cluster-dependent unit whose cluster is
// replaced: deleting a cluster deletes everything running inside it. units
// must be in topological order.
func cascadeReplacements(units []*PlanUnit) {
	byID := make(map[string]*PlanUnit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	for _, u := range units {
		if u.Prior == nil || !u.Kind.ClusterDependent() {
			continue
		}
		if u.Operation != OperationNoop && u.Operation != OperationUpdate {
			continue
		}
		for _, dep := range u.DependsOn {
			host := byID[dep]
			if host == nil || host.Kind != KindKubernetesCluster || host.Operation != OperationReplace {
				continue
			}
			u.Operation = OperationReplace
			u.Changes = append(u.Changes, Change{
				Path:              "host",
				Before:            host.ID,
				After:             host.ID + " (replaced)",
				Action:            ChangeActionModify,
				ForcesReplacement: true,
			})
			break
		}
	}
}

// orderDeletes makes every delete wait for the units that depended on the
// deleted resource at its last apply, so dependents go first.
func orderDeletes(units []*PlanUnit) {
	for _, u := range units {
		if u.Operation != OperationDelete {
			continue
		}
		for _, other := range units {
			if other.ID == u.ID || other.Prior == nil {
				continue
			}
			if contains(other.Prior.DependsOn, u.ID) {
				u.DependsOn = appendUnique(u.DependsOn, other.ID)
			}
		}
		sort.Strings(u.DependsOn)
	}
}

func (p *Planner) priors(ctx context.Context, snapshot *StateSnapshot, opts PlanOptions) (map[string]*ResourceState, error) {
	priors := make(map[string]*ResourceState, len(snapshot.Resources))
	reader, canRead := p.driver.(Reader)
	for _, id := range snapshot.IDs() {
		prior := snapshot.Resources[id]
		if !opts.Refresh || !canRead {
			priors[id] = prior
			continue
		}
		live, err := reader.Read(ctx, prior)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh %s: %w", id, err)
		}
		if live != nil {
			priors[id] = live
		}
	}
	return priors, nil
}

// finalize orders the units topologically and builds the execution graph.
func (p *Plan) finalize() error {
	graph, err := NewDAGBuilder().BuildUnitGraph(p.Units)
	if err != nil {
		return err
	}
	byID := make(map[string]*PlanUnit, len(p.Units))
	for _, u := range p.Units {
		byID[u.ID] = u
	}
	ordered := make([]*PlanUnit, 0, len(p.Units))
	for _, id := range graph.Order {
		ordered = append(ordered, byID[id])
	}
	p.Units = ordered
	p.Graph = graph
	p.Summary = summarize(ordered)
	return nil
}

func summarize(units []*PlanUnit) PlanSummary {
	s := PlanSummary{Total: len(units)}
	for _, u := range units {
		switch u.Operation {
		case OperationNoop:
			s.NoChange++
		case OperationCreate:
			s.Create++
		case OperationUpdate:
			s.Update++
		case OperationDelete:
			s.Delete++
		case OperationReplace:
			s.Replace++
		}
	}
	return s
}

// Diff compares a desired spec against its last-applied state.
// A nil prior yields Create. A changed immutable attribute or a changed
// provider yields Replace; any other difference yields Update.
func Diff(spec *ResourceSpec, prior *ResourceState) (OperationType, []Change) {
	if prior == nil {
		changes := make([]Change, 0, len(spec.Attributes))
		for _, key := range sortedKeys(spec.Attributes) {
			changes = append(changes, Change{Path: key, After: spec.Attributes[key], Action: ChangeActionAdd})
		}
		return OperationCreate, changes
	}

	var changes []Change
	replace := false

	if prior.Provider != spec.Provider || prior.Kind != spec.Kind {
		replace = true
		changes = append(changes, Change{
			Path:              "provider",
			Before:            string(prior.Provider),
			After:             string(spec.Provider),
			Action:            ChangeActionModify,
			ForcesReplacement: true,
		})
	}

	before := normalize(prior.Attributes)
	after := normalize(spec.Attributes)
	keys := make(map[string]bool)
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		b, inBefore := before[key]
		a, inAfter := after[key]
		if inBefore && inAfter && reflect.DeepEqual(a, b) {
			continue
		}
		change := Change{Path: key, Before: b, After: a, Action: ChangeActionModify}
		switch {
		case !inBefore:
			change.Action = ChangeActionAdd
		case !inAfter:
			change.Action = ChangeActionRemove
		}
		if spec.IsImmutable(key) {
			change.ForcesReplacement = true
			replace = true
		}
		changes = append(changes, change)
	}

	if !labelsEqual(prior.Labels, spec.Labels) {
		changes = append(changes, Change{Path: "labels", Before: prior.Labels, After: spec.Labels, Action: ChangeActionModify})
	}

	switch {
	case replace:
		return OperationReplace, changes
	case len(changes) > 0:
		return OperationUpdate, changes
	default:
		return OperationNoop, nil
	}
}

// normalize round-trips attributes through JSON so values read back from a
// persisted snapshot compare equal to freshly built ones.
func normalize(attrs map[string]interface{}) map[string]interface{} {
	if len(attrs) == 0 {
		return map[string]interface{}{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return attrs
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return attrs
	}
	return out
}

func labelsEqual(a, b map[string]string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	if contains(list, s) {
		return list
	}
	return append(list, s)
}
