package engine

import (
	"sort"
	"time"
)

// ResourceKind is a provider-agnostic infrastructure need.
type ResourceKind string

const (
	KindDatabase           ResourceKind = "database"
	KindObjectStorage      ResourceKind = "object_storage"
	KindKubernetesCluster  ResourceKind = "kubernetes_cluster"
	KindDNSZone            ResourceKind = "dns_zone"
	KindMessageBroker      ResourceKind = "message_broker"
	KindObservabilityStack ResourceKind = "observability_stack"
	KindClusterAddons      ResourceKind = "cluster_addons"
	KindVectorStore        ResourceKind = "vector_store"
)

// AllKinds lists every logical resource kind in a stable order.
func AllKinds() []ResourceKind {
	return []ResourceKind{
		KindDatabase,
		KindObjectStorage,
		KindKubernetesCluster,
		KindDNSZone,
		KindMessageBroker,
		KindObservabilityStack,
		KindClusterAddons,
		KindVectorStore,
	}
}

// ClusterDependent reports whether the kind runs inside the Kubernetes cluster.
func (k ResourceKind) ClusterDependent() bool {
	switch k {
	case KindMessageBroker, KindObservabilityStack, KindClusterAddons, KindVectorStore:
		return true
	}
	return false
}

// Valid reports whether k is a known kind.
func (k ResourceKind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// ProviderKind identifies a cloud provider.
type ProviderKind string

const (
	ProviderAWS   ProviderKind = "aws"
	ProviderAzure ProviderKind = "azure"
	ProviderGCP   ProviderKind = "gcp"
)

// AllProviders lists every supported provider.
func AllProviders() []ProviderKind {
	return []ProviderKind{ProviderAWS, ProviderAzure, ProviderGCP}
}

// Tier is the deployment environment class driving sizing and HA defaults.
type Tier string

const (
	TierDev        Tier = "dev"
	TierStaging    Tier = "staging"
	TierProduction Tier = "production"
)

// Environment is the operator-selected target of a run. It never changes
// once a plan has been generated.
type Environment struct {
	// Name is the environment name, used as a prefix for resource names.
	Name string `json:"name" validate:"required,min=3,max=40,envname"`

	// Provider is the selected cloud provider.
	Provider ProviderKind `json:"provider" validate:"required,oneof=aws azure gcp"`

	// Tier drives default sizing and high-availability settings.
	Tier Tier `json:"tier" validate:"required,oneof=dev staging production"`

	// Region is the provider region or location.
	Region string `json:"region" validate:"required"`

	// Labels are applied to every resource in the environment.
	Labels map[string]string `json:"labels,omitempty"`
}

// ResourceSpec is the provider-specific plan for one logical resource.
// Builders create it once per plan and nothing mutates it afterwards.
type ResourceSpec struct {
	// ID is the unique identifier for this resource within the environment.
	ID string `json:"id"`

	// Kind is the logical resource kind.
	Kind ResourceKind `json:"kind"`

	// Provider is the provider the attributes are written for.
	Provider ProviderKind `json:"provider"`

	// Attributes is the desired provider-specific configuration.
	Attributes map[string]interface{} `json:"attributes"`

	// DependsOn lists the ids this resource needs before it can be applied.
	DependsOn []string `json:"dependsOn,omitempty"`

	// Immutable lists attribute names whose change forces replacement.
	Immutable []string `json:"immutable,omitempty"`

	// Labels are tags applied to the cloud resource.
	Labels map[string]string `json:"labels,omitempty"`

	// Warnings are adjustments the builder made to the requested options.
	Warnings []string `json:"warnings,omitempty"`
}

// IsImmutable reports whether attribute forces replacement when changed.
func (s *ResourceSpec) IsImmutable(attribute string) bool {
	for _, name := range s.Immutable {
		if name == attribute {
			return true
		}
	}
	return false
}

// ResourceState is the last-applied record of one resource.
type ResourceState struct {
	// ID is the resource ID.
	ID string `json:"id"`

	// Kind is the logical resource kind.
	Kind ResourceKind `json:"kind"`

	// Provider is the provider the resource was created on.
	Provider ProviderKind `json:"provider"`

	// Attributes are the attributes last applied.
	Attributes map[string]interface{} `json:"attributes"`

	// Immutable is the immutable attribute list at apply time.
	Immutable []string `json:"immutable,omitempty"`

	// DependsOn are the dependencies at apply time, used to order deletes.
	DependsOn []string `json:"dependsOn,omitempty"`

	// Labels are the labels last applied.
	Labels map[string]string `json:"labels,omitempty"`

	// ProviderIDs are provider-assigned identifiers (ARNs, resource IDs).
	ProviderIDs map[string]string `json:"providerIds,omitempty"`

	// Outputs are raw provider outputs, mapped to logical keys by the output unifier.
	Outputs map[string]string `json:"outputs,omitempty"`

	// RunID is the run that last applied this resource.
	RunID string `json:"runId,omitempty"`

	// AppliedAt is when the resource was last applied.
	AppliedAt time.Time `json:"appliedAt"`
}

// StateSnapshot is the persisted record of what was last successfully applied.
type StateSnapshot struct {
	// Environment is the environment name the snapshot belongs to.
	Environment string `json:"environment"`

	// Lineage identifies the state history and never changes after the first write.
	Lineage string `json:"lineage"`

	// Serial increases by one on every write.
	Serial int64 `json:"serial"`

	// Resources maps resource ID to its last-applied state.
	Resources map[string]*ResourceState `json:"resources"`

	// UpdatedAt is when the snapshot was last written.
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewStateSnapshot returns an empty snapshot for env.
func NewStateSnapshot(env string) *StateSnapshot {
	return &StateSnapshot{
		Environment: env,
		Resources:   make(map[string]*ResourceState),
	}
}

// IDs returns the resource ids in the snapshot, sorted.
func (s *StateSnapshot) IDs() []string {
	ids := make([]string, 0, len(s.Resources))
	for id := range s.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the snapshot's resource map. Resource states
// themselves are replaced, never mutated, so they are shared.
func (s *StateSnapshot) Clone() *StateSnapshot {
	c := *s
	c.Resources = make(map[string]*ResourceState, len(s.Resources))
	for id, r := range s.Resources {
		c.Resources[id] = r
	}
	return &c
}

// OutputRecord is one normalized output.
type OutputRecord struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Sensitive bool   `json:"sensitive"`
}

// ProviderResult is what a driver reports after changing a resource.
type ProviderResult struct {
	// ProviderIDs are identifiers assigned by the provider.
	ProviderIDs map[string]string `json:"providerIds,omitempty"`

	// Outputs are raw, provider-shaped outputs.
	Outputs map[string]string `json:"outputs,omitempty"`
}

// PlanUnit is one resource operation in a plan.
type PlanUnit struct {
	// ID is the resource ID this unit operates on.
	ID string `json:"id"`

	// Kind is the logical resource kind.
	Kind ResourceKind `json:"kind"`

	// Provider is the provider executing this unit.
	Provider ProviderKind `json:"provider"`

	// Operation is the type of operation to perform.
	Operation OperationType `json:"operation"`

	// Status is the unit's position in the node state machine.
	Status NodeStatus `json:"status"`

	// Desired is the spec to converge to. Nil for deletes.
	Desired *ResourceSpec `json:"desired,omitempty"`

	// Prior is the state before this operation. Nil for creates.
	Prior *ResourceState `json:"prior,omitempty"`

	// Changes describes what will change if this operation is applied.
	Changes []Change `json:"changes,omitempty"`

	// DependsOn lists unit IDs that must be applied before this unit.
	DependsOn []string `json:"dependsOn,omitempty"`
}

// Change represents a single attribute change.
type Change struct {
	// Path is the attribute name.
	Path string `json:"path"`

	// Before is the value before the change.
	Before interface{} `json:"before,omitempty"`

	// After is the value after the change.
	After interface{} `json:"after,omitempty"`

	// Action is the type of change.
	Action ChangeAction `json:"action"`

	// ForcesReplacement is set when Path is immutable.
	ForcesReplacement bool `json:"forcesReplacement,omitempty"`
}

// ChangeAction represents the type of change being made.
type ChangeAction string

const (
	ChangeActionAdd    ChangeAction = "add"
	ChangeActionModify ChangeAction = "modify"
	ChangeActionRemove ChangeAction = "remove"
)

// PlanMode distinguishes a converging plan from a teardown.
type PlanMode string

const (
	PlanModeApply   PlanMode = "apply"
	PlanModeDestroy PlanMode = "destroy"
)

// Plan is a fully diffed set of units ready to apply.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// Environment is the environment the plan targets.
	Environment Environment `json:"environment"`

	// Mode is apply or destroy.
	Mode PlanMode `json:"mode"`

	// Units are the plan units in topological order.
	Units []*PlanUnit `json:"units"`

	// Graph is the execution graph over unit IDs.
	Graph *DependencyGraph `json:"-"`

	// Summary counts units by operation.
	Summary PlanSummary `json:"summary"`

	// StateSerial is the snapshot serial the plan was diffed against.
	StateSerial int64 `json:"stateSerial"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"createdAt"`
}

// Unit returns the unit for id, or nil.
func (p *Plan) Unit(id string) *PlanUnit {
	for _, u := range p.Units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// HasChanges reports whether any unit would change infrastructure.
func (p *Plan) HasChanges() bool {
	for _, u := range p.Units {
		if u.Operation.IsMutating() {
			return true
		}
	}
	return false
}

// PlanSummary provides aggregate statistics about a plan.
type PlanSummary struct {
	Total    int `json:"total"`
	NoChange int `json:"noChange"`
	Create   int `json:"create"`
	Update   int `json:"update"`
	Delete   int `json:"delete"`
	Replace  int `json:"replace"`
}

// UnitResult is the outcome of applying one unit.
type UnitResult struct {
	// ID is the resource ID.
	ID string `json:"id"`

	// Operation is the operation applied.
	Operation OperationType `json:"operation"`

	// Status is the final node status.
	Status NodeStatus `json:"status"`

	// Attempts is the number of driver calls made, retries included.
	Attempts int `json:"attempts"`

	// Err is the failure, if any.
	Err error `json:"-"`

	// Error is Err rendered for serialization.
	Error string `json:"error,omitempty"`

	// StartedAt is when the unit began applying.
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when the unit finished.
	CompletedAt time.Time `json:"completedAt"`
}

// Run represents a single plan or apply execution.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// PlanID is the plan being executed, set once planning completes.
	PlanID string `json:"planId,omitempty"`

	// Environment is the environment name.
	Environment string `json:"environment"`

	// Mode is apply or destroy.
	Mode PlanMode `json:"mode"`

	// Status is the run's position in the run state machine.
	Status RunStatus `json:"status"`

	// Results maps unit ID to its outcome.
	Results map[string]*UnitResult `json:"results,omitempty"`

	// Summary provides aggregate statistics about the run.
	Summary RunSummary `json:"summary"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RunSummary provides aggregate statistics about a run.
type RunSummary struct {
	Total     int `json:"total"`
	Applied   int `json:"applied"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Cancelled int `json:"cancelled"`
}

// Event represents a notable change during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// RunID is the run this event belongs to.
	RunID string `json:"runId"`

	// ResourceID is the resource this event concerns, if any.
	ResourceID string `json:"resourceId,omitempty"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Level is the severity (info, warn, error).
	Level string `json:"level"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Data holds event-specific details.
	Data map[string]interface{} `json:"data,omitempty"`
}
