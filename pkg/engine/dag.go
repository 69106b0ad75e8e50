package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph is a directed acyclic graph over resource or unit IDs.
type DependencyGraph struct {
	// Nodes maps ID to its node.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Order is a deterministic topological order.
	Order []string `json:"order"`

	// Levels groups IDs by depth; every ID in level n only depends on IDs in levels < n.
	Levels [][]string `json:"levels"`

	// specs holds the resource specs when the graph was assembled from them.
	specs map[string]*ResourceSpec
}

// GraphNode represents a node in the dependency graph.
type GraphNode struct {
	// ID is the resource or unit ID.
	ID string `json:"id"`

	// Kind is the resource kind.
	Kind ResourceKind `json:"kind"`

	// Operation is set on execution graphs.
	Operation OperationType `json:"operation,omitempty"`

	// Level is the depth of the node; 0 for roots.
	Level int `json:"level"`

	// Dependencies are the IDs this node waits for, sorted.
	Dependencies []string `json:"dependencies"`

	// Dependents are the IDs waiting for this node, sorted.
	Dependents []string `json:"dependents"`
}

// Spec returns the resource spec for id when the graph was assembled from specs.
func (g *DependencyGraph) Spec(id string) *ResourceSpec {
	if g.specs == nil {
		return nil
	}
	return g.specs[id]
}

// Position returns the index of id in Order, or -1.
func (g *DependencyGraph) Position(id string) int {
	for i, o := range g.Order {
		if o == id {
			return i
		}
	}
	return -1
}

// Descendants returns every ID reachable from id through dependents, sorted.
func (g *DependencyGraph) Descendants(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		node, ok := g.Nodes[n]
		if !ok {
			return
		}
		for _, d := range node.Dependents {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(id)
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Assemble builds the dependency graph for a set of resource specs.
// The fixed ordering rules are added on top of each spec's explicit DependsOn:
// every cluster-dependent kind depends on the Kubernetes cluster, and cluster
// add-ons depend on the DNS zone when external DNS is enabled.
func Assemble(specs []*ResourceSpec) (*DependencyGraph, error) {
	byKind := make(map[ResourceKind]string)
	index := make(map[string]*ResourceSpec, len(specs))
	for _, s := range specs {
		if s == nil || s.ID == "" {
			return nil, NewConfigError("id", "resource spec has empty ID")
		}
		if _, exists := index[s.ID]; exists {
			return nil, NewConfigError("id", fmt.Sprintf("duplicate resource ID: %s", s.ID)).
				WithResource(s.ID)
		}
		index[s.ID] = s
		byKind[s.Kind] = s.ID
	}

	nodes := make([]dagInput, 0, len(specs))
	for _, s := range specs {
		deps := make(map[string]bool)
		for _, d := range s.DependsOn {
			deps[d] = true
		}

		if s.Kind.ClusterDependent() {
			clusterID, ok := byKind[KindKubernetesCluster]
			if !ok {
				return nil, NewConfigError(string(KindKubernetesCluster),
					fmt.Sprintf("%s requires a kubernetes_cluster", s.Kind)).WithResource(s.ID)
			}
			deps[clusterID] = true
		}
		if s.Kind == KindClusterAddons && ExternalDNSEnabled(s) {
			zoneID, ok := byKind[KindDNSZone]
			if !ok {
				return nil, NewConfigError("cluster_addons.externalDns",
					"external DNS integration requires a dns_zone").WithResource(s.ID)
			}
			deps[zoneID] = true
		}

		node := dagInput{ID: s.ID, Kind: s.Kind}
		for d := range deps {
			node.DependsOn = append(node.DependsOn, d)
		}
		sort.Strings(node.DependsOn)
		nodes = append(nodes, node)
	}

	graph, err := NewDAGBuilder().build(nodes)
	if err != nil {
		return nil, err
	}
	graph.specs = index
	return graph, nil
}

// ExternalDNSEnabled reports whether a cluster add-ons spec registers DNS records.
func ExternalDNSEnabled(s *ResourceSpec) bool {
	v, ok := s.Attributes[AttrExternalDNSEnabled].(bool)
	return ok && v
}

// AttrExternalDNSEnabled is the cluster add-ons attribute that links them to the DNS zone.
const AttrExternalDNSEnabled = "externalDnsEnabled"

// dagInput is one node handed to the DAG builder.
type dagInput struct {
	ID        string
	Kind      ResourceKind
	Operation OperationType
	DependsOn []string
}

// DAGBuilder builds a directed acyclic graph.
// It performs topological sorting and assigns execution levels for parallel execution.
type DAGBuilder struct {
	// nodes maps IDs to their inputs
	nodes map[string]dagInput

	// adjacencyList maps IDs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps IDs to their dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	// levels maps execution level to IDs at that level
	levels [][]string

	// order is the flattened topological order
	order []string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		nodes:                make(map[string]dagInput),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// BuildUnitGraph constructs the execution graph of plan units from their DependsOn.
func (b *DAGBuilder) BuildUnitGraph(units []*PlanUnit) (*DependencyGraph, error) {
	nodes := make([]dagInput, 0, len(units))
	for _, u := range units {
		nodes = append(nodes, dagInput{ID: u.ID, Kind: u.Kind, Operation: u.Operation, DependsOn: u.DependsOn})
	}
	return b.build(nodes)
}

func (b *DAGBuilder) build(nodes []dagInput) (*DependencyGraph, error) {
	if err := b.initialize(nodes); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}
	return b.buildGraph(), nil
}

// initialize sets up the internal data structures.
func (b *DAGBuilder) initialize(nodes []dagInput) error {
	for _, n := range nodes {
		if n.ID == "" {
			return NewConfigError("id", "graph node has empty ID")
		}
		if _, exists := b.nodes[n.ID]; exists {
			return NewConfigError("id", fmt.Sprintf("duplicate ID: %s", n.ID)).WithResource(n.ID)
		}
		b.nodes[n.ID] = n
		b.adjacencyList[n.ID] = nil
		b.reverseAdjacencyList[n.ID] = nil
		b.inDegree[n.ID] = 0
	}

	for _, id := range b.sortedIDs() {
		n := b.nodes[id]
		seen := make(map[string]bool)
		for _, dep := range n.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if dep == id {
				return NewCycleError([]string{id, id}).WithResource(id)
			}
			if _, exists := b.nodes[dep]; !exists {
				return NewConfigError(string(n.Kind)+".dependsOn",
					fmt.Sprintf("%s depends on unknown resource %s", id, dep)).WithResource(id)
			}
			// dependency must complete before node can start
			b.adjacencyList[dep] = append(b.adjacencyList[dep], id)
			b.reverseAdjacencyList[id] = append(b.reverseAdjacencyList[id], dep)
			b.inDegree[id]++
		}
	}

	for id := range b.nodes {
		sort.Strings(b.adjacencyList[id])
		sort.Strings(b.reverseAdjacencyList[id])
	}
	return nil
}

func (b *DAGBuilder) sortedIDs() []string {
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.sortedIDs() {
		if !visited[id] {
			if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
				return NewCycleError(cycle).WithResource(cycle[0])
			}
		}
	}
	return nil
}

// detectCyclesUtil performs DFS and returns the cycle path if one is found.
func (b *DAGBuilder) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					cycle := append([]string{}, path[i:]...)
					return append(cycle, dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels assigns levels using Kahn's algorithm. Each level is sorted,
// so the resulting order is deterministic.
func (b *DAGBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	var current []string
	for _, id := range b.sortedIDs() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		b.order = append(b.order, current...)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range b.adjacencyList[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(b.nodes) {
		return NewPermanentError("failed to order all nodes", nil).WithCode(ErrCodeInternal)
	}
	return nil
}

func (b *DAGBuilder) buildGraph() *DependencyGraph {
	graph := &DependencyGraph{
		Nodes:  make(map[string]*GraphNode, len(b.nodes)),
		Order:  b.order,
		Levels: b.levels,
	}
	for level, ids := range b.levels {
		for _, id := range ids {
			n := b.nodes[id]
			graph.Nodes[id] = &GraphNode{
				ID:           id,
				Kind:         n.Kind,
				Operation:    n.Operation,
				Level:        level,
				Dependencies: append([]string{}, b.reverseAdjacencyList[id]...),
				Dependents:   append([]string{}, b.adjacencyList[id]...),
			}
		}
	}
	return graph
}

// ToDOT generates a DOT format representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (g *DependencyGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph DependencyGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			node := g.Nodes[id]
			label := id
			if node.Operation != "" {
				label = fmt.Sprintf("%s\\n%s", id, node.Operation)
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, label, getOperationColor(node.Operation)))
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range g.Order {
		for _, dep := range g.Nodes[id].Dependencies {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dep, id))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// getOperationColor returns a color for visualizing operation types.
func getOperationColor(op OperationType) string {
	switch op {
	case OperationCreate:
		return "lightgreen"
	case OperationUpdate:
		return "lightblue"
	case OperationDelete, OperationReplace:
		return "lightcoral"
	case OperationNoop:
		return "lightgray"
	default:
		return "white"
	}
}

// Validate checks the graph's internal consistency.
func (g *DependencyGraph) Validate() error {
	if len(g.Order) != len(g.Nodes) {
		return NewPermanentError("graph order does not cover every node", nil).WithCode(ErrCodeInternal)
	}
	pos := make(map[string]int, len(g.Order))
	for i, id := range g.Order {
		pos[id] = i
	}
	for id, node := range g.Nodes {
		for _, dep := range node.Dependencies {
			p, ok := pos[dep]
			if !ok {
				return NewPermanentError(fmt.Sprintf("edge references non-existent node: %s", dep), nil).
					WithCode(ErrCodeInternal)
			}
			if p >= pos[id] {
				return NewPermanentError(fmt.Sprintf("%s is ordered before its dependency %s", id, dep), nil).
					WithCode(ErrCodeInternal)
			}
		}
	}
	return nil
}
