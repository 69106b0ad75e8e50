package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestAssemble_ClusterPrecedesDependents(t *testing.T) {
	graph, err := Assemble(fullStack(true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	clusterPos := graph.Position("kubernetes_cluster")
	for _, id := range []string{"cluster_addons", "message_broker", "vector_store", "observability_stack"} {
		if pos := graph.Position(id); pos <= clusterPos {
			t.Errorf("Expected %s after kubernetes_cluster, got position %d <= %d", id, pos, clusterPos)
		}
	}

	if err := graph.Validate(); err != nil {
		t.Errorf("Expected valid graph, got: %v", err)
	}
}

func TestAssemble_LeafKindsAreRoots(t *testing.T) {
	graph, err := Assemble(fullStack(false))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	roots := graph.Levels[0]
	want := []string{"database", "dns_zone", "kubernetes_cluster", "object_storage"}
	if strings.Join(roots, ",") != strings.Join(want, ",") {
		t.Errorf("Expected roots %v, got %v", want, roots)
	}
	if len(graph.Nodes["database"].Dependents) != 0 {
		t.Errorf("Expected database to have no dependents, got %v", graph.Nodes["database"].Dependents)
	}
}

func TestAssemble_ExternalDNSAddsZoneEdge(t *testing.T) {
	tests := []struct {
		name        string
		externalDNS bool
		wantEdge    bool
	}{
		{name: "enabled", externalDNS: true, wantEdge: true},
		{name: "disabled", externalDNS: false, wantEdge: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph, err := Assemble(fullStack(tt.externalDNS))
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			deps := graph.Nodes["cluster_addons"].Dependencies
			got := contains(deps, "dns_zone")
			if got != tt.wantEdge {
				t.Errorf("Expected dns_zone edge=%v, got deps %v", tt.wantEdge, deps)
			}
		})
	}
}

func TestAssemble_ExplicitCycle(t *testing.T) {
	specs := fullStack(false)
	for _, s := range specs {
		if s.ID == "kubernetes_cluster" {
			s.DependsOn = []string{"observability_stack"}
		}
	}

	_, err := Assemble(specs)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("Expected CycleDetected, got: %v", err)
	}
	if !strings.Contains(err.Error(), "kubernetes_cluster") || !strings.Contains(err.Error(), "observability_stack") {
		t.Errorf("Expected cycle path in error, got: %v", err)
	}
}

func TestAssemble_SelfDependency(t *testing.T) {
	_, err := Assemble([]*ResourceSpec{testSpec("database", KindDatabase, "database")})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("Expected CycleDetected, got: %v", err)
	}
}

func TestAssemble_UnknownDependency(t *testing.T) {
	_, err := Assemble([]*ResourceSpec{testSpec("database", KindDatabase, "dns_zone")})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("Expected ConfigError, got: %v", err)
	}
	var e *EngineError
	if !errors.As(err, &e) || e.Resource != "database" || e.Field != "database.dependsOn" {
		t.Errorf("Expected error naming database.dependsOn, got: %+v", e)
	}
}

func TestAssemble_DuplicateID(t *testing.T) {
	_, err := Assemble([]*ResourceSpec{
		testSpec("database", KindDatabase),
		testSpec("database", KindDatabase),
	})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("Expected ConfigError, got: %v", err)
	}
}

func TestAssemble_ClusterDependentWithoutCluster(t *testing.T) {
	_, err := Assemble([]*ResourceSpec{testSpec("message_broker", KindMessageBroker)})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("Expected ConfigError, got: %v", err)
	}
}

func TestAssemble_ExternalDNSWithoutZone(t *testing.T) {
	addons := testSpec("cluster_addons", KindClusterAddons)
	addons.Attributes[AttrExternalDNSEnabled] = true
	_, err := Assemble([]*ResourceSpec{testSpec("kubernetes_cluster", KindKubernetesCluster), addons})

	var e *EngineError
	if !errors.As(err, &e) || e.Field != "cluster_addons.externalDns" {
		t.Fatalf("Expected ConfigError on cluster_addons.externalDns, got: %v", err)
	}
}

func TestAssemble_DeterministicOrder(t *testing.T) {
	first, err := Assemble(fullStack(true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Assemble(fullStack(true))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if strings.Join(again.Order, ",") != strings.Join(first.Order, ",") {
			t.Fatalf("Expected stable order %v, got %v", first.Order, again.Order)
		}
	}
}

func TestDependencyGraph_Descendants(t *testing.T) {
	graph, err := Assemble(fullStack(true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got := graph.Descendants("dns_zone")
	if strings.Join(got, ",") != "cluster_addons" {
		t.Errorf("Expected [cluster_addons], got %v", got)
	}
	if len(graph.Descendants("kubernetes_cluster")) != 4 {
		t.Errorf("Expected 4 descendants of the cluster, got %v", graph.Descendants("kubernetes_cluster"))
	}
}

func TestDependencyGraph_ToDOT(t *testing.T) {
	graph, err := Assemble(fullStack(true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := graph.ToDOT()
	if !strings.HasPrefix(dot, "digraph DependencyGraph {") {
		t.Errorf("Expected DOT header, got: %s", dot)
	}
	if !strings.Contains(dot, `"kubernetes_cluster" -> "message_broker"`) {
		t.Errorf("Expected cluster edge in DOT output")
	}
}
