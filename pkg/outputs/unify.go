// Package outputs turns applied state into the provider-independent output
// contract and renders it for downstream tools: key/value documents, Helm
// values files and kubeconfigs.
package outputs

import (
	"fmt"
	"sort"

	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// Unify collects the logical outputs of every graph node that has state.
// A nil graph selects every resource in the snapshot. Records are sorted by
// key, and each applied resource must expose its kind's full key set.
func Unify(graph *engine.DependencyGraph, snap *engine.StateSnapshot, reg *providers.Registry) ([]engine.OutputRecord, error) {
	ids := snap.IDs()
	if graph != nil {
		ids = graph.Order
	}

	var records []engine.OutputRecord
	seen := make(map[string]string)
	for _, id := range ids {
		rs, ok := snap.Resources[id]
		if !ok || rs == nil {
			continue
		}
		if graph != nil {
			if node, ok := graph.Nodes[id]; ok && node.Operation == engine.OperationDelete {
				continue
			}
		}

		builder, err := reg.Select(rs.Kind, rs.Provider)
		if err != nil {
			return nil, err
		}
		recs, err := builder.Outputs(*rs)
		if err != nil {
			return nil, fmt.Errorf("failed to collect outputs of %s: %w", id, err)
		}
		if err := verify(rs, recs); err != nil {
			return nil, err
		}
		for _, r := range recs {
			if owner, dup := seen[r.Key]; dup {
				return nil, engine.NewPermanentError(
					fmt.Sprintf("output %s is produced by both %s and %s", r.Key, owner, id), nil).
					WithResource(id).WithCode(engine.ErrCodeConflict)
			}
			seen[r.Key] = id
			records = append(records, r)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// verify checks that recs hold every required key of the resource's kind
// with a non-empty value and the right sensitivity.
func verify(rs *engine.ResourceState, recs []engine.OutputRecord) error {
	got := make(map[string]engine.OutputRecord, len(recs))
	for _, r := range recs {
		got[r.Key] = r
	}
	var missing []string
	for _, key := range providers.RequiredOutputKeys(rs.Kind) {
		r, ok := got[key]
		if !ok || r.Value == "" {
			missing = append(missing, key)
			continue
		}
		if r.Sensitive != providers.IsSensitive(key) {
			return engine.NewPermanentError(fmt.Sprintf("output %s has the wrong sensitivity", key), nil).
				WithResource(rs.ID).WithField(key)
		}
	}
	if len(missing) > 0 {
		return engine.NewPermanentError(fmt.Sprintf("%s on %s is missing outputs %v", rs.Kind, rs.Provider, missing), nil).
			WithResource(rs.ID).WithCode(engine.ErrCodeNotFound).WithDetail("missing", missing)
	}
	return nil
}

// Lookup returns the value of key in records.
func Lookup(records []engine.OutputRecord, key string) (string, bool) {
	for _, r := range records {
		if r.Key == key {
			return r.Value, true
		}
	}
	return "", false
}
