package outputs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"helm.sh/helm/v3/pkg/chartutil"
	"sigs.k8s.io/yaml"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// HelmValues nests dotted keys into a values tree, so database.host becomes
// {database: {host: ...}}. The values "true" and "false" become booleans.
func HelmValues(records []engine.OutputRecord) (map[string]interface{}, error) {
	values := make(map[string]interface{})
	for _, r := range records {
		parts := strings.Split(r.Key, ".")
		node := values
		for i, part := range parts[:len(parts)-1] {
			next, ok := node[part]
			if !ok {
				child := make(map[string]interface{})
				node[part] = child
				node = child
				continue
			}
			child, ok := next.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("output %s conflicts with value %s", r.Key, strings.Join(parts[:i+1], "."))
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if _, exists := node[leaf]; exists {
			return nil, fmt.Errorf("output %s conflicts with a nested value", r.Key)
		}
		node[leaf] = helmScalar(r.Value)
	}
	return values, nil
}

func helmScalar(v string) interface{} {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

// RenderHelmValues renders records as a Helm values document.
func RenderHelmValues(records []engine.OutputRecord) ([]byte, error) {
	values, err := HelmValues(records)
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to render Helm values: %w", err)
	}
	return out, nil
}

// MergeHelmValuesFile coalesces the generated values into the values file at
// path. Generated keys win and every other key of the file is kept. A
// missing file yields just the generated values.
func MergeHelmValuesFile(path string, records []engine.OutputRecord) (map[string]interface{}, error) {
	generated, err := HelmValues(records)
	if err != nil {
		return nil, err
	}

	existing, err := chartutil.ReadValuesFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return generated, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read Helm values file %s: %w", path, err)
	}
	return chartutil.CoalesceTables(generated, existing.AsMap()), nil
}

// WriteHelmValuesFile merges records into the values file at path and writes it back.
func WriteHelmValuesFile(path string, records []engine.OutputRecord) error {
	merged, err := MergeHelmValuesFile(path, records)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to render Helm values: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("failed to write Helm values file %s: %w", path, err)
	}
	return nil
}
