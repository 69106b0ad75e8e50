package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Loader reads custom policies from .rego and .json files.
//
// A .rego file is one policy named after the file. Its package METADATA
// annotation may set the title, description and a custom severity, enabled
// flag and tags. A .json file holds a single policy document with the Rego
// source embedded; an omitted "enabled" means enabled.
//
// Every policy must declare a deny rule.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
// Directories are walked recursively in lexical order.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		policies, err := l.load(path)
		if err != nil {
			return nil, err
		}
		all = append(all, policies...)
	}

	l.logger.Debug().Int("total", len(all)).Int("sources", len(paths)).Msg("Policies loaded from paths")
	return all, nil
}

func (l *Loader) load(root string) ([]Policy, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, engine.NewConfigError("policy", fmt.Sprintf("policy path %s: %v", root, err))
	}
	if !info.IsDir() {
		p, err := l.loadFromFile(root)
		if err != nil {
			return nil, err
		}
		return []Policy{*p}, nil
	}

	var policies []Policy
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}
		p, err := l.loadFromFile(path)
		if err != nil {
			return err
		}
		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return policies, nil
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// loadFromFile reads and validates one policy file.
func (l *Loader) loadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sourceError(path, fmt.Sprintf("read failed: %v", err))
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		p, err = parseRego(path, data)
	case ".json":
		p, err = parseDocument(path, data)
	default:
		return nil, sourceError(path, "unsupported policy file type (want .rego or .json)")
	}
	if err != nil {
		return nil, err
	}
	p.Source = path

	l.logger.Debug().
		Str("path", path).
		Str("policy", p.Name).
		Str("severity", string(p.Severity)).
		Bool("enabled", p.Enabled).
		Msg("Policy loaded from file")
	return p, nil
}

// parseRego builds a policy from a Rego module.
func parseRego(path string, data []byte) (*Policy, error) {
	module, err := parseModule(path, string(data))
	if err != nil {
		return nil, err
	}

	p := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:     string(data),
		Severity: SeverityError,
		Enabled:  true,
	}
	a := packageAnnotation(module)
	if a == nil {
		p.Description = extractDescription(p.Rego)
		return p, nil
	}
	if err := applyAnnotation(p, a); err != nil {
		return nil, sourceError(path, err.Error())
	}
	return p, nil
}

// document is the JSON form of a policy.
type document struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     *bool    `json:"enabled"`
	Tags        []string `json:"tags"`
}

// parseDocument builds a policy from a JSON document.
func parseDocument(path string, data []byte) (*Policy, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, sourceError(path, fmt.Sprintf("invalid JSON: %v", err))
	}
	if strings.TrimSpace(doc.Name) == "" {
		return nil, sourceError(path, "policy has no name")
	}
	if strings.TrimSpace(doc.Rego) == "" {
		return nil, sourceError(path, fmt.Sprintf("policy %s has no rego source", doc.Name))
	}
	if _, err := parseModule(path, doc.Rego); err != nil {
		return nil, err
	}

	p := &Policy{
		Name:        doc.Name,
		Description: doc.Description,
		Rego:        doc.Rego,
		Severity:    SeverityError,
		Enabled:     doc.Enabled == nil || *doc.Enabled,
		Tags:        doc.Tags,
	}
	if doc.Severity != "" {
		sev, err := parseSeverity(string(doc.Severity))
		if err != nil {
			return nil, sourceError(path, err.Error())
		}
		p.Severity = sev
	}
	return p, nil
}

// parseModule parses Rego source and checks that it declares deny.
func parseModule(path, source string) (*ast.Module, error) {
	module, err := ast.ParseModuleWithOpts(path, source, ast.ParserOptions{ProcessAnnotation: true})
	if err != nil {
		return nil, sourceError(path, fmt.Sprintf("invalid rego: %v", err))
	}
	if module == nil {
		return nil, sourceError(path, "empty rego module")
	}
	for _, rule := range module.Rules {
		if ref := rule.Head.Ref(); len(ref) > 0 && ref[0].Equal(ast.VarTerm("deny")) {
			return module, nil
		}
	}
	return nil, sourceError(path, fmt.Sprintf("package %s declares no deny rule", module.Package.Path))
}

// packageAnnotation returns the METADATA block scoped to the package, if any.
func packageAnnotation(module *ast.Module) *ast.Annotations {
	for _, a := range module.Annotations {
		if a.Scope == "package" {
			return a
		}
	}
	return nil
}

func applyAnnotation(p *Policy, a *ast.Annotations) error {
	p.Description = a.Description
	if p.Description == "" {
		p.Description = a.Title
	}
	if v, ok := a.Custom["severity"]; ok {
		s, _ := v.(string)
		sev, err := parseSeverity(s)
		if err != nil {
			return err
		}
		p.Severity = sev
	}
	if v, ok := a.Custom["enabled"]; ok {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("custom.enabled must be a boolean, got %v", v)
		}
		p.Enabled = b
	}
	if v, ok := a.Custom["tags"].([]interface{}); ok {
		for _, t := range v {
			p.Tags = append(p.Tags, fmt.Sprint(t))
		}
	}
	return nil
}

func parseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(s)); sev {
	case SeverityInfo, SeverityWarning, SeverityError:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q (want info, warning or error)", s)
}

func sourceError(path, message string) error {
	return engine.NewConfigError("policy", message).WithDetail("source", path)
}

// extractDescription returns the first comment block of a Rego file.
func extractDescription(content string) string {
	var parts []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" && len(parts) > 0 {
				break
			}
			continue
		}
		if comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#")); comment != "" {
			parts = append(parts, comment)
		}
	}
	return strings.Join(parts, " ")
}
