package config

import (
	"fmt"
	"sort"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// RawConfig is a decoded configuration document before alias resolution.
// Top-level keys are section names: "environment" plus one per resource kind.
type RawConfig map[string]interface{}

// EnvironmentSection is the name of the section holding environment options.
const EnvironmentSection = "environment"

// enabledKey turns a resource section off when set to false.
const enabledKey = "enabled"

// Options holds resolved option values keyed by primary option name.
// Values are normalized to string, int, bool, []string or map[string]string.
type Options map[string]interface{}

// Has reports whether name has a resolved value.
func (o Options) Has(name string) bool {
	_, ok := o[name]
	return ok
}

// String returns the string value of name, or "" when unset.
func (o Options) String(name string) string {
	s, _ := o[name].(string)
	return s
}

// Int returns the int value of name and whether it was set.
func (o Options) Int(name string) (int, bool) {
	v, ok := o[name].(int)
	return v, ok
}

// Bool returns the bool value of name and whether it was set.
func (o Options) Bool(name string) (bool, bool) {
	v, ok := o[name].(bool)
	return v, ok
}

// Strings returns the list value of name.
func (o Options) Strings(name string) []string {
	v, _ := o[name].([]string)
	return v
}

// Map returns the map value of name.
func (o Options) Map(name string) map[string]string {
	v, _ := o[name].(map[string]string)
	return v
}

// Canonical is a configuration after alias resolution: exactly one value per
// declared option, keyed by the option's primary name.
type Canonical struct {
	// Environment holds the resolved environment options.
	Environment Options `json:"environment"`

	// Sections holds the resolved options of every enabled resource kind.
	Sections map[engine.ResourceKind]Options `json:"sections"`

	// Warnings lists unknown sections and keys that were ignored.
	Warnings []string `json:"warnings,omitempty"`
}

// Enabled reports whether the section for kind is present and enabled.
func (c *Canonical) Enabled(kind engine.ResourceKind) bool {
	_, ok := c.Sections[kind]
	return ok
}

// Section returns the resolved options of kind, nil when disabled.
func (c *Canonical) Section(kind engine.ResourceKind) Options {
	return c.Sections[kind]
}

// EnabledKinds returns the enabled kinds in catalog order.
func (c *Canonical) EnabledKinds() []engine.ResourceKind {
	var kinds []engine.ResourceKind
	for _, k := range engine.AllKinds() {
		if c.Enabled(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Raw renders c back into a raw document under primary names.
// Resolve(c.Raw()) yields c again.
func (c *Canonical) Raw() RawConfig {
	raw := RawConfig{EnvironmentSection: renderOptions(c.Environment)}
	for kind, opts := range c.Sections {
		raw[string(kind)] = renderOptions(opts)
	}
	return raw
}

func renderOptions(opts Options) map[string]interface{} {
	out := make(map[string]interface{}, len(opts))
	for k, v := range opts {
		switch t := v.(type) {
		case []string:
			list := make([]interface{}, len(t))
			for i, s := range t {
				list[i] = s
			}
			out[k] = list
		case map[string]string:
			m := make(map[string]interface{}, len(t))
			for mk, mv := range t {
				m[mk] = mv
			}
			out[k] = m
		default:
			out[k] = v
		}
	}
	return out
}

// ValidationError represents a document error with its source position.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
