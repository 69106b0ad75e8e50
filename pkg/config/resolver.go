package config

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Resolve normalizes raw into a Canonical configuration.
//
// For each declared option the candidates [primary, aliases...] are examined
// in order. A candidate is empty when absent, nil, the zero value of the
// option's type or equal to its default. Two non-empty candidates that
// disagree fail with an AMBIGUOUS_ALIAS ConfigError naming both keys;
// otherwise the first non-empty candidate wins. When every candidate is
// empty the default applies, or, without a default, the first explicitly
// supplied value is kept.
//
// Unknown sections and keys are reported as warnings. Resolve performs no I/O.
func Resolve(raw RawConfig) (*Canonical, error) {
	c := &Canonical{Sections: make(map[engine.ResourceKind]Options)}

	for _, name := range sortedKeys(raw) {
		if name == EnvironmentSection {
			continue
		}
		if !engine.ResourceKind(name).Valid() {
			c.Warnings = append(c.Warnings, fmt.Sprintf("unknown section %q ignored", name))
		}
	}

	envSection, err := sectionMap(raw, EnvironmentSection)
	if err != nil {
		return nil, err
	}
	c.Environment, err = resolveSection(EnvironmentSection, envSection, environmentOptions, &c.Warnings)
	if err != nil {
		return nil, err
	}

	for _, kind := range engine.AllKinds() {
		if _, present := raw[string(kind)]; !present {
			continue
		}
		section, err := sectionMap(raw, string(kind))
		if err != nil {
			return nil, err
		}
		enabled, err := sectionEnabled(string(kind), section)
		if err != nil {
			return nil, err
		}
		if !enabled {
			continue
		}
		opts, err := resolveSection(string(kind), section, catalog[kind], &c.Warnings)
		if err != nil {
			return nil, err
		}
		c.Sections[kind] = opts
	}

	return c, nil
}

// sectionMap returns the raw section. A section written as `true` or with no
// body is an enabled section with defaults.
func sectionMap(raw RawConfig, name string) (map[string]interface{}, error) {
	v, ok := raw[name]
	if !ok || v == nil {
		return map[string]interface{}{}, nil
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return t, nil
	case RawConfig:
		return map[string]interface{}(t), nil
	case bool:
		if t {
			return map[string]interface{}{}, nil
		}
		return map[string]interface{}{enabledKey: false}, nil
	}
	return nil, engine.NewConfigError(name, fmt.Sprintf("section %s must be a mapping, got %T", name, v)).
		WithCode(engine.ErrCodeInvalidValue)
}

func sectionEnabled(name string, section map[string]interface{}) (bool, error) {
	v, ok := section[enabledKey]
	if !ok || v == nil {
		return true, nil
	}
	b, err := normalize(TypeBool, v)
	if err != nil {
		return false, fieldError(name+"."+enabledKey, err)
	}
	return b.(bool), nil
}

func resolveSection(name string, section map[string]interface{}, options []Option, warnings *[]string) (Options, error) {
	known := map[string]bool{enabledKey: name != EnvironmentSection}
	out := make(Options)

	for _, opt := range options {
		var (
			winner, explicit interface{}
			winnerKey        string
		)

		for _, key := range opt.Candidates() {
			known[key] = true
			v, present := section[key]
			if !present || v == nil {
				continue
			}
			nv, err := normalize(opt.Type, v)
			if err != nil {
				return nil, fieldError(name+"."+key, err)
			}
			if explicit == nil {
				explicit = nv
			}
			if isEmpty(nv, opt.Default) {
				continue
			}
			if winner == nil {
				winner, winnerKey = nv, key
				continue
			}
			if !reflect.DeepEqual(winner, nv) {
				return nil, engine.NewAmbiguousAliasError(name+"."+winnerKey, name+"."+key, winner, nv)
			}
		}

		switch {
		case winner != nil:
			out[opt.Name] = winner
		case opt.Default != nil:
			out[opt.Name] = opt.Default
		case explicit != nil:
			out[opt.Name] = explicit
		}
	}

	for _, key := range sortedKeys(section) {
		if !known[key] {
			*warnings = append(*warnings, fmt.Sprintf("unknown key %s.%s ignored", name, key))
		}
	}
	return out, nil
}

func fieldError(field string, err error) error {
	return engine.NewConfigError(field, fmt.Sprintf("invalid value for %s: %v", field, err)).
		WithCode(engine.ErrCodeInvalidValue)
}

func isEmpty(v, def interface{}) bool {
	if def != nil && reflect.DeepEqual(v, def) {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case int:
		return t == 0
	case bool:
		return !t
	case []string:
		return len(t) == 0
	case map[string]string:
		return len(t) == 0
	}
	return v == nil
}

// normalize converts a decoded document value to the canonical Go type of t.
func normalize(t OptionType, v interface{}) (interface{}, error) {
	switch t {
	case TypeString:
		return toString(v)
	case TypeInt:
		return toInt(v)
	case TypeBool:
		return toBool(v)
	case TypeStrings:
		return toStrings(v)
	case TypeMap:
		return toStringMap(v)
	}
	return nil, fmt.Errorf("unknown option type %s", t)
}

func toString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case uint64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("expected integer, got %v", t)
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return 0, fmt.Errorf("expected integer, got %s", t)
			}
			return int(f), nil
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", t)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func toBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, fmt.Errorf("expected true or false, got %q", t)
	}
	return false, fmt.Errorf("expected bool, got %T", v)
}

func toStrings(v interface{}) ([]string, error) {
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []interface{}:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected list of strings, got element %T", item)
			}
			out = append(out, s)
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	default:
		return nil, fmt.Errorf("expected list of strings, got %T", v)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func toStringMap(v interface{}) (map[string]string, error) {
	out := make(map[string]string)
	switch t := v.(type) {
	case map[string]string:
		for k, s := range t {
			out[k] = s
		}
	case map[string]interface{}:
		for k, item := range t {
			switch item.(type) {
			case map[string]interface{}, []interface{}:
				return nil, fmt.Errorf("expected scalar value for key %s", k)
			}
			s, err := toString(item)
			if err != nil {
				if b, ok := item.(bool); ok {
					s = strconv.FormatBool(b)
				} else {
					return nil, fmt.Errorf("key %s: %w", k, err)
				}
			}
			out[k] = s
		}
	default:
		return nil, fmt.Errorf("expected mapping, got %T", v)
	}
	return out, nil
}

// Overrides are command-line values that replace document options.
type Overrides struct {
	Name     string
	Provider string
	Tier     string
	Region   string
}

// ApplyOverrides returns a copy of raw where every non-empty override replaces
// all candidates of its environment option, so a flag never collides with an
// alias written in the document.
func ApplyOverrides(raw RawConfig, o Overrides) RawConfig {
	out := make(RawConfig, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}

	env := make(map[string]interface{})
	if section, ok := raw[EnvironmentSection].(map[string]interface{}); ok {
		for k, v := range section {
			env[k] = v
		}
	}

	values := map[string]string{
		OptName:     o.Name,
		OptProvider: o.Provider,
		OptTier:     o.Tier,
		OptRegion:   o.Region,
	}
	for _, opt := range environmentOptions {
		value := values[opt.Name]
		if value == "" {
			continue
		}
		for _, key := range opt.Candidates() {
			delete(env, key)
		}
		env[opt.Name] = value
	}

	out[EnvironmentSection] = env
	return out
}
