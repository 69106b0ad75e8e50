package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// Limits applied to every Starlark document.
const (
	starlarkTimeout  = 10 * time.Second
	starlarkMaxSteps = 10_000_000
)

// parseStarlark executes a Starlark document. Each top-level global that
// does not start with "_" and is not a function becomes a section.
func parseStarlark(content []byte, filename string) (RawConfig, error) {
	thread := &starlark.Thread{
		Name:  "cloudplan-config",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(starlarkMaxSteps)
	timer := time.AfterFunc(starlarkTimeout, func() {
		thread.Cancel(fmt.Sprintf("evaluation exceeded %s", starlarkTimeout))
	})
	defer timer.Stop()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"getenv": starlark.NewBuiltin("getenv", builtinGetenv),
	}

	globals, err := starlark.ExecFile(thread, filename, content, predeclared)
	if err != nil {
		return nil, documentError(filename, []ValidationError{starlarkError(filename, err)})
	}

	doc := make(map[string]interface{}, len(globals))
	for name, val := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		v, err := fromStarlark(val)
		if err != nil {
			return nil, documentError(filename, []ValidationError{{
				File:     filename,
				Path:     name,
				Message:  err.Error(),
				Severity: "error",
			}})
		}
		doc[name] = v
	}
	return RawConfig(doc), nil
}

func starlarkError(filename string, err error) ValidationError {
	ve := ValidationError{File: filename, Message: err.Error(), Severity: "error"}

	var se syntax.Error
	var ee *starlark.EvalError
	switch {
	case errors.As(err, &se):
		ve.Line = int(se.Pos.Line)
		ve.Column = int(se.Pos.Col)
		ve.Message = se.Msg
	case errors.As(err, &ee):
		ve.Message = ee.Msg
		if n := len(ee.CallStack); n > 0 {
			pos := ee.CallStack[n-1].Pos
			ve.Line = int(pos.Line)
			ve.Column = int(pos.Col)
		}
	}
	return ve
}

// builtinGetenv implements getenv(name, default="").
func builtinGetenv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, def string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(name); ok {
		return starlark.String(v), nil
	}
	return starlark.String(def), nil
}

func fromStarlark(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromStarlarkSequence(val)
	case starlark.Tuple:
		return fromStarlarkSequence(val)
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			value, err := fromStarlark(item[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", string(key), err)
			}
			out[string(key)] = value
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			value, err := fromStarlark(attr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out[name] = value
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", v.Type())
}

func fromStarlarkSequence(seq starlark.Indexable) ([]interface{}, error) {
	out := make([]interface{}, seq.Len())
	for i := range out {
		item, err := fromStarlark(seq.Index(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = item
	}
	return out, nil
}
