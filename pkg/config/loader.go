package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Format is a configuration document encoding.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatCUE      Format = "cue"
	FormatStarlark Format = "starlark"
)

// FormatFromPath selects the document format by file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	case ".star":
		return FormatStarlark, nil
	}
	return "", engine.NewConfigError("file", fmt.Sprintf("unsupported config extension %q (want .yaml, .yml, .json, .cue or .star)", filepath.Ext(path)))
}

// Loader decodes configuration documents into RawConfig.
type Loader struct {
	schemas *SchemaRegistry
}

// NewLoader creates a loader with the built-in document schema.
func NewLoader() *Loader {
	return &Loader{schemas: NewSchemaRegistry()}
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadFile reads and decodes the document at path.
func (l *Loader) LoadFile(path string) (RawConfig, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return l.Parse(content, format, path)
}

// Parse decodes content in the given format. filename is used in error positions.
func (l *Loader) Parse(content []byte, format Format, filename string) (RawConfig, error) {
	switch format {
	case FormatYAML:
		return parseYAML(content, filename)
	case FormatJSON:
		return parseJSON(content, filename)
	case FormatCUE:
		return l.parseCUE(content, filename)
	case FormatStarlark:
		return parseStarlark(content, filename)
	}
	return nil, engine.NewConfigError("file", fmt.Sprintf("unsupported format %q", format))
}

func parseYAML(content []byte, filename string) (RawConfig, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, documentError(filename, []ValidationError{{
			File:     filename,
			Message:  err.Error(),
			Severity: "error",
		}})
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return RawConfig(doc), nil
}

func parseJSON(content []byte, filename string) (RawConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, documentError(filename, []ValidationError{{
			File:     filename,
			Message:  err.Error(),
			Severity: "error",
		}})
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return RawConfig(doc), nil
}

// parseCUE compiles the document, checks it against #Document and decodes it.
func (l *Loader) parseCUE(content []byte, filename string) (RawConfig, error) {
	// Documents must share the schema's runtime to unify with it.
	l.schemas.mu.Lock()
	val := l.schemas.ctx.CompileBytes(content, cue.Filename(filename))
	l.schemas.mu.Unlock()
	if err := val.Err(); err != nil {
		return nil, documentError(filename, convertCUEErrors(err))
	}

	if err := l.schemas.Validate(DocumentSchema, val); err != nil {
		return nil, documentError(filename, convertCUEErrors(err))
	}

	var doc map[string]interface{}
	if err := val.Decode(&doc); err != nil {
		return nil, documentError(filename, []ValidationError{{
			File:     filename,
			Message:  fmt.Sprintf("failed to decode document: %v", err),
			Severity: "error",
		}})
	}
	return RawConfig(doc), nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

func documentError(filename string, errs []ValidationError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	field := "file"
	if len(errs) > 0 && errs[0].Path != "" {
		field = errs[0].Path
	}
	return engine.NewConfigError(field, fmt.Sprintf("invalid config %s: %s", filename, strings.Join(msgs, "; "))).
		WithDetail("errors", errs)
}
