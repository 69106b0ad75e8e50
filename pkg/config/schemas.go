package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(DocumentSchema, builtinDocumentSchema); err != nil {
		panic(err)
	}
	return sr
}

// DocumentSchema names the built-in schema every CUE document is checked against.
const DocumentSchema = "document"

// RegisterSchema compiles a CUE schema and stores it under name.
// Schemas used with Validate must define #Document.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate unifies val with the #Document definition of the named schema and
// checks the result is concrete.
func (sr *SchemaRegistry) Validate(schemaName string, val cue.Value) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	def := schema.LookupPath(cue.ParsePath("#Document"))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no #Document definition", schemaName)
	}

	unified := def.Unify(val)
	return unified.Validate(cue.Concrete(true))
}

// ValidateData encodes a Go value and validates it against the named schema.
func (sr *SchemaRegistry) ValidateData(schemaName string, data interface{}) error {
	sr.mu.RLock()
	val := sr.ctx.Encode(data)
	sr.mu.RUnlock()
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	return sr.Validate(schemaName, val)
}

// Built-in schema definitions

const builtinDocumentSchema = `
// Document schema for cloudplan environment documents.
// Sections are open so unknown keys reach the resolver, which warns on them.
#Document: {
	environment!: #Environment

	database?:            #Section
	object_storage?:      #Section
	kubernetes_cluster?:  #Section
	dns_zone?:            #Section
	message_broker?:      #Section
	observability_stack?: #Section
	cluster_addons?:      #Section
	vector_store?:        #Section

	...
}

#Environment: {
	name?:     string & =~"^[a-z]([a-z0-9-]*[a-z0-9])?$"
	provider?: "aws" | "azure" | "gcp"
	tier?:     "dev" | "staging" | "production"
	region?:   string
	labels?: {[string]: string | number | bool}
	tags?: {[string]: string | number | bool}
	...
}

#Section: {
	enabled?:   bool
	dependsOn?: [...string] | string
	...
} | bool
`
