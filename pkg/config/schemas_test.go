package config

import (
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#Document: {
	environment: {name: string}
}
`

	if err := sr.RegisterSchema("custom", customSchema); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	names := sr.ListSchemas()
	if len(names) != 2 || names[0] != "custom" || names[1] != DocumentSchema {
		t.Errorf("Expected [custom document], got %v", names)
	}
}

func TestSchemaRegistry_RegisterInvalid(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("broken", `#Document: {`); err == nil {
		t.Error("expected compile error for broken schema")
	}
}

func TestSchemaRegistry_ValidateData(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
	}{
		{
			name: "valid document",
			data: map[string]interface{}{
				"environment": map[string]interface{}{"name": "acme-dev", "provider": "aws", "tier": "dev"},
				"database":    map[string]interface{}{"storage_gb": 20},
			},
		},
		{
			name: "section as bool",
			data: map[string]interface{}{
				"environment": map[string]interface{}{"name": "acme-dev"},
				"dns_zone":    true,
			},
		},
		{
			name: "unknown sections are open",
			data: map[string]interface{}{
				"environment":   map[string]interface{}{"name": "acme-dev"},
				"load_balancer": map[string]interface{}{"size": 1},
			},
		},
		{
			name: "bad tier",
			data: map[string]interface{}{
				"environment": map[string]interface{}{"tier": "qa"},
			},
			wantErr: true,
		},
		{
			name: "bad name",
			data: map[string]interface{}{
				"environment": map[string]interface{}{"name": "Acme_Dev"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateData(DocumentSchema, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateData() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	if err := NewSchemaRegistry().ValidateData("missing", map[string]interface{}{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}
