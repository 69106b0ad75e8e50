package outputs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Format is an output document format.
type Format string

// Supported document formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatEnv  Format = "env"
)

// Redacted replaces sensitive values unless they are requested.
const Redacted = "<sensitive>"

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatYAML, FormatEnv:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "dotenv":
		return FormatEnv, nil
	}
	return "", fmt.Errorf("unsupported output format %q (want json, yaml or env)", s)
}

// documentEntry is one key in JSON and YAML documents.
type documentEntry struct {
	Value     string `json:"value" yaml:"value"`
	Sensitive bool   `json:"sensitive" yaml:"sensitive"`
}

// WriteDocument writes records to w. Sensitive values are redacted unless
// showSensitive is set.
func WriteDocument(w io.Writer, records []engine.OutputRecord, format Format, showSensitive bool) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries(records, showSensitive)); err != nil {
			return fmt.Errorf("failed to encode outputs as JSON: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries(records, showSensitive)); err != nil {
			return fmt.Errorf("failed to encode outputs as YAML: %w", err)
		}
		return enc.Close()
	case FormatEnv:
		var buf bytes.Buffer
		for _, r := range records {
			fmt.Fprintf(&buf, "%s=%s\n", EnvName(r.Key), shellQuote(value(r, showSensitive)))
		}
		_, err := w.Write(buf.Bytes())
		return err
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func entries(records []engine.OutputRecord, showSensitive bool) map[string]documentEntry {
	doc := make(map[string]documentEntry, len(records))
	for _, r := range records {
		doc[r.Key] = documentEntry{Value: value(r, showSensitive), Sensitive: r.Sensitive}
	}
	return doc
}

func value(r engine.OutputRecord, showSensitive bool) string {
	if r.Sensitive && !showSensitive {
		return Redacted
	}
	return r.Value
}

// EnvName converts a logical key such as vectorStore.apiKeyRef to
// VECTOR_STORE_API_KEY_REF.
func EnvName(key string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range key {
		switch {
		case r == '.' || r == '-':
			b.WriteByte('_')
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			prevLower = false
		default:
			b.WriteRune(unicode.ToUpper(r))
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return b.String()
}

// shellQuote single-quotes v when it holds characters a shell would interpret.
func shellQuote(v string) string {
	if v == "" {
		return "''"
	}
	safe := strings.IndexFunc(v, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_./:@,=+%", r))
	}) < 0
	if safe {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
