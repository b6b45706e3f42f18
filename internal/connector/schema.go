package connector

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBaseURL = "https://schemas.data-vault.local/"

// itemSchema validates raw provider items before they are mapped
type itemSchema struct {
	provider domain.Provider
	schema   *jsonschema.Schema
}

func mustItemSchema(provider domain.Provider, file string) *itemSchema {
	s, err := loadItemSchema(provider, file)
	if err != nil {
		panic(err)
	}
	return s
}

func loadItemSchema(provider domain.Provider, file string) (*itemSchema, error) {
	raw, err := schemaFiles.ReadFile("schemas/" + file)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", file, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", file, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaBaseURL+file, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", file, err)
	}
	schema, err := compiler.Compile(schemaBaseURL + file)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", file, err)
	}
	return &itemSchema{provider: provider, schema: schema}, nil
}

// validate checks raw against the schema; violations are reported as malformed items
func (s *itemSchema) validate(raw json.RawMessage) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return malformed(s.provider, "item is not valid json")
	}
	if err := s.schema.Validate(inst); err != nil {
		return malformed(s.provider, "item does not match schema")
	}
	return nil
}
