package policy

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// SchemaSet validates request payloads against per-action JSON Schemas.
// Action types without a registered schema accept any payload; the engine
// treats content as opaque unless the governance profile says otherwise.
type SchemaSet struct {
	compiled map[contracts.ActionType]*jsonschema.Schema
}

// NewSchemaSet returns an empty set.
func NewSchemaSet() *SchemaSet {
	return &SchemaSet{compiled: make(map[contracts.ActionType]*jsonschema.Schema)}
}

// Register compiles a draft 2020-12 schema for one action type, replacing any
// previous registration.
func (s *SchemaSet) Register(action contracts.ActionType, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://s2do.schemas.local/payload/%s.schema.json", strings.ToLower(string(action)))
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("payload schema for %s: %w", action, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("compile payload schema for %s: %w", action, err)
	}
	s.compiled[action] = compiled
	return nil
}

// Validate checks a payload against the action's schema, if one is registered.
func (s *SchemaSet) Validate(action contracts.ActionType, payload map[string]any) error {
	schema, ok := s.compiled[action]
	if !ok || schema == nil {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("payload for %s: %v: %w", action, err, ErrInvalidPolicy)
	}
	return nil
}
