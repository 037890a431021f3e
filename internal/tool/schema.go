package tool

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"mijiamcp/internal/domain"
)

// InputSchema renders the JSON Schema of a tool's arguments: an object with
// one property per param, the required list, and the anyOf alternatives.
func InputSchema(d domain.ToolDescriptor) (*jsonschema.Schema, error) {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(d.Params)),
	}
	for _, p := range d.Params {
		ps, err := paramSchema(p)
		if err != nil {
			return nil, fmt.Errorf("tool %s: param %s: %w", d.Name, p.Name, err)
		}
		s.Properties[p.Name] = ps
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	for _, alt := range d.AnyOf {
		s.AnyOf = append(s.AnyOf, &jsonschema.Schema{Required: append([]string(nil), alt...)})
	}
	return s, nil
}

func paramSchema(p domain.Param) (*jsonschema.Schema, error) {
	ps := &jsonschema.Schema{Type: p.Type, Description: p.Description}
	if p.Type == "array" && p.Items != "" {
		ps.Items = &jsonschema.Schema{Type: p.Items}
	}
	for _, e := range p.Enum {
		ps.Enum = append(ps.Enum, e)
	}
	if p.Default != nil {
		raw, err := json.Marshal(p.Default)
		if err != nil {
			return nil, fmt.Errorf("encode default: %w", err)
		}
		ps.Default = raw
	}
	return ps, nil
}
