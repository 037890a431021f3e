// Package tool holds the static table of tools the server exposes and
// renders their input schemas.
package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"mijiamcp/internal/domain"
)

// ErrInvalidArguments wraps strict-mode schema violations.
var ErrInvalidArguments = errors.New("invalid arguments")

// Registry is an immutable, ordered set of tool descriptors. It is safe for
// concurrent use without locking.
type Registry struct {
	descs    []domain.ToolDescriptor
	index    map[string]int
	resolved map[string]*jsonschema.Resolved
}

// NewRegistry checks the descriptors and freezes them. Names must be unique
// and non-empty, every descriptor needs a description, and anyOf entries may
// only name declared params.
func NewRegistry(descs ...domain.ToolDescriptor) (*Registry, error) {
	r := &Registry{
		index:    make(map[string]int, len(descs)),
		resolved: make(map[string]*jsonschema.Resolved, len(descs)),
	}
	for _, d := range descs {
		if strings.TrimSpace(d.Name) == "" {
			return nil, errors.New("tool with empty name")
		}
		if strings.TrimSpace(d.Description) == "" {
			return nil, fmt.Errorf("tool %s: empty description", d.Name)
		}
		if _, dup := r.index[d.Name]; dup {
			return nil, fmt.Errorf("tool %s: registered twice", d.Name)
		}
		for _, alt := range d.AnyOf {
			for _, field := range alt {
				if _, ok := d.Param(field); !ok {
					return nil, fmt.Errorf("tool %s: anyOf names unknown param %s", d.Name, field)
				}
			}
		}

		schema, err := InputSchema(d)
		if err != nil {
			return nil, err
		}
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("tool %s: resolve schema: %w", d.Name, err)
		}

		r.index[d.Name] = len(r.descs)
		r.descs = append(r.descs, cloneDescriptor(d))
		r.resolved[d.Name] = resolved
	}
	return r, nil
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := NewRegistry(Catalog()...)
	if err != nil {
		panic(fmt.Sprintf("tool catalog: %v", err))
	}
	return r
})

// Default returns the registry built from Catalog.
func Default() *Registry { return defaultRegistry() }

// List returns every descriptor in catalog order. The result is a copy; the
// same content is returned on every call.
func (r *Registry) List() []domain.ToolDescriptor {
	out := make([]domain.ToolDescriptor, len(r.descs))
	for i, d := range r.descs {
		out[i] = cloneDescriptor(d)
	}
	return out
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (domain.ToolDescriptor, bool) {
	i, ok := r.index[name]
	if !ok {
		return domain.ToolDescriptor{}, false
	}
	return cloneDescriptor(r.descs[i]), true
}

// Names returns the tool names in catalog order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.descs))
	for i, d := range r.descs {
		names[i] = d.Name
	}
	return names
}

// InputSchema returns a freshly built schema for the named tool, or nil.
func (r *Registry) InputSchema(name string) *jsonschema.Schema {
	d, ok := r.Lookup(name)
	if !ok {
		return nil
	}
	s, _ := InputSchema(d) // already built once in NewRegistry
	return s
}

// Validate checks args against the tool's schema. Unknown tools are reported
// as invalid too.
func (r *Registry) Validate(name string, args map[string]any) error {
	resolved, ok := r.resolved[name]
	if !ok {
		return fmt.Errorf("%w: unknown tool %s", ErrInvalidArguments, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := resolved.Validate(schemaValue(args)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// schemaValue copies v with json.Number values turned into float64, which
// the validator types as integer or number. The copy is only validated.
func schemaValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = schemaValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = schemaValue(e)
		}
		return out
	}
	return v
}

func cloneDescriptor(d domain.ToolDescriptor) domain.ToolDescriptor {
	d.Params = slices.Clone(d.Params)
	for i := range d.Params {
		d.Params[i].Enum = slices.Clone(d.Params[i].Enum)
	}
	if d.AnyOf != nil {
		anyOf := make([][]string, len(d.AnyOf))
		for i, alt := range d.AnyOf {
			anyOf[i] = slices.Clone(alt)
		}
		d.AnyOf = anyOf
	}
	return d
}
