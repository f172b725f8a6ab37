package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

// definition is the registry's internal, type-erased view of a registered
// tool. The typed parameter struct is captured only inside invoke's
// closure, built by Register.
type definition struct {
	name        string
	description string
	toolset     string
	endsTurn    bool
	schema      *jsonschema.Schema
	invoke      func(ctx context.Context, raw json.RawMessage) Result
}

// Description is the prompt/schema-facing projection of a registered tool.
type Description struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	EndsTurn    bool               `json:"ends_turn"`
	Schema      *jsonschema.Schema `json:"parameters"`
}

// Registry holds the set of named tools available at boot. It is read-only
// after all tools are registered: profiles only ever narrow the visible
// subset via ToolAccessPolicy, never mutate the registry itself.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]definition
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]definition{}}
}

// Register adds a tool whose parameters are described by the Go type P. The
// zero value of P is reflected into a JSON Schema via invopop/jsonschema
// for prompt injection; at invocation time, raw JSON params are decoded
// into a fresh P and struct fields tagged `required:"true"` are checked for
// their zero value before handler runs.
func Register[P any](r *Registry, name, description, toolset string, endsTurn bool, handler func(ctx context.Context, params P) Result) error {
	var zero P
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&zero)

	def := definition{
		name:        name,
		description: description,
		toolset:     toolset,
		endsTurn:    endsTurn,
		schema:      schema,
		invoke: func(ctx context.Context, raw json.RawMessage) (result Result) {
			var params P
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &params); err != nil {
					return Err("invalid parameters for %s: %v", name, err)
				}
			}
			if missing := missingRequired(params); len(missing) > 0 {
				return Err("missing required parameter(s) for %s: %v", name, missing)
			}
			defer func() {
				if rec := recover(); rec != nil {
					result = Err("tool %s panicked: %v", name, rec)
				}
			}()
			return handler(ctx, params)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return &RegistryError{Component: "tool", Action: "register", Message: fmt.Sprintf("tool %q already registered", name), At: time.Now()}
	}
	r.tools[name] = def
	return nil
}

// missingRequired walks the exported fields of params tagged
// `required:"true"` and returns the JSON names of those still at their Go
// zero value.
func missingRequired(params any) []string {
	v := reflect.ValueOf(params)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	var missing []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("required") != "true" {
			continue
		}
		if v.Field(i).IsZero() {
			jsonName := field.Tag.Get("json")
			if jsonName == "" {
				jsonName = field.Name
			}
			missing = append(missing, jsonName)
		}
	}
	return missing
}

// Invoke decodes params into the registered tool's parameter type, checks
// its required fields, and dispatches to its handler. It never panics: handler panics are recovered
// into a Status: error Result by the closure built in Register.
func (r *Registry) Invoke(ctx context.Context, name string, rawParams json.RawMessage) Result {
	r.mu.RLock()
	def, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Err("unknown tool %q", name)
	}
	return def.invoke(ctx, rawParams)
}

// EndsTurn reports whether name is configured to end the calling agent's
// turn when invoked.
func (r *Registry) EndsTurn(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name].endsTurn
}

// Visible returns the prompt-visible tool descriptions for the given
// allowed toolsets and individually allowed tool names — the intersection
// of the profile's grants with what's actually registered.
func (r *Registry) Visible(allowedToolsets, allowedIndividualTools []string) []Description {
	toolsets := make(map[string]bool, len(allowedToolsets))
	for _, t := range allowedToolsets {
		toolsets[t] = true
	}
	individual := make(map[string]bool, len(allowedIndividualTools))
	for _, n := range allowedIndividualTools {
		individual[n] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Description
	for _, def := range r.tools {
		if toolsets[def.toolset] || individual[def.name] {
			out = append(out, Description{
				Name:        def.name,
				Description: def.description,
				EndsTurn:    def.endsTurn,
				Schema:      def.schema,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
