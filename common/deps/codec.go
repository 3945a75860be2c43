// Package deps converts per-step input objects to and from their transport
// form so workers in foreign processes can reconstruct typed inputs.
//
// Rehydration goes through an allow-list registry keyed by (module, type)
// rather than reflective resolution: a worker can only construct types it
// has explicitly registered.
package deps

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/paigeant/paigeant/common/contracts"
)

const (
	stringTypeName = "string"
	builtinsModule = "builtins"
	mainModule     = "main"
)

// Dumper lets a dependency control its own serialized form.
type Dumper interface {
	Dump() (map[string]any, error)
}

// Serialize converts a dependency into its wire tuple. Rules, in order:
// nil stays nil; a plain string is carried as-is; a Dumper supplies its own
// map; anything else has its public fields reflected into a map.
func Serialize(v any) (*contracts.SerializedDeps, error) {
	if v == nil {
		return nil, nil
	}

	if s, ok := v.(string); ok {
		return &contracts.SerializedDeps{Data: s, Type: stringTypeName, Module: builtinsModule}, nil
	}

	typeName, module := typeIdentity(v)
	if typeName == "" {
		return nil, fmt.Errorf("cannot serialize unnamed dependency type %T", v)
	}

	if d, ok := v.(Dumper); ok {
		data, err := d.Dump()
		if err != nil {
			return nil, fmt.Errorf("dump dependency %s: %w", typeName, err)
		}
		return &contracts.SerializedDeps{Data: data, Type: typeName, Module: module}, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot serialize dependency %s from module %s: %w", typeName, module, err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("dependency %s from module %s is not map-shaped: %w", typeName, module, err)
	}

	return &contracts.SerializedDeps{Data: data, Type: typeName, Module: module}, nil
}

// typeIdentity returns the (type name, package path) pair of v, looking
// through pointers.
func typeIdentity(v any) (string, string) {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name(), t.PkgPath()
}

// Factory produces a fresh, addressable instance of a registered type.
type Factory func() any

// Registry is the allow-list of dependency types a worker may rehydrate.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under an explicit (module, type) key.
func (r *Registry) Register(module, typeName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[registryKey(module, typeName)] = f
}

// RegisterType registers v's concrete type under its own package path and
// name, with a reflective factory.
func (r *Registry) RegisterType(v any) {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name, module := t.Name(), t.PkgPath()
	r.Register(module, name, func() any { return reflect.New(t).Interface() })
}

func (r *Registry) lookup(module, typeName string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[registryKey(module, typeName)]
	return f, ok
}

// Deserialize reconstructs a dependency from its wire tuple. When the
// recorded module is "main", fallbackModule (the worker's own module, when
// supplied) is consulted instead. Failures here are soft from the worker's
// perspective: it logs and proceeds with nil deps.
func (r *Registry) Deserialize(sd *contracts.SerializedDeps, fallbackModule string) (any, error) {
	if sd == nil || sd.Data == nil {
		return nil, nil
	}

	if sd.Type == stringTypeName {
		if s, ok := sd.Data.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("string dependency carries non-string data %T", sd.Data)
	}

	if sd.Type == "" || sd.Module == "" {
		return nil, fmt.Errorf("missing dependency type or module metadata")
	}

	module := sd.Module
	if module == mainModule && fallbackModule != "" {
		module = fallbackModule
	}

	factory, ok := r.lookup(module, sd.Type)
	if !ok {
		return nil, fmt.Errorf("dependency type %s.%s is not registered", module, sd.Type)
	}

	instance := factory()
	raw, err := json.Marshal(sd.Data)
	if err != nil {
		return nil, fmt.Errorf("re-encode dependency data for %s: %w", sd.Type, err)
	}
	if err := json.Unmarshal(raw, instance); err != nil {
		return nil, fmt.Errorf("reconstruct dependency %s.%s: %w", module, sd.Type, err)
	}
	return instance, nil
}

func registryKey(module, typeName string) string {
	return module + "." + typeName
}

// defaultRegistry carries the types every worker understands.
var defaultRegistry = func() *Registry {
	r := NewRegistry()
	r.RegisterType(contracts.WorkflowDependencies{})
	return r
}()

// Default returns the shared registry pre-loaded with the workflow
// dependency types.
func Default() *Registry {
	return defaultRegistry
}
