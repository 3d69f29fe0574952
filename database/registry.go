/*
 * Copyright 2025 the plover authors.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Definition is the minimal model contract: a name and a Bun struct pointer.
// The remaining capabilities are optional and discovered per model.
type Definition interface {
	Name() string
	Model() interface{}
}

// FieldsDeclarer exposes the model's field descriptors.
type FieldsDeclarer interface {
	Fields() FieldMap
}

// OptionsDeclarer exposes the model's options record.
type OptionsDeclarer interface {
	Options() Options
}

// Associator wires relationships against sibling models. It runs only after
// every model has been installed, so cross-references always resolve.
type Associator interface {
	Associate(models map[string]Definition)
}

// HooksDeclarer exposes lifecycle hooks keyed by hook type. Handler values
// may be any shape accepted by NormalizeHook.
type HooksDeclarer interface {
	Hooks() map[HookType]interface{}
}

// ScopesDeclarer exposes named scopes. Values may be any shape accepted by
// NormalizeScope; the "default" scope is applied implicitly to reads.
type ScopesDeclarer interface {
	Scopes() map[string]interface{}
}

// ModelInfo is the registration-time metadata derived for one model. It is
// computed once during Install and immutable afterwards.
type ModelInfo struct {
	def          Definition
	table        string
	options      Options
	fields       FieldMap
	writable     []string
	uniqueGroups [][]string
	hooks        map[HookType][]HookHandler
	scopes       map[string]Scope
}

func (mi *ModelInfo) Definition() Definition { return mi.def }

func (mi *ModelInfo) Table() string { return mi.table }

func (mi *ModelInfo) Fields() FieldMap { return mi.fields }

func (mi *ModelInfo) Writable() []string { return mi.writable }

func (mi *ModelInfo) UniqueGroups() [][]string { return mi.uniqueGroups }

// WritableColumns returns the database column names for writable attributes.
func (mi *ModelInfo) WritableColumns() []string {
	cols := make([]string, 0, len(mi.writable))
	for _, name := range mi.writable {
		if f, ok := mi.fields.Get(name); ok {
			cols = append(cols, f.ColumnName())
		}
	}
	return cols
}

// Scope returns a named scope, if declared.
func (mi *ModelInfo) Scope(name string) (Scope, bool) {
	s, ok := mi.scopes[name]
	return s, ok
}

// DefaultScope returns the implicit read scope, if declared.
func (mi *ModelInfo) DefaultScope() (Scope, bool) {
	return mi.Scope(DefaultScopeName)
}

// RunHooks invokes every handler attached for the hook type, in declaration
// order, stopping at the first error.
func (mi *ModelInfo) RunHooks(ctx context.Context, ht HookType, model interface{}) error {
	for _, h := range mi.hooks[ht] {
		if err := h(ctx, model); err != nil {
			return fmt.Errorf("%s hook for %s: %w", ht, mi.def.Name(), err)
		}
	}
	return nil
}

// Registry installs model definitions into Bun and holds the metadata the
// rest of the layer consumes. Registration happens once at startup, before
// concurrent request handling begins.
type Registry struct {
	mu             sync.RWMutex
	order          []string
	defs           map[string]Definition
	infos          map[string]*ModelInfo
	byType         map[reflect.Type]*ModelInfo
	foreignKeys    []ForeignKeyConstraint
	typeValidation bool
	installed      bool
}

// NewRegistry returns an empty model registry with type validation enabled.
func NewRegistry() *Registry {
	return &Registry{
		defs:           make(map[string]Definition),
		infos:          make(map[string]*ModelInfo),
		byType:         make(map[reflect.Type]*ModelInfo),
		typeValidation: true,
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds definitions to the default registry.
func Register(defs ...Definition) error {
	return defaultRegistry.Register(defs...)
}

// SetTypeValidation toggles field/struct validation during Install.
func (r *Registry) SetTypeValidation(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typeValidation = enabled
}

// Register adds model definitions. Duplicate names and registration after
// Install are errors.
func (r *Registry) Register(defs ...Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed {
		return fmt.Errorf("registry is already installed")
	}
	for _, def := range defs {
		name := def.Name()
		if _, ok := r.defs[name]; ok {
			return fmt.Errorf("model %q is already registered", name)
		}
		r.defs[name] = def
		r.order = append(r.order, name)
	}
	return nil
}

// AddForeignKey records a constraint declared by an Associate hook.
func (r *Registry) AddForeignKey(fk ForeignKeyConstraint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.foreignKeys = append(r.foreignKeys, fk)
}

// ForeignKeys returns the constraints collected so far.
func (r *Registry) ForeignKeys() []ForeignKeyConstraint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ForeignKeyConstraint, len(r.foreignKeys))
	copy(out, r.foreignKeys)
	return out
}

// bunRegistrar is the slice of *bun.DB the registry needs; it keeps Install
// testable without a live connection.
type bunRegistrar interface {
	RegisterModel(models ...interface{})
}

// Install runs the two-phase registration. Phase one installs every model:
// option defaults, default-field augmentation, derived writable attributes
// and unique groups, optional type validation, and Bun model registration.
// Phase two, strictly after all installs, runs the Associate hooks with the
// full model mapping, then normalizes and attaches hooks and scopes.
func (r *Registry) Install(db bunRegistrar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed {
		return nil
	}

	for _, name := range r.order {
		def := r.defs[name]

		var opts Options
		if od, ok := def.(OptionsDeclarer); ok {
			opts = od.Options()
		}

		var fields FieldMap
		if fd, ok := def.(FieldsDeclarer); ok {
			fields = fd.Fields()
		}
		fields = ApplyDefaultFields(fields, opts)

		if r.typeValidation {
			if err := ValidateFields(def.Model(), fields); err != nil {
				return fmt.Errorf("failed to install model %s: %w", name, err)
			}
		}

		info := &ModelInfo{
			def:          def,
			table:        tableNameFor(def, opts),
			options:      opts,
			fields:       fields,
			writable:     WritableAttributes(fields),
			uniqueGroups: UniqueIndexGroups(fields),
			hooks:        make(map[HookType][]HookHandler),
			scopes:       make(map[string]Scope),
		}
		if db != nil {
			db.RegisterModel(def.Model())
		}
		r.infos[name] = info
		r.byType[indirectType(def.Model())] = info
	}

	for _, name := range r.order {
		if a, ok := r.defs[name].(Associator); ok {
			a.Associate(r.defs)
		}
	}

	for _, name := range r.order {
		def := r.defs[name]
		info := r.infos[name]
		if hd, ok := def.(HooksDeclarer); ok {
			for ht, fn := range hd.Hooks() {
				h, err := NormalizeHook(fn)
				if err != nil {
					return fmt.Errorf("failed to attach %s hook on %s: %w", ht, name, err)
				}
				info.hooks[ht] = append(info.hooks[ht], h)
			}
		}
		if sd, ok := def.(ScopesDeclarer); ok {
			for sn, sv := range sd.Scopes() {
				s, err := NormalizeScope(sv)
				if err != nil {
					return fmt.Errorf("failed to attach scope %q on %s: %w", sn, name, err)
				}
				info.scopes[sn] = s
			}
		}
	}

	r.installed = true
	return nil
}

// Lookup returns the metadata for a model by name.
func (r *Registry) Lookup(name string) (*ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mi, ok := r.infos[name]
	return mi, ok
}

// LookupModel returns the metadata for a model by struct instance.
func (r *Registry) LookupModel(model interface{}) (*ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mi, ok := r.byType[indirectType(model)]
	return mi, ok
}

// Models returns the registered model instances in registration order.
func (r *Registry) Models() []interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instances := make([]interface{}, 0, len(r.order))
	for _, name := range r.order {
		instances = append(instances, r.defs[name].Model())
	}
	return instances
}

// Infos returns the derived metadata in registration order.
func (r *Registry) Infos() []*ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]*ModelInfo, 0, len(r.order))
	for _, name := range r.order {
		if mi, ok := r.infos[name]; ok {
			infos = append(infos, mi)
		}
	}
	return infos
}

func tableNameFor(def Definition, opts Options) string {
	if opts.TableName != "" {
		return opts.TableName
	}
	// FreezeTableName defaults on: the table is the snake_case model name,
	// never pluralized.
	return toSnakeCase(def.Name())
}

func indirectType(model interface{}) reflect.Type {
	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
