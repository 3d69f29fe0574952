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
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// FieldType is the logical column type carried by a field descriptor.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeText    FieldType = "text"
	TypeInteger FieldType = "integer"
	TypeBigInt  FieldType = "bigint"
	TypeFloat   FieldType = "float"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeJSON    FieldType = "json"
)

// Field describes one model attribute. Unique marks a single-field unique
// constraint; UniqueGroup names a composite one shared across fields.
type Field struct {
	Name        string
	Column      string // database column override; defaults to snake_case(Name)
	Type        FieldType
	PrimaryKey  bool
	NotNull     bool
	Unique      bool
	UniqueGroup string
	Generated   bool
	ReadOnly    bool
}

// ColumnName returns the database column for the field.
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return toSnakeCase(f.Name)
}

// FieldMap is an ordered collection of field descriptors. Insertion order
// is meaningful and preserved by every transform in this package.
type FieldMap []Field

// Get returns the field with the given name, if present.
func (fm FieldMap) Get(name string) (Field, bool) {
	for _, f := range fm {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldOption controls one generated timestamp column: present under its
// default column name, renamed, or disabled outright.
type FieldOption struct {
	Disabled bool
	Rename   string
}

// Disabled returns a FieldOption that suppresses the generated column.
func Disabled() FieldOption { return FieldOption{Disabled: true} }

// RenamedTo returns a FieldOption that renames the generated column.
func RenamedTo(column string) FieldOption { return FieldOption{Rename: column} }

// Options is the per-model options record consumed at registration time.
// Nil pointers mean "use the layer default" (freeze table name, paranoid
// soft deletes, and timestamps are all on by default).
type Options struct {
	TableName       string
	FreezeTableName *bool
	Paranoid        *bool
	Timestamps      *bool
	CreatedAt       FieldOption
	UpdatedAt       FieldOption
	DeletedAt       FieldOption
}

func (o Options) timestamps() bool {
	return o.Timestamps == nil || *o.Timestamps
}

func (o Options) paranoid() bool {
	return o.Paranoid == nil || *o.Paranoid
}

// Bool is a helper for the tri-state option pointers.
func Bool(v bool) *bool { return &v }

// ApplyDefaultFields returns a new field map with the generated timestamp
// and soft-delete fields appended after the originals. createdAt and
// updatedAt are non-nullable dates, deletedAt is nullable; all three are
// marked generated so they never count as writable attributes. A pure
// transform: the input map is not mutated.
func ApplyDefaultFields(fields FieldMap, opts Options) FieldMap {
	out := make(FieldMap, len(fields), len(fields)+3)
	copy(out, fields)

	if !opts.timestamps() {
		return out
	}
	if !opts.CreatedAt.Disabled {
		out = append(out, Field{
			Name:      "createdAt",
			Column:    opts.CreatedAt.Rename,
			Type:      TypeDate,
			NotNull:   true,
			Generated: true,
		})
	}
	if !opts.UpdatedAt.Disabled {
		out = append(out, Field{
			Name:      "updatedAt",
			Column:    opts.UpdatedAt.Rename,
			Type:      TypeDate,
			NotNull:   true,
			Generated: true,
		})
	}
	if opts.paranoid() && !opts.DeletedAt.Disabled {
		out = append(out, Field{
			Name:      "deletedAt",
			Column:    opts.DeletedAt.Rename,
			Type:      TypeDate,
			Generated: true,
		})
	}
	return out
}

// UniqueIndexGroups derives composite unique index groups from the field
// descriptors: fields sharing a UniqueGroup name form one group, fields
// with the boolean Unique marker form singleton groups. Groups appear in
// order of discovery, members in field order.
func UniqueIndexGroups(fields FieldMap) [][]string {
	var groups [][]string
	named := make(map[string]int)

	for _, f := range fields {
		switch {
		case f.UniqueGroup != "":
			if idx, ok := named[f.UniqueGroup]; ok {
				groups[idx] = append(groups[idx], f.Name)
			} else {
				named[f.UniqueGroup] = len(groups)
				groups = append(groups, []string{f.Name})
			}
		case f.Unique:
			groups = append(groups, []string{f.Name})
		}
	}
	return groups
}

// WritableAttributes returns the names of fields eligible for direct
// mutation: primary keys and generated/read-only fields are excluded.
func WritableAttributes(fields FieldMap) []string {
	writable := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.PrimaryKey || f.Generated || f.ReadOnly {
			continue
		}
		writable = append(writable, f.Name)
	}
	return writable
}

// ValidateFields checks that every declared non-generated field matches an
// exported struct field on the model. On unless Config.DisableTypeValidation
// is set.
func ValidateFields(model interface{}, fields FieldMap) error {
	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("model must be a struct pointer, got %T", model)
	}

	for _, f := range fields {
		if f.Generated {
			continue
		}
		if !structHasField(t, f.Name) {
			return fmt.Errorf("model %s declares field %q with no matching struct field", t.Name(), f.Name)
		}
	}
	return nil
}

func structHasField(t reflect.Type, name string) bool {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous {
			ft := sf.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && structHasField(ft, name) {
				return true
			}
			continue
		}
		if strings.EqualFold(sf.Name, name) {
			return true
		}
	}
	return false
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
