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
	"reflect"
	"testing"
)

func baseFields() FieldMap {
	return FieldMap{
		{Name: "id", Type: TypeBigInt, PrimaryKey: true},
		{Name: "title", Type: TypeString, NotNull: true},
	}
}

func TestApplyDefaultFields(t *testing.T) {
	in := baseFields()
	out := ApplyDefaultFields(in, Options{})

	if len(out) != len(in)+3 {
		t.Fatalf("expected %d fields, got %d", len(in)+3, len(out))
	}
	for i := range in {
		if out[i].Name != in[i].Name {
			t.Fatalf("original field order changed: %q at %d", out[i].Name, i)
		}
	}

	created, ok := out.Get("createdAt")
	if !ok || !created.NotNull || !created.Generated || created.Type != TypeDate {
		t.Fatalf("createdAt not generated as non-null date: %+v", created)
	}
	updated, ok := out.Get("updatedAt")
	if !ok || !updated.NotNull || !updated.Generated || updated.Type != TypeDate {
		t.Fatalf("updatedAt not generated as non-null date: %+v", updated)
	}
	deleted, ok := out.Get("deletedAt")
	if !ok || deleted.NotNull || !deleted.Generated || deleted.Type != TypeDate {
		t.Fatalf("deletedAt not generated as nullable date: %+v", deleted)
	}

	if len(in) != 2 {
		t.Fatal("input field map was mutated")
	}
}

func TestApplyDefaultFieldsTimestampsDisabled(t *testing.T) {
	in := baseFields()
	out := ApplyDefaultFields(in, Options{Timestamps: Bool(false)})

	if !reflect.DeepEqual(FieldMap(out), in) {
		t.Fatalf("expected unchanged field map, got %+v", out)
	}
}

func TestApplyDefaultFieldsDeletedAtDisabled(t *testing.T) {
	out := ApplyDefaultFields(baseFields(), Options{DeletedAt: Disabled()})

	if _, ok := out.Get("createdAt"); !ok {
		t.Fatal("createdAt missing")
	}
	if _, ok := out.Get("updatedAt"); !ok {
		t.Fatal("updatedAt missing")
	}
	if _, ok := out.Get("deletedAt"); ok {
		t.Fatal("deletedAt should be disabled")
	}
}

func TestApplyDefaultFieldsRename(t *testing.T) {
	out := ApplyDefaultFields(baseFields(), Options{CreatedAt: RenamedTo("created_on")})

	created, _ := out.Get("createdAt")
	if created.ColumnName() != "created_on" {
		t.Fatalf("expected renamed column created_on, got %q", created.ColumnName())
	}
	updated, _ := out.Get("updatedAt")
	if updated.ColumnName() != "updated_at" {
		t.Fatalf("expected default column updated_at, got %q", updated.ColumnName())
	}
}

func TestUniqueIndexGroups(t *testing.T) {
	fields := FieldMap{
		{Name: "a", UniqueGroup: "compound"},
		{Name: "b", UniqueGroup: "compound"},
		{Name: "c", Unique: true},
		{Name: "d"},
	}
	groups := UniqueIndexGroups(fields)
	want := [][]string{{"a", "b"}, {"c"}}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("expected %v, got %v", want, groups)
	}
}

func TestWritableAttributes(t *testing.T) {
	fields := ApplyDefaultFields(FieldMap{
		{Name: "id", PrimaryKey: true},
		{Name: "title"},
		{Name: "checksum", ReadOnly: true},
		{Name: "body"},
	}, Options{})

	want := []string{"title", "body"}
	if got := WritableAttributes(fields); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestValidateFields(t *testing.T) {
	type article struct {
		ID    int64
		Title string
	}

	fields := ApplyDefaultFields(FieldMap{{Name: "title"}}, Options{})
	if err := ValidateFields((*article)(nil), fields); err != nil {
		t.Fatalf("expected valid fields, got %v", err)
	}

	bad := FieldMap{{Name: "subtitle"}}
	if err := ValidateFields((*article)(nil), bad); err == nil {
		t.Fatal("expected validation error for missing struct field")
	}
}
