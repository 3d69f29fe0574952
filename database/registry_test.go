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
	"reflect"
	"testing"

	"github.com/uptrace/bun"
)

type testAuthor struct {
	bun.BaseModel `bun:"table:test_author"`

	ID        int64  `bun:"id,pk,autoincrement"`
	Nickname  string `bun:"nickname,notnull"`
	CreatedAt int64
	UpdatedAt int64
	DeletedAt int64
}

type testAuthorDef struct {
	hookRuns int
}

func (d *testAuthorDef) Name() string { return "TestAuthor" }

func (d *testAuthorDef) Model() interface{} { return (*testAuthor)(nil) }

func (d *testAuthorDef) Fields() FieldMap {
	return FieldMap{{Name: "nickname", Type: TypeString, NotNull: true, Unique: true}}
}

func (d *testAuthorDef) Hooks() map[HookType]interface{} {
	return map[HookType]interface{}{
		BeforeCreate: func() error { d.hookRuns++; return nil },
	}
}

func (d *testAuthorDef) Scopes() map[string]interface{} {
	return map[string]interface{}{
		DefaultScopeName: func(q *bun.SelectQuery) *bun.SelectQuery { return q },
	}
}

type testBook struct {
	bun.BaseModel `bun:"table:test_book"`

	ID       int64  `bun:"id,pk,autoincrement"`
	Title    string `bun:"title,notnull"`
	AuthorID int64  `bun:"author_id"`
}

type testBookDef struct {
	associatedWith []string
}

func (d *testBookDef) Name() string { return "TestBook" }

func (d *testBookDef) Model() interface{} { return (*testBook)(nil) }

func (d *testBookDef) Options() Options {
	return Options{TableName: "books", Timestamps: Bool(false), Paranoid: Bool(false)}
}

func (d *testBookDef) Fields() FieldMap {
	return FieldMap{
		{Name: "title", Type: TypeString, NotNull: true},
		{Name: "authorId", Type: TypeBigInt},
	}
}

func (d *testBookDef) Associate(models map[string]Definition) {
	for name := range models {
		d.associatedWith = append(d.associatedWith, name)
	}
}

type registeredModels struct {
	count int
}

func (r *registeredModels) RegisterModel(models ...interface{}) { r.count += len(models) }

func TestRegistryInstall(t *testing.T) {
	author := &testAuthorDef{}
	book := &testBookDef{}

	r := NewRegistry()
	if err := r.Register(book, author); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	db := &registeredModels{}
	if err := r.Install(db); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if db.count != 2 {
		t.Fatalf("expected 2 Bun model registrations, got %d", db.count)
	}

	// Associate runs only after every model is installed, so it sees both.
	if len(book.associatedWith) != 2 {
		t.Fatalf("expected associate to see 2 models, got %v", book.associatedWith)
	}

	mi, ok := r.Lookup("TestAuthor")
	if !ok {
		t.Fatal("TestAuthor not installed")
	}
	if mi.Table() != "test_author" {
		t.Fatalf("expected snake_case table test_author, got %q", mi.Table())
	}
	if _, ok := mi.Fields().Get("createdAt"); !ok {
		t.Fatal("default fields were not applied")
	}
	if got := mi.UniqueGroups(); !reflect.DeepEqual(got, [][]string{{"nickname"}}) {
		t.Fatalf("unexpected unique groups %v", got)
	}
	if _, ok := mi.DefaultScope(); !ok {
		t.Fatal("default scope not attached")
	}

	if err := mi.RunHooks(context.Background(), BeforeCreate, &testAuthor{}); err != nil {
		t.Fatalf("hook run failed: %v", err)
	}
	if author.hookRuns != 1 {
		t.Fatalf("expected 1 hook run, got %d", author.hookRuns)
	}

	bi, ok := r.Lookup("TestBook")
	if !ok {
		t.Fatal("TestBook not installed")
	}
	if bi.Table() != "books" {
		t.Fatalf("expected overridden table books, got %q", bi.Table())
	}
	if _, ok := bi.Fields().Get("createdAt"); ok {
		t.Fatal("timestamps should be disabled for TestBook")
	}
	if got := bi.Writable(); !reflect.DeepEqual(got, []string{"title", "authorId"}) {
		t.Fatalf("unexpected writable attributes %v", got)
	}
}

func TestRegistryLookupModel(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&testAuthorDef{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Install(nil); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	mi, ok := r.LookupModel(&testAuthor{})
	if !ok {
		t.Fatal("lookup by instance failed")
	}
	if mi.Definition().Name() != "TestAuthor" {
		t.Fatalf("unexpected definition %q", mi.Definition().Name())
	}
}

func TestRegistryDuplicateAndLateRegistration(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&testAuthorDef{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(&testAuthorDef{}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := r.Install(nil); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if err := r.Register(&testBookDef{}); err == nil {
		t.Fatal("expected error registering after install")
	}
}

func TestRegistryTypeValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&mismatchedDef{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Install(nil); err == nil {
		t.Fatal("expected validation error for field without struct member")
	}

	relaxed := NewRegistry()
	relaxed.SetTypeValidation(false)
	if err := relaxed.Register(&mismatchedDef{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := relaxed.Install(nil); err != nil {
		t.Fatalf("expected install to pass with validation disabled, got %v", err)
	}
}

type mismatchedDef struct{}

func (d *mismatchedDef) Name() string { return "Mismatched" }

func (d *mismatchedDef) Model() interface{} { return (*testBook)(nil) }

func (d *mismatchedDef) Fields() FieldMap {
	return FieldMap{{Name: "subtitle", Type: TypeString}}
}
