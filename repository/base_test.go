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

package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/plover-db/plover/database"
	"github.com/plover-db/plover/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type Note struct {
	bun.BaseModel `bun:"table:note,alias:n"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Title     string    `bun:"title,notnull"`
	Body      string    `bun:"body"`
	Archived  bool      `bun:"archived"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt time.Time `bun:"deleted_at,soft_delete,nullzero"`
}

type noteDef struct {
	beforeCreates int
}

func (d *noteDef) Name() string { return "Note" }

func (d *noteDef) Model() interface{} { return (*Note)(nil) }

func (d *noteDef) Fields() database.FieldMap {
	return database.FieldMap{
		{Name: "title", Type: database.TypeString, NotNull: true},
		{Name: "body", Type: database.TypeText},
		{Name: "archived", Type: database.TypeBoolean},
	}
}

func (d *noteDef) Hooks() map[database.HookType]interface{} {
	return map[database.HookType]interface{}{
		database.BeforeCreate: func(model interface{}) error {
			d.beforeCreates++
			note, ok := model.(*Note)
			if !ok {
				return errors.New("unexpected model type")
			}
			if note.Title == "" {
				note.Title = "untitled"
			}
			return nil
		},
	}
}

func (d *noteDef) Scopes() map[string]interface{} {
	return map[string]interface{}{
		database.DefaultScopeName: func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("archived = ?", false)
		},
		"archived": func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("archived = ?", true)
		},
	}
}

func newNoteRepository(t *testing.T) (Repository[Note], *noteDef, *bun.DB) {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	def := &noteDef{}
	registry := database.NewRegistry()
	if err := registry.Register(def); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := registry.Install(db); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if _, err := db.NewCreateTable().Model((*Note)(nil)).IfNotExists().Exec(context.Background()); err != nil {
		t.Fatalf("failed to create note table: %v", err)
	}
	return NewRepositoryWithRegistry[Note](db, registry), def, db
}

func TestRepositoryCreateRunsHooks(t *testing.T) {
	repo, def, _ := newNoteRepository(t)
	ctx := context.Background()

	note := &Note{Body: "first"}
	if err := repo.Create(ctx, note); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if def.beforeCreates != 1 {
		t.Fatalf("expected 1 beforeCreate run, got %d", def.beforeCreates)
	}
	if note.Title != "untitled" {
		t.Fatalf("hook did not fill the title, got %q", note.Title)
	}
	if note.ID == 0 {
		t.Fatal("expected generated identifier")
	}
}

func TestRepositoryDefaultScope(t *testing.T) {
	repo, _, _ := newNoteRepository(t)
	ctx := context.Background()

	active := &Note{Title: "active"}
	archived := &Note{Title: "archived", Archived: true}
	if err := repo.Create(ctx, active, archived); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(all) != 1 || all[0].Title != "active" {
		t.Fatalf("default scope should hide archived notes, got %+v", all)
	}

	if _, err := repo.GetOne(ctx, archived.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no rows for archived note, got %v", err)
	}
}

func TestRepositoryNamedScope(t *testing.T) {
	repo, _, _ := newNoteRepository(t)
	ctx := context.Background()

	if err := repo.Create(ctx,
		&Note{Title: "active"},
		&Note{Title: "archived", Archived: true},
	); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	q, err := repo.Scoped("archived")
	if err != nil {
		t.Fatalf("scoped failed: %v", err)
	}
	count, err := q.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 archived note, got %d", count)
	}

	if _, err := repo.Scoped("missing"); err == nil {
		t.Fatal("expected error for undeclared scope")
	}
}

func TestRepositoryUpdateWritableColumns(t *testing.T) {
	repo, _, db := newNoteRepository(t)
	ctx := context.Background()

	note := &Note{Title: "draft", Body: "text"}
	if err := repo.Create(ctx, note); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	note.Title = "published"
	// ID is not a writable attribute, so a changed value must not persist.
	originalID := note.ID
	if err := repo.Update(ctx, note); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stored := new(Note)
	if err := db.NewSelect().Model(stored).Where("id = ?", originalID).Scan(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if stored.Title != "published" {
		t.Fatalf("expected updated title, got %q", stored.Title)
	}
}

func TestRepositorySoftDelete(t *testing.T) {
	repo, _, db := newNoteRepository(t)
	ctx := context.Background()

	note := &Note{Title: "gone"}
	if err := repo.Create(ctx, note); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Delete(ctx, note.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("deleted note still visible: %+v", all)
	}

	// The row survives with a deletion timestamp.
	var count int
	err = db.NewRaw("SELECT count(*) FROM note WHERE deleted_at IS NOT NULL").Scan(ctx, &count)
	if err != nil {
		t.Fatalf("raw count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 soft-deleted row, got %d", count)
	}
}

func TestRepositoryListAndPage(t *testing.T) {
	repo, _, _ := newNoteRepository(t)
	ctx := context.Background()

	var notes []*Note
	for _, title := range []string{"alpha", "beta", "gamma"} {
		notes = append(notes, &Note{Title: title})
	}
	if err := repo.Create(ctx, notes...); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	listed, err := repo.List(ctx, types.NewQueryFilter("title != ?", "beta"))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(listed))
	}

	page, err := repo.Page(ctx, types.NewDefaultPageRequest(1, 2))
	if err != nil {
		t.Fatalf("page failed: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 {
		t.Fatalf("unexpected pagination: total=%d items=%d", page.Total, len(page.Items))
	}
}

func TestRepositoryWithTransaction(t *testing.T) {
	repo, _, db := newNoteRepository(t)
	ctx := context.Background()

	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := repo.CreateWithTx(ctx, &tx, &Note{Title: "in tx"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected rollback error")
	}

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("rolled-back note is visible: %+v", all)
	}
}
