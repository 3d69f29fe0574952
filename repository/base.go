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
	"fmt"

	"github.com/plover-db/plover/database"
	"github.com/plover-db/plover/types"
	"github.com/uptrace/bun"
)

type baseRepositoryImpl[T any] struct {
	db       *bun.DB
	registry *database.Registry
}

// NewRepository returns a generic repository backed by the provided Bun DB
// and the default model registry.
func NewRepository[T any](db *bun.DB) Repository[T] {
	return NewRepositoryWithRegistry[T](db, database.DefaultRegistry())
}

// NewRepositoryWithRegistry returns a repository bound to a specific registry.
func NewRepositoryWithRegistry[T any](db *bun.DB, registry *database.Registry) Repository[T] {
	return &baseRepositoryImpl[T]{db: db, registry: registry}
}

// info returns the registration metadata for T, or nil for unregistered
// models (which then get plain Bun behavior without conventions).
func (r *baseRepositoryImpl[T]) info() *database.ModelInfo {
	var entity T
	mi, ok := r.registry.LookupModel(&entity)
	if !ok {
		return nil
	}
	return mi
}

func (r *baseRepositoryImpl[T]) runHooks(ctx context.Context, ht database.HookType, model interface{}) error {
	mi := r.info()
	if mi == nil {
		return nil
	}
	return mi.RunHooks(ctx, ht, model)
}

func (r *baseRepositoryImpl[T]) applyDefaultScope(q *bun.SelectQuery) *bun.SelectQuery {
	if mi := r.info(); mi != nil {
		if scope, ok := mi.DefaultScope(); ok {
			return scope(q)
		}
	}
	return q
}

func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery { return r.db.NewSelect() }

func (r *baseRepositoryImpl[T]) NewInsert() *bun.InsertQuery { return r.db.NewInsert() }

func (r *baseRepositoryImpl[T]) NewUpdate() *bun.UpdateQuery { return r.db.NewUpdate() }

func (r *baseRepositoryImpl[T]) NewDelete() *bun.DeleteQuery { return r.db.NewDelete() }

func (r *baseRepositoryImpl[T]) Scoped(name string) (*bun.SelectQuery, error) {
	mi := r.info()
	if mi == nil {
		return nil, fmt.Errorf("model is not registered")
	}
	scope, ok := mi.Scope(name)
	if !ok {
		return nil, fmt.Errorf("scope %q is not declared for %s", name, mi.Definition().Name())
	}
	var entities []*T
	return scope(r.db.NewSelect().Model(&entities)), nil
}

func (r *baseRepositoryImpl[T]) GetOne(ctx context.Context, id any) (*T, error) {
	var entity T
	q := r.applyDefaultScope(r.db.NewSelect().Model(&entity).Where("id = ?", id))
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context) ([]*T, error) {
	var entities []*T
	err := r.applyDefaultScope(r.db.NewSelect().Model(&entities)).Scan(ctx)
	return entities, err
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	var entities []*T
	q := r.applyDefaultScope(r.db.NewSelect().Model(&entities))
	if filter != nil {
		q = q.Where(filter.Schema, filter.Args...)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	var entities []*T
	q := r.applyDefaultScope(r.db.NewSelect().Model(&entities))
	if pageRequest.GetFilter() != nil {
		q = q.Where(pageRequest.GetFilter().Schema, pageRequest.GetFilter().Args...)
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := q.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	err = q.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		Order(pageRequest.GetOrders()...).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = entities
	return pagination, nil
}

func (r *baseRepositoryImpl[T]) Create(ctx context.Context, entity ...*T) error {
	return r.create(ctx, r.db, entity...)
}

func (r *baseRepositoryImpl[T]) CreateWithTx(ctx context.Context, tx *bun.Tx, entity ...*T) error {
	return r.create(ctx, tx, entity...)
}

func (r *baseRepositoryImpl[T]) create(ctx context.Context, db bun.IDB, entity ...*T) error {
	for _, e := range entity {
		if err := r.runHooks(ctx, database.BeforeCreate, e); err != nil {
			return err
		}
		if err := r.runHooks(ctx, database.BeforeSave, e); err != nil {
			return err
		}
	}
	entities := make([]*T, len(entity))
	copy(entities, entity)
	if _, err := db.NewInsert().Model(&entities).Exec(ctx); err != nil {
		return err
	}
	for _, e := range entity {
		if err := r.runHooks(ctx, database.AfterCreate, e); err != nil {
			return err
		}
		if err := r.runHooks(ctx, database.AfterSave, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, entity *T) error {
	return r.update(ctx, r.db, entity)
}

func (r *baseRepositoryImpl[T]) UpdateWithTx(ctx context.Context, tx *bun.Tx, entity *T) error {
	return r.update(ctx, tx, entity)
}

func (r *baseRepositoryImpl[T]) update(ctx context.Context, db bun.IDB, entity *T) error {
	if err := r.runHooks(ctx, database.BeforeUpdate, entity); err != nil {
		return err
	}
	if err := r.runHooks(ctx, database.BeforeSave, entity); err != nil {
		return err
	}

	q := db.NewUpdate().Model(entity).WherePK()
	if mi := r.info(); mi != nil {
		if cols := mi.WritableColumns(); len(cols) > 0 {
			q = q.Column(cols...)
		}
	}
	if _, err := q.Exec(ctx); err != nil {
		return err
	}

	if err := r.runHooks(ctx, database.AfterUpdate, entity); err != nil {
		return err
	}
	return r.runHooks(ctx, database.AfterSave, entity)
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, id any) error {
	return r.delete(ctx, r.db, id)
}

func (r *baseRepositoryImpl[T]) DeleteWithTx(ctx context.Context, tx *bun.Tx, id any) error {
	return r.delete(ctx, tx, id)
}

func (r *baseRepositoryImpl[T]) delete(ctx context.Context, db bun.IDB, id any) error {
	if err := r.runHooks(ctx, database.BeforeDelete, id); err != nil {
		return err
	}
	var entity T
	if _, err := db.NewDelete().Model(&entity).Where("id = ?", id).Exec(ctx); err != nil {
		return err
	}
	return r.runHooks(ctx, database.AfterDelete, id)
}
