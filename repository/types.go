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

	"github.com/plover-db/plover/types"
	"github.com/uptrace/bun"
)

// Repository is a generic data access contract over one entity type.
type Repository[T any] interface {
	// GetOne returns a single entity by its identifier.
	GetOne(ctx context.Context, id any) (*T, error)

	// GetAll returns all entities, filtered by the default scope.
	GetAll(ctx context.Context) ([]*T, error)

	// List returns entities matching the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Create inserts entities, running create/save hooks around the insert.
	Create(ctx context.Context, entity ...*T) error

	// Update modifies an entity, touching only its writable attributes.
	Update(ctx context.Context, entity *T) error

	// Delete removes an entity by its identifier.
	Delete(ctx context.Context, id any) error

	// CreateWithTx inserts entities within an existing transaction.
	CreateWithTx(ctx context.Context, tx *bun.Tx, entity ...*T) error

	// UpdateWithTx updates an entity within a transaction.
	UpdateWithTx(ctx context.Context, tx *bun.Tx, entity *T) error

	// DeleteWithTx removes an entity within a transaction.
	DeleteWithTx(ctx context.Context, tx *bun.Tx, id any) error

	// Scoped returns a select query with the named registered scope applied.
	Scoped(name string) (*bun.SelectQuery, error)

	// NewSelect returns a Bun select query builder.
	NewSelect() *bun.SelectQuery

	// NewInsert returns a Bun insert query builder.
	NewInsert() *bun.InsertQuery

	// NewUpdate returns a Bun update query builder.
	NewUpdate() *bun.UpdateQuery

	// NewDelete returns a Bun delete query builder.
	NewDelete() *bun.DeleteQuery
}
