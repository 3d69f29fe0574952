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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/plover-db/plover/types"
	"github.com/uptrace/bun"
)

// versionsRecordName is the singleton metadata record keyed by model name.
const versionsRecordName = "versions"

// SystemMeta is the shared system metadata table: one row per name holding
// a free-form data mapping. Version bookkeeping lives in the "versions" row.
type SystemMeta struct {
	bun.BaseModel `bun:"table:system_meta,alias:sm"`

	ID        int64            `bun:"id,pk,autoincrement"`
	Name      string           `bun:"name,notnull,unique"`
	Data      types.JsonObject `bun:"data,type:jsonb"`
	CreatedAt time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time        `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt time.Time        `bun:"deleted_at,soft_delete,nullzero"`
}

// SystemMetaDefinition registers the SystemMeta model with the conventions
// the rest of the layer expects.
type SystemMetaDefinition struct{}

func (SystemMetaDefinition) Name() string { return "SystemMeta" }

func (SystemMetaDefinition) Model() interface{} { return (*SystemMeta)(nil) }

func (SystemMetaDefinition) Fields() FieldMap {
	return FieldMap{
		{Name: "name", Type: TypeString, NotNull: true, Unique: true},
		{Name: "data", Type: TypeJSON},
	}
}

func (SystemMetaDefinition) Options() Options { return Options{} }

// MetaStore reads and writes per-model version timestamps in the SystemMeta
// table. Operations accept an optional bun.IDB so callers can run them
// inside their own transaction; pass nil for the default connection.
type MetaStore struct {
	db       *bun.DB
	registry *Registry
	logger   Logger
}

// NewMetaStore constructs a meta store bound to the given registry.
func NewMetaStore(db *bun.DB, registry *Registry, logger Logger) *MetaStore {
	return &MetaStore{db: db, registry: registry, logger: logger}
}

func (ms *MetaStore) conn(idb bun.IDB) bun.IDB {
	if idb != nil {
		return idb
	}
	return ms.db
}

func (ms *MetaStore) available() bool {
	if ms.registry == nil {
		return false
	}
	_, ok := ms.registry.Lookup("SystemMeta")
	return ok
}

// GetVersion returns the recorded version timestamp for a model. A model
// never versioned yields the Unix epoch. Persistence errors propagate
// unchanged.
func (ms *MetaStore) GetVersion(ctx context.Context, idb bun.IDB, model string) (time.Time, error) {
	if !ms.available() {
		return time.Time{}, ErrSystemMetaUnavailable
	}
	record, err := ms.findOrCreate(ctx, ms.conn(idb), versionsRecordName)
	if err != nil {
		return time.Time{}, err
	}

	raw, ok := record.Data[model]
	if !ok {
		return time.Unix(0, 0).UTC(), nil
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("version entry for %s is not a string", model)
	}
	version, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse version for %s: %w", model, err)
	}
	return version, nil
}

// SetVersion records a version timestamp for a model in the "versions" row.
func (ms *MetaStore) SetVersion(ctx context.Context, idb bun.IDB, model string, version time.Time) error {
	if !ms.available() {
		return ErrSystemMetaUnavailable
	}
	db := ms.conn(idb)
	record, err := ms.findOrCreate(ctx, db, versionsRecordName)
	if err != nil {
		return err
	}

	if record.Data == nil {
		record.Data = make(types.JsonObject)
	}
	record.Data[model] = version.UTC().Format(time.RFC3339)
	record.UpdatedAt = time.Now()

	_, err = db.NewUpdate().
		Model(record).
		Column("data", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

// findOrCreate loads the named record, inserting an empty one on first
// access. The insert ignores duplicates so concurrent first access is safe.
func (ms *MetaStore) findOrCreate(ctx context.Context, db bun.IDB, name string) (*SystemMeta, error) {
	record := new(SystemMeta)
	err := db.NewSelect().Model(record).Where("name = ?", name).Scan(ctx)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	fresh := &SystemMeta{Name: name, Data: make(types.JsonObject)}
	if _, err := db.NewInsert().Model(fresh).Ignore().Exec(ctx); err != nil {
		return nil, err
	}
	record = new(SystemMeta)
	if err := db.NewSelect().Model(record).Where("name = ?", name).Scan(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// Seed inserts the "versions" record with an empty data mapping, ignoring
// the insert when it already exists. When the SystemMeta model is not
// registered this is a no-op rather than an error.
func (ms *MetaStore) Seed(ctx context.Context) error {
	if !ms.available() {
		if ms.logger != nil {
			ms.logger.Debug("SystemMeta model not registered, skipping meta seeding")
		}
		return nil
	}
	record := &SystemMeta{Name: versionsRecordName, Data: make(types.JsonObject)}
	_, err := ms.db.NewInsert().Model(record).Ignore().Exec(ctx)
	return err
}
