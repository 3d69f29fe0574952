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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// MigrationEvent is a lifecycle notification emitted around each migration.
type MigrationEvent int

const (
	EventMigrating MigrationEvent = iota
	EventMigrated
	EventReverting
	EventReverted
)

func (e MigrationEvent) String() string {
	switch e {
	case EventMigrating:
		return "migrating"
	case EventMigrated:
		return "migrated"
	case EventReverting:
		return "reverting"
	case EventReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// MigrationListener receives lifecycle events with the migration name.
type MigrationListener func(event MigrationEvent, name string)

// MigrationRecord is an applied migration persisted in the storage table.
// The table name is configurable; queries bind it at runtime.
type MigrationRecord struct {
	bun.BaseModel `bun:"table:migrations,alias:m"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Name      string    `bun:"name,notnull,unique"`
	AppliedAt time.Time `bun:"applied_at,notnull"`
}

// MigrationFunc is one migration step. It receives the schema-manipulation
// interface (a Bun connection or transaction).
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem is a single migration: Go-registered or discovered from a
// SQL file pair (File is set for the latter).
type MigrationItem struct {
	Name string
	File string
	Up   MigrationFunc
	Down MigrationFunc
}

// MigrationRunner brings the schema to the latest migration state. Pending
// migrations are applied only outside production; in production the runner
// reports already-executed migrations and never applies new ones.
type MigrationRunner struct {
	db           *bun.DB
	logger       Logger
	registry     *Registry
	environment  string
	storageTable string
	path         string
	items        []MigrationItem
	listeners    []MigrationListener
}

// NewMigrationRunner constructs a runner from the layer config.
func NewMigrationRunner(db *bun.DB, cfg *Config, registry *Registry, logger Logger) *MigrationRunner {
	storageTable := cfg.MigrationStorageTableName
	if storageTable == "" {
		storageTable = "migrations"
	}
	return &MigrationRunner{
		db:           db,
		logger:       logger,
		registry:     registry,
		environment:  cfg.Environment,
		storageTable: storageTable,
		path:         cfg.MigrationsPath,
	}
}

// OnMigration registers a lifecycle listener.
func (mr *MigrationRunner) OnMigration(l MigrationListener) {
	if l != nil {
		mr.listeners = append(mr.listeners, l)
	}
}

// RegisterMigrations adds Go-defined migrations.
func (mr *MigrationRunner) RegisterMigrations(items ...MigrationItem) {
	mr.items = append(mr.items, items...)
}

func (mr *MigrationRunner) emit(event MigrationEvent, name string) {
	for _, l := range mr.listeners {
		l(event, name)
	}
}

// Run synchronizes the conventional schema (registered model tables, unique
// indexes, foreign keys), then applies pending migrations in ascending name
// order, each in its own transaction. It returns the migrations executed by
// this run, or, in production, the records already applied.
func (mr *MigrationRunner) Run(ctx context.Context) ([]MigrationRecord, error) {
	if mr.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if err := mr.createStorageTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migration storage table: %w", err)
	}

	if err := mr.syncConventions(ctx); err != nil {
		return nil, err
	}

	if mr.environment == "production" {
		if mr.logger != nil {
			mr.logger.Debug("Production environment, reporting applied migrations only")
		}
		return mr.Applied(ctx)
	}

	pending, err := mr.pending(ctx)
	if err != nil {
		return nil, err
	}

	executed := make([]MigrationRecord, 0, len(pending))
	for _, item := range pending {
		record, err := mr.apply(ctx, item)
		if err != nil {
			return executed, fmt.Errorf("failed to execute migration %s: %w", item.Name, err)
		}
		executed = append(executed, record)
	}

	if mr.logger != nil {
		mr.logger.Info("Database migrations completed", "executed", len(executed))
	}
	return executed, nil
}

// syncConventions creates registered model tables, the unique indexes
// derived from field descriptors, and collected foreign keys. Every step is
// idempotent, so it runs on each startup without bookkeeping.
func (mr *MigrationRunner) syncConventions(ctx context.Context) error {
	if mr.registry == nil {
		return nil
	}
	for _, info := range mr.registry.Infos() {
		model := info.Definition().Model()
		if _, err := mr.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %s: %w", info.Table(), err)
		}

		for _, group := range info.UniqueGroups() {
			if len(group) < 2 {
				// single-column uniques are handled by the column constraint
				continue
			}
			columns := make([]string, 0, len(group))
			for _, name := range group {
				if f, ok := info.Fields().Get(name); ok {
					columns = append(columns, f.ColumnName())
				}
			}
			indexName := fmt.Sprintf("ux_%s_%s", info.Table(), strings.Join(columns, "_"))
			if _, err := mr.db.NewCreateIndex().
				Model(model).
				Unique().
				IfNotExists().
				Index(indexName).
				Column(columns...).
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to create unique index %s: %w", indexName, err)
			}
		}
	}
	return applyForeignKeys(ctx, mr.db, mr.registry.ForeignKeys(), mr.logger)
}

func (mr *MigrationRunner) createStorageTable(ctx context.Context) error {
	_, err := mr.db.NewCreateTable().
		Model((*MigrationRecord)(nil)).
		ModelTableExpr("?", bun.Ident(mr.storageTable)).
		IfNotExists().
		Exec(ctx)
	return err
}

// Applied returns migration records ordered by name.
func (mr *MigrationRunner) Applied(ctx context.Context) ([]MigrationRecord, error) {
	var records []MigrationRecord
	err := mr.db.NewSelect().
		Model(&records).
		ModelTableExpr("? AS m", bun.Ident(mr.storageTable)).
		Order("name ASC").
		Scan(ctx)
	return records, err
}

func (mr *MigrationRunner) pending(ctx context.Context) ([]MigrationItem, error) {
	applied, err := mr.Applied(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(applied))
	for _, rec := range applied {
		seen[rec.Name] = struct{}{}
	}

	all, err := mr.allMigrations()
	if err != nil {
		return nil, err
	}

	var pending []MigrationItem
	for _, item := range all {
		if _, ok := seen[item.Name]; !ok {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

func (mr *MigrationRunner) allMigrations() ([]MigrationItem, error) {
	all := make([]MigrationItem, 0, len(mr.items))
	all = append(all, mr.items...)

	files, err := mr.discoverFileMigrations()
	if err != nil {
		return nil, err
	}
	all = append(all, files...)

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

// discoverFileMigrations scans the migrations path for NNN_name.up.sql
// files, pairing each with its optional .down.sql counterpart. A missing
// directory means there is nothing to discover.
func (mr *MigrationRunner) discoverFileMigrations() ([]MigrationItem, error) {
	if mr.path == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(mr.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations path: %w", err)
	}

	var items []MigrationItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".up.sql")
		upPath := filepath.Join(mr.path, entry.Name())
		downPath := filepath.Join(mr.path, name+".down.sql")

		item := MigrationItem{
			Name: name,
			File: entry.Name(),
			Up:   sqlFileMigration(upPath),
		}
		if _, err := os.Stat(downPath); err == nil {
			item.Down = sqlFileMigration(downPath)
		}
		items = append(items, item)
	}
	return items, nil
}

func sqlFileMigration(path string) MigrationFunc {
	return func(ctx context.Context, db bun.IDB) error {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read migration file: %w", err)
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}

func (mr *MigrationRunner) apply(ctx context.Context, item MigrationItem) (MigrationRecord, error) {
	mr.emit(EventMigrating, item.Name)
	if mr.logger != nil && item.File != "" {
		mr.logger.Info("Applying migration", "file", item.File)
	}

	record := MigrationRecord{
		Name:      item.Name,
		AppliedAt: time.Now(),
	}
	err := mr.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if item.Up != nil {
			if err := item.Up(ctx, tx); err != nil {
				return err
			}
		}
		_, err := tx.NewInsert().
			Model(&record).
			ModelTableExpr("?", bun.Ident(mr.storageTable)).
			Exec(ctx)
		return err
	})
	if err != nil {
		return record, err
	}

	mr.emit(EventMigrated, item.Name)
	if mr.logger != nil {
		mr.logger.Info("Migration executed successfully", "name", item.Name)
	}
	return record, nil
}

// Rollback reverts the most recently applied migration. Migrations without
// a down step cannot be reverted.
func (mr *MigrationRunner) Rollback(ctx context.Context) error {
	var latest MigrationRecord
	err := mr.db.NewSelect().
		Model(&latest).
		ModelTableExpr("? AS m", bun.Ident(mr.storageTable)).
		Order("name DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no migrations to roll back")
	}
	if err != nil {
		return err
	}

	all, err := mr.allMigrations()
	if err != nil {
		return err
	}
	var target *MigrationItem
	for i := range all {
		if all[i].Name == latest.Name {
			target = &all[i]
			break
		}
	}
	if target == nil || target.Down == nil {
		return fmt.Errorf("migration %s has no down step", latest.Name)
	}

	mr.emit(EventReverting, target.Name)
	err = mr.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := target.Down(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model((*MigrationRecord)(nil)).
			ModelTableExpr("? AS m", bun.Ident(mr.storageTable)).
			Where("name = ?", target.Name).
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to revert migration %s: %w", target.Name, err)
	}

	mr.emit(EventReverted, target.Name)
	if mr.logger != nil {
		mr.logger.Info("Migration reverted", "name", target.Name)
	}
	return nil
}
