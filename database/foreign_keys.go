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

	"github.com/uptrace/bun"
)

// ForeignKeyConstraint describes a relationship declared by a model's
// Associate hook. Constraints are collected during registration and applied
// as part of the convention sync that precedes migrations.
type ForeignKeyConstraint struct {
	Table           string
	Column          string
	ReferenceTable  string
	ReferenceColumn string
	OnDelete        string // CASCADE, RESTRICT, SET NULL, NO ACTION
	OnUpdate        string
	ConstraintName  string
}

// GenerateConstraintName returns the explicit name or a derived one.
func (fk *ForeignKeyConstraint) GenerateConstraintName() string {
	if fk.ConstraintName != "" {
		return fk.ConstraintName
	}
	return fmt.Sprintf("fk_%s_%s", fk.Table, fk.Column)
}

// GenerateSQL returns the ALTER TABLE statement to add the constraint.
func (fk *ForeignKeyConstraint) GenerateSQL() string {
	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s)",
		fk.Table, fk.GenerateConstraintName(), fk.Column, fk.ReferenceTable, fk.ReferenceColumn)
	if fk.OnDelete != "" {
		sql += fmt.Sprintf(" ON DELETE %s", fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		sql += fmt.Sprintf(" ON UPDATE %s", fk.OnUpdate)
	}
	return sql
}

// applyForeignKeys adds every collected constraint, skipping ones the engine
// rejects as already present. sqlite cannot add constraints after table
// creation, so failures there are logged and skipped too.
func applyForeignKeys(ctx context.Context, db bun.IDB, constraints []ForeignKeyConstraint, logger Logger) error {
	for _, fk := range constraints {
		if _, err := db.ExecContext(ctx, fk.GenerateSQL()); err != nil {
			if logger != nil {
				logger.Debug("Skipping foreign key constraint",
					"constraint", fk.GenerateConstraintName(), "error", err.Error())
			}
			continue
		}
		if logger != nil {
			logger.Debug("Added foreign key constraint", "constraint", fk.GenerateConstraintName())
		}
	}
	return nil
}
