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
	"sync"

	"github.com/uptrace/bun"
)

var (
	globalManager   *ConnectionManager
	globalManagerMu sync.RWMutex
)

// InitDB initializes the global connection manager, runs the full startup
// sequence, and returns the Bun database instance.
func InitDB(ctx context.Context, config *Config) (*bun.DB, error) {
	manager := NewConnectionManager(config)
	if _, err := manager.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	globalManagerMu.Lock()
	globalManager = manager
	globalManagerMu.Unlock()
	return manager.DB(), nil
}

// GetManager returns the global connection manager, or nil before InitDB.
func GetManager() *ConnectionManager {
	globalManagerMu.RLock()
	defer globalManagerMu.RUnlock()
	return globalManager
}

// GetDB returns the global Bun database instance, or nil before InitDB.
func GetDB() *bun.DB {
	if m := GetManager(); m != nil {
		return m.DB()
	}
	return nil
}

// CloseDB closes the global database connection.
func CloseDB() error {
	globalManagerMu.Lock()
	manager := globalManager
	globalManager = nil
	globalManagerMu.Unlock()
	if manager == nil {
		return nil
	}
	return manager.Close()
}

// GetHealthStatus returns the current database health status.
func GetHealthStatus(ctx context.Context) *HealthStatus {
	if m := GetManager(); m != nil {
		return m.HealthCheck(ctx)
	}
	return &HealthStatus{LastError: "database not initialized"}
}
