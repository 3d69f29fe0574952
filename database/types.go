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
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectionConfig describes how to connect to a database and tune its pool.
// DSN, when set, takes precedence over the discrete host/port fields.
type ConnectionConfig struct {
	Type            string        `json:"type"` // postgres, mysql, sqlite
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	DBName          string        `json:"dbname"`
	DSN             string        `json:"dsn"`
	SSLMode         string        `json:"sslmode"`
	Charset         string        `json:"charset"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	MaxOpenConns    int           `json:"max_open_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	EnableQueryLog  bool          `json:"enable_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

// Config aggregates connection settings and the conventions applied on top:
// migration location and storage table, type validation, and the engine
// version requirements per dialect.
type Config struct {
	Connection                ConnectionConfig  `json:"connection"`
	Environment               string            `json:"environment"`
	DisableTypeValidation     bool              `json:"disable_type_validation"`
	MigrationsPath            string            `json:"migrations_path"`
	MigrationStorageTableName string            `json:"migration_storage_table_name"`
	EngineRequirementsFile    string            `json:"engine_requirements_file"`
	Engines                   map[string]string `json:"engines"`
}

// DefaultConfig returns a config with the layer's conventional defaults.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: time.Minute * 30,
			ConnectTimeout:  time.Second * 10,
			ReadTimeout:     time.Second * 30,
			WriteTimeout:    time.Second * 30,
			SlowQueryTime:   time.Second * 2,
		},
		Environment:               "development",
		MigrationsPath:            "migrations",
		MigrationStorageTableName: "migrations",
	}
}

// normalize fills zero values with defaults and applies env overrides.
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Environment == "" {
		c.Environment = def.Environment
	}
	if c.MigrationsPath == "" {
		c.MigrationsPath = def.MigrationsPath
	}
	if c.MigrationStorageTableName == "" {
		c.MigrationStorageTableName = def.MigrationStorageTableName
	}
	cc := &c.Connection
	if cc.MaxIdleConns == 0 {
		cc.MaxIdleConns = def.Connection.MaxIdleConns
	}
	if cc.MaxOpenConns == 0 {
		cc.MaxOpenConns = def.Connection.MaxOpenConns
	}
	if cc.ConnMaxLifetime == 0 {
		cc.ConnMaxLifetime = def.Connection.ConnMaxLifetime
	}
	if cc.ConnMaxIdleTime == 0 {
		cc.ConnMaxIdleTime = def.Connection.ConnMaxIdleTime
	}
	if cc.ConnectTimeout <= 0 {
		cc.ConnectTimeout = def.Connection.ConnectTimeout
	}
	if cc.ReadTimeout <= 0 {
		cc.ReadTimeout = def.Connection.ReadTimeout
	}
	if cc.WriteTimeout <= 0 {
		cc.WriteTimeout = def.Connection.WriteTimeout
	}
	cc.overrideFromEnv()
}

// overrideFromEnv overrides sensitive connection values from the environment.
func (cc *ConnectionConfig) overrideFromEnv() {
	if host := os.Getenv("DB_HOST"); host != "" {
		cc.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cc.Port = p
		}
	}
	if username := os.Getenv("DB_USERNAME"); username != "" {
		cc.Username = username
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cc.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cc.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cc.SSLMode = sslmode
	}
	if enableQueryLog := os.Getenv("DB_ENABLE_QUERY_LOG"); enableQueryLog != "" {
		cc.EnableQueryLog = enableQueryLog == "true"
	}
}

// EngineRequirements records the supported engine version range per dialect,
// the Go equivalent of a package descriptor's engines block.
type EngineRequirements struct {
	Engines map[string]string `yaml:"engines"`
}

// defaultEngineRequirements are used when no descriptor file is configured.
func defaultEngineRequirements() *EngineRequirements {
	return &EngineRequirements{
		Engines: map[string]string{
			"mysql":    ">= 5.7",
			"postgres": ">= 12",
			"sqlite":   ">= 3.25",
		},
	}
}

// LoadEngineRequirements reads an engine requirements descriptor from YAML.
func LoadEngineRequirements(path string) (*EngineRequirements, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine requirements: %w", err)
	}
	var reqs EngineRequirements
	if err := yaml.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("failed to parse engine requirements: %w", err)
	}
	return &reqs, nil
}

// engineRequirements resolves the effective requirements for this config:
// inline Engines win, then the descriptor file, then built-in defaults.
func (c *Config) engineRequirements() (*EngineRequirements, error) {
	if len(c.Engines) > 0 {
		return &EngineRequirements{Engines: c.Engines}, nil
	}
	if c.EngineRequirementsFile != "" {
		return LoadEngineRequirements(c.EngineRequirementsFile)
	}
	return defaultEngineRequirements(), nil
}
