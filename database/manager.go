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
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	goversion "github.com/hashicorp/go-version"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

// State tracks initialization progress. Transitions are strictly ordered
// and never branch back.
type State int

const (
	StateDisconnected State = iota
	StateAuthenticated
	StateVersionChecked
	StateMigrated
	StateMetaSeeded
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticated:
		return "authenticated"
	case StateVersionChecked:
		return "version-checked"
	case StateMigrated:
		return "migrated"
	case StateMetaSeeded:
		return "meta-seeded"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql pool statistics.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// ConnectionManager owns a Bun connection and drives the startup sequence:
// authenticate, check the engine version, run migrations, seed the versions
// metadata, ready. Pooling and query execution stay inside Bun.
type ConnectionManager struct {
	config   *Config
	registry *Registry
	logger   Logger

	mu      sync.RWMutex
	db      *bun.DB
	sqlDB   *sql.DB
	state   State
	runner  *MigrationRunner
	meta    *MetaStore
	subs    map[int]ErrorSubscriber
	nextSub int
}

// NewConnectionManager builds a manager over the default registry. A nil
// config gets the layer defaults.
func NewConnectionManager(config *Config) *ConnectionManager {
	return NewConnectionManagerWithRegistry(config, DefaultRegistry())
}

// NewConnectionManagerWithRegistry builds a manager over a dedicated
// registry, for applications that keep several connections.
func NewConnectionManagerWithRegistry(config *Config, registry *Registry) *ConnectionManager {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	registry.SetTypeValidation(!config.DisableTypeValidation)
	return &ConnectionManager{
		config:   config,
		registry: registry,
		logger:   GetLogger(),
		state:    StateDisconnected,
		subs:     make(map[int]ErrorSubscriber),
	}
}

// SetLogger replaces the manager's logger.
func (m *ConnectionManager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger != nil {
		m.logger = logger
	}
}

// RegisterModels adds model definitions to the manager's registry. Must be
// called before Initialize.
func (m *ConnectionManager) RegisterModels(defs ...Definition) error {
	return m.registry.Register(defs...)
}

// OnError subscribes to query execution failures. The returned function
// removes the subscription.
func (m *ConnectionManager) OnError(sub ErrorSubscriber) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *ConnectionManager) notifyError(err error) {
	m.mu.RLock()
	subs := make([]ErrorSubscriber, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.RUnlock()
	for _, s := range subs {
		s(err)
	}
}

// Initialize drives the startup state machine. Every failure is fatal:
// it is logged and propagated, and the manager stays in its last state.
// On success the manager itself is returned so callers can chain.
func (m *ConnectionManager) Initialize(ctx context.Context) (*ConnectionManager, error) {
	if err := m.authenticate(ctx); err != nil {
		return nil, err
	}
	if err := m.checkEngineVersion(ctx); err != nil {
		return nil, err
	}
	if err := m.migrate(ctx); err != nil {
		return nil, err
	}
	if err := m.seedMeta(ctx); err != nil {
		return nil, err
	}

	m.setState(StateReady)
	m.logger.Info("Database initialization completed",
		"dialect", m.config.Connection.Type, "state", m.State().String())
	return m, nil
}

func (m *ConnectionManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// State returns the current initialization state.
func (m *ConnectionManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *ConnectionManager) authenticate(ctx context.Context) error {
	m.mu.Lock()
	if m.db != nil {
		m.mu.Unlock()
		return nil
	}

	sqlDB, db, err := m.createConnection()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	cc := m.config.Connection
	sqlDB.SetMaxIdleConns(cc.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cc.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cc.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cc.ConnMaxIdleTime)

	db.AddQueryHook(&queryErrorHook{logger: m.logger, notify: m.notifyError})
	if cc.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if cc.SlowQueryTime > 0 {
		db.AddQueryHook(&slowQueryHook{slowTime: cc.SlowQueryTime, logger: m.logger})
	}

	m.sqlDB = sqlDB
	m.db = db
	m.mu.Unlock()

	ctxTimeout, cancel := context.WithTimeout(ctx, cc.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctxTimeout); err != nil {
		return fmt.Errorf("database authentication failed: %w", err)
	}

	m.setState(StateAuthenticated)
	m.logger.Info("Database connected", "type", cc.Type, "host", cc.Host)
	return nil
}

func (m *ConnectionManager) createConnection() (*sql.DB, *bun.DB, error) {
	cc := &m.config.Connection
	switch cc.Type {
	case "mysql":
		return m.createMySQLConnection()
	case "postgres", "postgresql":
		return m.createPostgreSQLConnection()
	case "sqlite", "sqlite3":
		return m.createSQLiteConnection()
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", cc.Type)
	}
}

func (m *ConnectionManager) createMySQLConnection() (*sql.DB, *bun.DB, error) {
	cc := m.config.Connection
	dsn := cc.DSN
	if dsn == "" {
		charset := cc.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local&timeout=%s&readTimeout=%s&writeTimeout=%s",
			cc.Username, cc.Password, cc.Host, cc.Port, cc.DBName,
			charset, cc.ConnectTimeout, cc.ReadTimeout, cc.WriteTimeout)
	}
	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, mysqldialect.New()), nil
}

func (m *ConnectionManager) createPostgreSQLConnection() (*sql.DB, *bun.DB, error) {
	cc := m.config.Connection
	dsn := cc.DSN
	if dsn == "" {
		sslMode := cc.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
			cc.Username, cc.Password, cc.Host, cc.Port, cc.DBName,
			sslMode, int(cc.ConnectTimeout.Seconds()))
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, pgdialect.New()), nil
}

func (m *ConnectionManager) createSQLiteConnection() (*sql.DB, *bun.DB, error) {
	cc := m.config.Connection
	dsn := cc.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("file:%s.db", cc.DBName)
	}
	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, sqlitedialect.New()), nil
}

var versionPattern = regexp.MustCompile(`\d+(\.\d+)*`)

func (m *ConnectionManager) checkEngineVersion(ctx context.Context) error {
	dialect := normalizeDialect(m.config.Connection.Type)
	reported, err := m.engineVersion(ctx, dialect)
	if err != nil {
		return fmt.Errorf("failed to query engine version: %w", err)
	}

	reqs, err := m.config.engineRequirements()
	if err != nil {
		return err
	}
	required, ok := reqs.Engines[dialect]
	if !ok {
		// no range recorded for the dialect, nothing to enforce
		m.setState(StateVersionChecked)
		return nil
	}

	constraint, err := goversion.NewConstraint(required)
	if err != nil {
		return fmt.Errorf("invalid engine version range %q for %s: %w", required, dialect, err)
	}
	parsed, err := goversion.NewVersion(versionPattern.FindString(reported))
	if err != nil {
		return fmt.Errorf("failed to parse engine version %q: %w", reported, err)
	}

	if !constraint.Check(parsed) {
		verr := &EngineVersionError{Dialect: dialect, Required: required, Reported: reported}
		m.logger.Error("Database engine version check failed",
			"dialect", dialect, "required", required, "reported", reported)
		return verr
	}

	m.setState(StateVersionChecked)
	m.logger.Debug("Database engine version check passed",
		"dialect", dialect, "reported", reported, "required", required)
	return nil
}

func (m *ConnectionManager) engineVersion(ctx context.Context, dialect string) (string, error) {
	var stmt string
	switch dialect {
	case "mysql":
		stmt = "SELECT VERSION()"
	case "postgres":
		stmt = "SHOW server_version"
	case "sqlite":
		stmt = "SELECT sqlite_version()"
	default:
		return "", fmt.Errorf("unsupported database type: %s", dialect)
	}
	var version string
	if err := m.sqlDB.QueryRowContext(ctx, stmt).Scan(&version); err != nil {
		return "", err
	}
	return version, nil
}

func normalizeDialect(t string) string {
	switch t {
	case "postgresql":
		return "postgres"
	case "sqlite3":
		return "sqlite"
	default:
		return t
	}
}

func (m *ConnectionManager) migrate(ctx context.Context) error {
	if err := m.registry.Install(m.db); err != nil {
		return fmt.Errorf("failed to install models: %w", err)
	}

	m.runner = NewMigrationRunner(m.db, m.config, m.registry, m.logger)
	executed, err := m.runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	if m.config.Environment != "production" && len(executed) > 0 {
		names := make([]string, len(executed))
		for i, rec := range executed {
			names[i] = rec.Name
		}
		m.logger.Info("Executed migrations", "migrations", names)
	}

	m.setState(StateMigrated)
	return nil
}

func (m *ConnectionManager) seedMeta(ctx context.Context) error {
	m.meta = NewMetaStore(m.db, m.registry, m.logger)
	if err := m.meta.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed system metadata: %w", err)
	}
	m.setState(StateMetaSeeded)
	return nil
}

// DB returns the Bun database instance.
func (m *ConnectionManager) DB() *bun.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// SQLDB returns the underlying sql.DB.
func (m *ConnectionManager) SQLDB() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sqlDB
}

// Meta returns the version/meta store. Nil before Initialize reaches the
// meta-seeding step.
func (m *ConnectionManager) Meta() *MetaStore {
	return m.meta
}

// Migrations returns the migration runner. Nil before Initialize reaches
// the migration step.
func (m *ConnectionManager) Migrations() *MigrationRunner {
	return m.runner
}

// Registry returns the model registry backing this manager.
func (m *ConnectionManager) Registry() *Registry {
	return m.registry
}

// Ping checks connection liveness.
func (m *ConnectionManager) Ping(ctx context.Context) error {
	db := m.DB()
	if db == nil {
		return fmt.Errorf("database not connected")
	}
	return db.PingContext(ctx)
}

// HealthCheck runs a one-shot liveness probe and reports pool stats.
func (m *ConnectionManager) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}

	db := m.DB()
	if db == nil {
		status.LastError = "database not initialized"
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	err := db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}

	if sqlDB := m.SQLDB(); sqlDB != nil {
		stats := sqlDB.Stats()
		status.ActiveConns = stats.InUse
		status.IdleConns = stats.Idle
		status.MaxOpenConns = stats.MaxOpenConnections
	}
	return status
}

// Stats returns pool statistics.
func (m *ConnectionManager) Stats() *DBStats {
	sqlDB := m.SQLDB()
	if sqlDB == nil {
		return &DBStats{}
	}
	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

// Close closes the connection and resets the state machine.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	m.sqlDB = nil
	m.state = StateDisconnected
	if err != nil {
		m.logger.Error("Failed to close database connection", "error", err)
		return err
	}
	m.logger.Info("Database connection closed")
	return nil
}
