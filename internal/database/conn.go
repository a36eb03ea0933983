package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/logging"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/metrics"
)

// DBManager is the libSQL record store. It is safe for concurrent use.
type DBManager struct {
	config *Config
	db     *sql.DB

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt
}

// NewDBManager opens the database named by config.URL and ensures the
// schema exists.
func NewDBManager(config *Config) (*DBManager, error) {
	if config == nil {
		config = NewConfig()
	}
	db, err := sql.Open("libsql", connectURL(config))
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}

	// Apply connection pool tuning from config
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxIdleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(config.ConnMaxIdleSec) * time.Second)
	}
	if config.ConnMaxLifeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifeSec) * time.Second)
	}

	manager := &DBManager{
		config:    config,
		db:        db,
		stmtCache: make(map[string]*sql.Stmt),
	}
	if err := manager.initialize(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Observe initial pool stats
	inUse, idle := manager.PoolStats()
	metrics.Default().ObservePoolStats(inUse, idle)
	logging.L().Debug("record store ready", "url", redactURL(config.URL))
	return manager, nil
}

// connectURL returns the driver URL; remote URLs carry the auth token as a
// query parameter.
func connectURL(config *Config) string {
	dbURL := config.URL
	if strings.HasPrefix(dbURL, "file:") || config.AuthToken == "" {
		return dbURL
	}
	// Build URL safely and append/override the authToken parameter
	if u, err := url.Parse(dbURL); err == nil {
		q := u.Query()
		q.Set("authToken", config.AuthToken)
		u.RawQuery = q.Encode()
		return u.String()
	}
	// Fallback: naive append with encoding
	if strings.Contains(dbURL, "?") {
		return dbURL + "&authToken=" + url.QueryEscape(config.AuthToken)
	}
	return dbURL + "?authToken=" + url.QueryEscape(config.AuthToken)
}

// redactURL strips query parameters so tokens never reach the logs.
func redactURL(dbURL string) string {
	if i := strings.IndexByte(dbURL, '?'); i >= 0 && !strings.HasPrefix(dbURL, "file:") {
		return dbURL[:i]
	}
	return dbURL
}

// initialize creates tables and indexes if they don't exist
func (dm *DBManager) initialize(ctx context.Context) error {
	done := metrics.TimeOp("db_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range schema {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// Config returns the configuration the manager was opened with.
func (dm *DBManager) Config() *Config {
	return dm.config
}

// PoolStats reports connections in use and idle.
func (dm *DBManager) PoolStats() (inUse, idle int) {
	stats := dm.db.Stats()
	return stats.InUse, stats.Idle
}

// Close releases cached statements and the connection pool.
func (dm *DBManager) Close() error {
	dm.stmtMu.Lock()
	var errs []error
	for text, stmt := range dm.stmtCache {
		if err := stmt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close statement %q: %w", text, err))
		}
	}
	dm.stmtCache = make(map[string]*sql.Stmt)
	dm.stmtMu.Unlock()

	if err := dm.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}
