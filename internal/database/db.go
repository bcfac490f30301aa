package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool creates a new database connection pool
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB opens (creating if needed) the trust score database under dataDir
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "nft_trust_score.db")
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite serializes writers; a small pool keeps busy waits short
	pool := NewConnectionPool(db, 8, 4, 5*time.Minute)

	database := &DB{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := database.initPreparedStatements(); err != nil {
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized",
		"path", dbPath,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns)

	return database, nil
}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	queries := []string{
		// Latest score per entity; payload is the full EntityTrustScore as JSON
		`CREATE TABLE IF NOT EXISTS entity_scores (
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			overall_score REAL NOT NULL,
			confidence REAL NOT NULL,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL, -- unix nanoseconds
			PRIMARY KEY (entity_type, entity_id)
		)`,

		// Append-only history ledger
		`CREATE TABLE IF NOT EXISTS score_history (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			recorded_at INTEGER NOT NULL, -- unix nanoseconds
			score REAL NOT NULL,
			confidence REAL NOT NULL,
			changes TEXT NOT NULL -- JSON []ScoreChange
		)`,

		// Raw inputs consumed by the fetcher
		`CREATE TABLE IF NOT EXISTS entity_snapshots (
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (entity_type, entity_id)
		)`,

		// Events dropped after exhausting retries
		`CREATE TABLE IF NOT EXISTS dead_letter_events (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			error TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_score_history_entity ON score_history(entity_type, entity_id, recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_scores_score ON entity_scores(entity_type, overall_score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letter_created ON dead_letter_events(created_at DESC)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// initPreparedStatements initializes frequently used prepared statements
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"get_score": `SELECT payload FROM entity_scores WHERE entity_type = ? AND entity_id = ?`,

		"upsert_score": `INSERT INTO entity_scores (entity_type, entity_id, overall_score, confidence, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			overall_score = excluded.overall_score,
			confidence = excluded.confidence,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,

		"latest_history": `SELECT COALESCE(MAX(recorded_at), 0) FROM score_history WHERE entity_type = ? AND entity_id = ?`,

		"insert_history": `INSERT INTO score_history (id, entity_type, entity_id, recorded_at, score, confidence, changes)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,

		"get_history": `SELECT recorded_at, score, confidence, changes FROM score_history
			WHERE entity_type = ? AND entity_id = ? ORDER BY recorded_at ASC, rowid ASC`,

		"upsert_snapshot": `INSERT INTO entity_snapshots (entity_type, entity_id, data, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,

		"get_snapshot": `SELECT data FROM entity_snapshots WHERE entity_type = ? AND entity_id = ?`,

		"insert_dead_letter": `INSERT INTO dead_letter_events (id, event_id, event_type, entity_type, entity_id, payload, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,

		"list_dead_letters": `SELECT id, event_id, event_type, entity_type, entity_id, payload, error, created_at
			FROM dead_letter_events ORDER BY created_at DESC LIMIT ?`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
