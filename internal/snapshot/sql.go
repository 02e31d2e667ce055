package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultStateTable   = "ledgerrelay_state"
	defaultStateKey     = "default"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqlDialect struct {
	driver      string
	createTable string
	selectQuery string
	upsertQuery string
}

var postgresDialect = sqlDialect{
	driver: "postgres",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			state_key TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	selectQuery: "SELECT snapshot FROM %s WHERE state_key = $1",
	upsertQuery: `
		INSERT INTO %s (state_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
}

var sqliteDialect = sqlDialect{
	driver: "sqlite3",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			state_key TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	selectQuery: "SELECT snapshot FROM %s WHERE state_key = ?",
	upsertQuery: `
		INSERT INTO %s (state_key, snapshot, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = excluded.snapshot, updated_at = CURRENT_TIMESTAMP`,
}

// SQLStore keeps the state document as one keyed row. The table is
// created lazily on first use.
type SQLStore struct {
	dsn       string
	dialect   sqlDialect
	tableName string
	stateKey  string
	openDB    sqlOpenFunc

	mu sync.Mutex
	db *sql.DB
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	return newSQLStore(dsn, postgresDialect)
}

func NewSQLiteStore(path string) (*SQLStore, error) {
	return newSQLStore(path, sqliteDialect)
}

func newSQLStore(dsn string, dialect sqlDialect) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{
		dsn:       dsn,
		dialect:   dialect,
		tableName: defaultStateTable,
		stateKey:  defaultStateKey,
		openDB:    sql.Open,
	}, nil
}

// WithStateKey scopes the store to one row so several relays can share a
// table.
func (s *SQLStore) WithStateKey(key string) *SQLStore {
	s.stateKey = stateKeyOrDefault(key)
	return s
}

func (s *SQLStore) Load(ctx context.Context) (State, error) {
	db, err := s.ensureReady(ctx)
	if err != nil {
		return NewState(), err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(s.dialect.selectQuery, quoteIdentifier(s.tableName))
	var payload string
	err = db.QueryRowContext(ctx, query, s.stateKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return NewState(), nil
	}
	if err != nil {
		return NewState(), err
	}
	return Decode([]byte(payload))
}

func (s *SQLStore) Save(ctx context.Context, state State) error {
	db, err := s.ensureReady(ctx)
	if err != nil {
		return err
	}
	payload, err := Encode(state)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(s.dialect.upsertQuery, quoteIdentifier(s.tableName))
	_, err = db.ExecContext(ctx, query, s.stateKey, string(payload))
	return err
}

func (s *SQLStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ensureReady opens the database and creates the table. A failed attempt
// leaves the store unopened so the next call tries again.
func (s *SQLStore) ensureReady(ctx context.Context) (*sql.DB, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := s.openDB(s.dialect.driver, s.dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(s.dialect.createTable, quoteIdentifier(s.tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
