package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// DB is a shared sqlite handle; every relay component stores its state in
// the same database file, partitioned by table and container.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path. An empty path opens
// an in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Handle exposes the underlying connection to sibling sqlite-backed
// components (queue, client directory).
func (d *DB) Handle() *sql.DB {
	return d.db
}

// Container returns a Store view over one logical container. The backing
// table is provisioned lazily on first use, once per process.
func (d *DB) Container(name string) *SQLiteStore {
	return &SQLiteStore{db: d.db, container: name}
}

type SQLiteStore struct {
	db        *sql.DB
	container string

	provision    sync.Once
	provisionErr error
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	s.provision.Do(func() {
		_, s.provisionErr = s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS blobs (
            container TEXT NOT NULL,
            key TEXT NOT NULL,
            content BLOB NOT NULL,
            PRIMARY KEY (container, key)
        );`)
	})
	if s.provisionErr != nil {
		return fmt.Errorf("provision container %s: %w", s.container, s.provisionErr)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, content []byte) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO blobs (container, key, content)
        VALUES (?, ?, ?)
        ON CONFLICT(container, key) DO UPDATE SET content = excluded.content;`,
		s.container, key, content)
	if err != nil {
		return fmt.Errorf("store blob %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var content []byte
	row := s.db.QueryRowContext(ctx, `SELECT content FROM blobs WHERE container = ? AND key = ?;`,
		s.container, key)
	if err := row.Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch blob %s: %w", key, err)
	}
	return content, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE container = ? AND key = ?;`,
		s.container, key); err != nil {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM blobs
        WHERE container = ? AND key LIKE ? ESCAPE '\'
        ORDER BY key;`,
		s.container, pattern)
	if err != nil {
		return nil, fmt.Errorf("list blobs %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("list blobs %s: %w", prefix, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blobs %s: %w", prefix, err)
	}
	return keys, nil
}
