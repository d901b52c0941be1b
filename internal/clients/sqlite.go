package clients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// SQLite is a Directory over a shared sqlite handle.
type SQLite struct {
	db *sql.DB

	provision    sync.Once
	provisionErr error
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	s.provision.Do(func() {
		_, s.provisionErr = s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS clients (
            client_id TEXT PRIMARY KEY,
            domain TEXT NOT NULL UNIQUE
        );`)
	})
	if s.provisionErr != nil {
		return fmt.Errorf("provision clients table: %w", s.provisionErr)
	}
	return nil
}

func (s *SQLite) Register(ctx context.Context, clientID, domain string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO clients (client_id, domain) VALUES (?, ?);`,
		clientID, strings.ToLower(domain))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrClientExists
		}
		return fmt.Errorf("register client %s: %w", clientID, err)
	}
	return nil
}

func (s *SQLite) DomainFor(ctx context.Context, clientID string) (string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}
	var domain string
	row := s.db.QueryRowContext(ctx, `SELECT domain FROM clients WHERE client_id = ?;`, clientID)
	if err := row.Scan(&domain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lookup client %s: %w", clientID, err)
	}
	return domain, nil
}

func (s *SQLite) ClientIDFor(ctx context.Context, domain string) (string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}
	var clientID string
	row := s.db.QueryRowContext(ctx, `SELECT client_id FROM clients WHERE domain = ?;`,
		strings.ToLower(domain))
	if err := row.Scan(&clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lookup domain %s: %w", domain, err)
	}
	return clientID, nil
}

func (s *SQLite) Delete(ctx context.Context, clientID, domain string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE client_id = ? AND domain = ?;`,
		clientID, strings.ToLower(domain)); err != nil {
		return fmt.Errorf("delete client %s: %w", clientID, err)
	}
	return nil
}
