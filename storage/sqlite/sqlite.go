// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package sqlite provides a durable key/value storage backed by an SQLite
// database file. Values are partitioned by namespace so several profiles can
// share one database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrInvalidParameter is returned for an empty path or namespace.
var ErrInvalidParameter = errors.New("invalid parameter")

const schema = `
CREATE TABLE IF NOT EXISTS authflow_kv (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (namespace, key)
)`

const upsert = `
INSERT INTO authflow_kv (namespace, key, value, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`

// Storage is an SQLite backed key/value store.
type Storage struct {
	db        *sql.DB
	namespace string
}

// Open opens (creating when needed) the database at path and returns a
// Storage scoped to namespace. Use ":memory:" for a throwaway database.
func Open(path, namespace string) (*Storage, error) {
	const op = "sqlite.Open"
	switch {
	case path == "":
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	case strings.TrimSpace(namespace) == "":
		return nil, fmt.Errorf("%s: namespace is empty: %w", op, ErrInvalidParameter)
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("%s: unable to create directory: %w", op, err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open database: %w", op, err)
	}
	// an in-memory database only lives as long as its one connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: unable to create schema: %w", op, err)
	}
	return &Storage{db: db, namespace: namespace}, nil
}

// Close releases the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Get returns the value for key.
func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "Storage.Get"
	var v string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM authflow_kv WHERE namespace = ? AND key = ?",
		s.namespace, key).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return v, true, nil
}

// Set stores value for key.
func (s *Storage) Set(ctx context.Context, key, value string) error {
	const op = "Storage.Set"
	if _, err := s.db.ExecContext(ctx, upsert, s.namespace, key, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove deletes key.
func (s *Storage) Remove(ctx context.Context, key string) error {
	const op = "Storage.Remove"
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM authflow_kv WHERE namespace = ? AND key = ?",
		s.namespace, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetMany stores all values in one transaction.
func (s *Storage) SetMany(ctx context.Context, values map[string]string) error {
	const op = "Storage.SetMany"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, upsert, s.namespace, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveMany removes all keys in one transaction.
func (s *Storage) RemoveMany(ctx context.Context, keys ...string) error {
	const op = "Storage.RemoveMany"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM authflow_kv WHERE namespace = ? AND key = ?",
				s.namespace, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: unable to begin transaction: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: unable to commit: %w", op, err)
	}
	return nil
}
