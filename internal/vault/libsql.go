package vault

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
)

const saltKey = "kdf_salt"

// LibSQLBackend stores records in an embedded libSQL database file. It is the
// backend for hosts without a usable OS credential manager (headless Linux,
// containers). Pair it with EncryptedBackend so values are not kept in clear.
type LibSQLBackend struct {
	db *sql.DB
}

// OpenLibSQL opens the database at dbPath (a file URI such as
// "file:/home/u/.mcp-secrets/vault.db") and applies pending migrations.
func OpenLibSQL(ctx context.Context, dbPath string) (*LibSQLBackend, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so QueryRow is used and the result ignored.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		var result string
		_ = db.QueryRowContext(ctx, p).Scan(&result)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LibSQLBackend{db: db}, nil
}

// Close closes the database.
func (b *LibSQLBackend) Close() error { return b.db.Close() }

func (b *LibSQLBackend) Get(ctx context.Context, service, account string) (string, error) {
	var v string
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM vault_entries WHERE service = ? AND account = ?`, service, account,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("libsql get: %w", err)
	}
	return v, nil
}

func (b *LibSQLBackend) Set(ctx context.Context, service, account, value string) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO vault_entries (service, account, value) VALUES (?, ?, ?)
		 ON CONFLICT(service, account) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		service, account, value,
	)
	if err != nil {
		return fmt.Errorf("libsql set: %w", err)
	}
	return nil
}

func (b *LibSQLBackend) Delete(ctx context.Context, service, account string) error {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM vault_entries WHERE service = ? AND account = ?`, service, account)
	if err != nil {
		return fmt.Errorf("libsql delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("libsql delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Salt returns the database's key derivation salt, creating it on first use.
func (b *LibSQLBackend) Salt(ctx context.Context) ([]byte, error) {
	var salt []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM vault_meta WHERE key = ?`, saltKey).Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	salt = make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO vault_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, saltKey, salt); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	// Re-read so a concurrent first writer wins consistently.
	if err := b.db.QueryRowContext(ctx, `SELECT value FROM vault_meta WHERE key = ?`, saltKey).Scan(&salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	return salt, nil
}
