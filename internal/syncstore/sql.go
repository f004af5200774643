package syncstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const retryMaxElapsed = 30 * time.Second

// SQLKV is a KV kept in a single table of a MySQL or SQLite database
type SQLKV struct {
	db *sql.DB
}

// OpenSQL connects to the remote database and creates the table if needed.
// driver is "mysql" or "sqlite3".
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLKV, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}
	kv := &SQLKV{db: db}

	err = kv.withRetry(ctx, func() error {
		_, err := db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS sync_kv (
				k VARCHAR(191) PRIMARY KEY,
				v TEXT NOT NULL
			)
		`)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare remote store: %w", err)
	}
	return kv, nil
}

// Close closes the connection
func (s *SQLKV) Close() error {
	return s.db.Close()
}

func (s *SQLKV) Get(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	query := `SELECT k, v FROM sync_kv WHERE k IN (` + placeholders(len(keys)) + `)`

	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(out)
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			out[k] = v
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLKV) Set(ctx context.Context, items map[string]string) error {
	for k, v := range items {
		if err := checkItem(k, v); err != nil {
			return err
		}
	}
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for k, v := range items {
			if _, err := tx.ExecContext(ctx, `REPLACE INTO sync_kv (k, v) VALUES (?, ?)`, k, v); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLKV) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sync_kv WHERE k IN (`+placeholders(len(keys))+`)`, args...)
		return err
	})
}

func (s *SQLKV) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// isRetryableError reports transient connection failures worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"i/o timeout",
		"database is locked",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
