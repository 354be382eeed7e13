package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var _ Backend = (*PostgresBackend)(nil)

// PostgresBackend keeps state in the state.kv table (see migrations).
// Each Commit is one SQL transaction.
type PostgresBackend struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresBackend(db *sql.DB, timeout time.Duration) *PostgresBackend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresBackend{db: db, timeout: timeout}
}

func (p *PostgresBackend) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var value []byte
	err := p.db.QueryRowContext(ctx, `SELECT value FROM state.kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapPQ(err, "postgres get "+key)
	}
	return value, nil
}

func (p *PostgresBackend) Commit(ops []Op) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapPQ(err, "postgres begin")
	}
	defer tx.Rollback()

	for _, op := range ops {
		if op.Delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM state.kv WHERE key = $1`, op.Key); err != nil {
				return wrapPQ(err, "postgres delete "+op.Key)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO state.kv (key, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, op.Key, op.Value); err != nil {
			return wrapPQ(err, "postgres put "+op.Key)
		}
	}

	return wrapPQ(tx.Commit(), "postgres commit")
}

// Close is a no-op; the *sql.DB is owned by the caller
func (p *PostgresBackend) Close() error {
	return nil
}

func wrapPQ(err error, msg string) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return errors.Wrapf(err, "%s (sqlstate %s %s)", msg, pqErr.Code, pqErr.Code.Name())
	}
	return errors.Wrap(err, msg)
}
