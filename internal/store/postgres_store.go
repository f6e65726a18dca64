package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore keeps the KV state in kv.entries. Writes outside a Txn are
// applied immediately; Txn commits run in one SQL transaction.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, timeout: 2 * time.Second}
}

func (p *PostgresStore) Get(key []byte) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var value []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM kv.entries WHERE key = $1`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	return value, true, nil
}

func (p *PostgresStore) Set(key, value []byte) error {
	return p.apply(context.Background(), []write{{key: string(key), value: value}})
}

func (p *PostgresStore) Delete(key []byte) error {
	return p.apply(context.Background(), []write{{key: string(key), delete: true}})
}

func (p *PostgresStore) RangePrefix(prefix []byte) ([]Pair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if end := PrefixEnd(prefix); end != nil {
		rows, err = p.db.QueryContext(ctx,
			`SELECT key, value FROM kv.entries WHERE key >= $1 AND key < $2 ORDER BY key`,
			prefix, end,
		)
	} else {
		rows, err = p.db.QueryContext(ctx,
			`SELECT key, value FROM kv.entries WHERE key >= $1 ORDER BY key`,
			prefix,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("kv range: %w", err)
	}
	defer rows.Close()

	var out []Pair
	for rows.Next() {
		var pair Pair
		if err := rows.Scan(&pair.Key, &pair.Value); err != nil {
			return nil, fmt.Errorf("kv range scan: %w", err)
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Begin(ctx context.Context) (Txn, error) {
	return newStagedTxn(p, p), nil
}

func (p *PostgresStore) apply(ctx context.Context, writes []write) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv begin: %w", err)
	}
	defer tx.Rollback()

	for _, w := range writes {
		if w.delete {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM kv.entries WHERE key = $1`, []byte(w.key),
			); err != nil {
				return fmt.Errorf("kv delete: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv.entries (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			[]byte(w.key), w.value,
		); err != nil {
			return fmt.Errorf("kv upsert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv commit: %w", err)
	}
	return nil
}
