package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresKV はPostgreSQLをバッキングとするKV実装。
// kv_recordsテーブル（database/migrations参照）にJSONレコードをそのまま保持する。
type PostgresKV struct {
	db *sql.DB
}

// NewPostgresKV はPostgresKVを生成する。
func NewPostgresKV(db *sql.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

// Get は指定キーの値を取得する。見つからない場合は (nil, nil) を返す。
func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM kv_records WHERE key = $1`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv record: %w", err)
	}

	return value, nil
}

// Set は指定キーに値をUPSERTする。
func (p *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO kv_records (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set kv record: %w", err)
	}
	return nil
}

// Delete は指定キーを削除する。存在しないキーの削除もエラーにならない。
func (p *PostgresKV) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM kv_records WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete kv record: %w", err)
	}
	return nil
}

// compile-time interface check
var _ KV = (*PostgresKV)(nil)
