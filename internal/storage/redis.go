package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV はRedisをバッキングとするKV実装。
// レコードはTTLなしで保持する（ディレクトリは失効してはならない）。
type RedisKV struct {
	rdb *redis.Client
}

// NewRedisKV は接続設定からRedisKVを生成する。
func NewRedisKV(addr, password string, db int) *RedisKV {
	return &RedisKV{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewRedisKVFromClient は既存クライアントからRedisKVを生成する。テスト用。
func NewRedisKVFromClient(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb: rdb}
}

// Close は接続を閉じる。
func (r *RedisKV) Close() error {
	return r.rdb.Close()
}

// Ping は接続確認を行う。
func (r *RedisKV) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Get は指定キーの値を取得する。見つからない場合は (nil, nil) を返す。
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv record: %w", err)
	}
	return value, nil
}

// Set は指定キーに値を書き込む。
func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set kv record: %w", err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete kv record: %w", err)
	}
	return nil
}

// compile-time interface check
var _ KV = (*RedisKV)(nil)
