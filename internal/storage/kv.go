// Package storage はキーバリュー永続化のインターフェースと実装を提供する。
// コアロジックは具体的なストレージ技術を参照せず、このインターフェースのみに依存する。
package storage

import (
	"context"
	"sync"
)

// KV はキーバリューストアの能力インターフェース。
type KV interface {
	// Get は指定キーの値を取得する。キーが存在しない場合は (nil, nil) を返す。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set は指定キーに値を書き込む。既存の値は上書きされる。
	Set(ctx context.Context, key string, value []byte) error

	// Delete は指定キーを削除する。キーが存在しない場合もエラーにならない。
	Delete(ctx context.Context, key string) error
}

// Memory はインメモリのKV実装。
// テストおよびSTORAGE_DRIVER=memoryでの起動に使用する。
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory は空のインメモリストアを生成する。
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get は指定キーの値のコピーを返す。
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set は値のコピーを保存する。
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

// Delete は指定キーを削除する。
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// compile-time interface check
var _ KV = (*Memory)(nil)
