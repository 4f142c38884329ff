// Package store はディレクトリとアクティブセッションの2論理レコードを管理する。
// 永続フォーマットは以下の通り:
//
//	gp_database:       {"ADMIN": {id: {password, profile}}, "USER": {...}}
//	gp_active_session: プロフィールのJSON、または未設定
//
// 破損した永続データは致命的エラーとせず、安全なデフォルトで置き換えて
// ログに記録するのみとする。
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/greenpoints/internal/model"
	"github.com/hitoshi/greenpoints/internal/storage"
)

// 永続レコードのキー。外部契約の一部であり変更してはならない。
const (
	DirectoryKey = "gp_database"
	SessionKey   = "gp_active_session"
)

// Store はKVストア上のディレクトリとアクティブセッションへのアクセスを提供する。
type Store struct {
	kv storage.KV
}

// New はStoreを生成する。
func New(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// LoadDirectory はディレクトリを読み込む。
// レコードが存在しない、またはJSONとして解釈できない場合は
// 両パーティションを持つ空のディレクトリを返す。破損は警告ログのみで、
// エラーとしては扱わない。
func (s *Store) LoadDirectory(ctx context.Context) (model.Directory, error) {
	raw, err := s.kv.Get(ctx, DirectoryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory record: %w", err)
	}
	if raw == nil {
		return model.NewDirectory(), nil
	}

	var dir model.Directory
	if err := json.Unmarshal(raw, &dir); err != nil {
		slog.Warn("ディレクトリレコードが破損しているため空のディレクトリで代替します",
			slog.String("key", DirectoryKey),
			slog.String("error", err.Error()),
		)
		return model.NewDirectory(), nil
	}

	// 片方のパーティションしか持たないレコードも読み取り側の前提を満たすよう補正する
	dir.Normalize()
	return dir, nil
}

// SaveDirectory はディレクトリを永続化する。
func (s *Store) SaveDirectory(ctx context.Context, dir model.Directory) error {
	raw, err := json.Marshal(dir)
	if err != nil {
		return fmt.Errorf("failed to marshal directory: %w", err)
	}
	if err := s.kv.Set(ctx, DirectoryKey, raw); err != nil {
		return fmt.Errorf("failed to write directory record: %w", err)
	}
	return nil
}

// LoadSession はアクティブセッションを読み込む。
// レコードが存在しない、または解釈できない場合は (nil, nil) を返す。
func (s *Store) LoadSession(ctx context.Context) (*model.Profile, error) {
	raw, err := s.kv.Get(ctx, SessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var profile model.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		slog.Warn("セッションレコードの復元に失敗したため未ログインとして扱います",
			slog.String("key", SessionKey),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	return &profile, nil
}

// SaveSession はアクティブセッションを永続化する。
func (s *Store) SaveSession(ctx context.Context, profile model.Profile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal session profile: %w", err)
	}
	if err := s.kv.Set(ctx, SessionKey, raw); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

// ClearSession はアクティブセッションを破棄する。
func (s *Store) ClearSession(ctx context.Context) error {
	if err := s.kv.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("failed to clear session record: %w", err)
	}
	return nil
}

// ApplyLedgerUpdate はポイント加算の結果を1操作としてストアに適用する。
// ディレクトリ側は (role, id) のレコードがまだ存在する場合のみ更新する。
// レコードが消えていた場合（並行削除など）はディレクトリ更新をスキップし、
// セッションのみ更新するベストエフォート方式をとる。
func (s *Store) ApplyLedgerUpdate(ctx context.Context, updated model.Profile) error {
	dir, err := s.LoadDirectory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load directory for ledger update: %w", err)
	}

	if rec, ok := dir.Lookup(updated.Role, updated.ID); ok {
		rec.Profile = updated
		dir[updated.Role][updated.ID] = rec
		if err := s.SaveDirectory(ctx, dir); err != nil {
			return fmt.Errorf("failed to persist ledger update: %w", err)
		}
	} else {
		slog.Warn("加算対象のレコードがディレクトリに存在しないためセッションのみ更新します",
			slog.String("role", string(updated.Role)),
			slog.String("id", updated.ID),
		)
	}

	if err := s.SaveSession(ctx, updated); err != nil {
		return fmt.Errorf("failed to update session after ledger update: %w", err)
	}

	return nil
}
