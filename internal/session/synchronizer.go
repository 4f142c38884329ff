// Package session はアクティブセッションの同期を提供する。
// ディレクトリ上の同一人物のレコードを定期的に読み直し、他の経路
// （別タブや台帳更新）による変更をセッションの現在値へ反映する。
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/greenpoints/internal/model"
)

// SessionStore はシンクロナイザが必要とするストア操作のインターフェース。
type SessionStore interface {
	LoadDirectory(ctx context.Context) (model.Directory, error)
	LoadSession(ctx context.Context) (*model.Profile, error)
	SaveSession(ctx context.Context, profile model.Profile) error
}

// RefreshRecorder は同期による現在値の更新を記録するインターフェース。
type RefreshRecorder interface {
	RecordSyncRefresh()
}

// Synchronizer はセッションとディレクトリのプル型照合を行う。
// 現在値に対応するディレクトリレコードのプロフィールをJSON表現で比較し、
// 差分がある場合のみセッションストレージと現在値を置き換える。
// レコードが消えている場合は何もしない（一時的な読み取り競合を
// 誤ったログアウトとして扱わないため）。
type Synchronizer struct {
	store    SessionStore
	recorder RefreshRecorder
	interval time.Duration

	mu      sync.RWMutex
	current *model.Profile

	// OnChange は現在値が置き換わったときに呼ばれるコールバック。nil可。
	OnChange func(profile model.Profile)
}

// NewSynchronizer はSynchronizerを生成する。
// intervalが0以下の場合はデフォルト値5秒を使用する。recorderはnil可。
func NewSynchronizer(store SessionStore, recorder RefreshRecorder, interval time.Duration) *Synchronizer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Synchronizer{
		store:    store,
		recorder: recorder,
		interval: interval,
	}
}

// Start は設定間隔のティッカーでシンクロナイザを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Synchronizer) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("セッションシンクロナイザを開始しました",
		slog.Duration("interval", s.interval),
	)

	// 起動直後に1回実行
	if err := s.Tick(ctx); err != nil {
		slog.Error("セッション同期に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("セッションシンクロナイザを停止しました")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				slog.Error("セッション同期に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Tick は1回分の照合を実行する。テストから直接呼び出せる。
func (s *Synchronizer) Tick(ctx context.Context) error {
	current := s.Current()

	// 現在値がなければ永続化されたセッションから復元を試みる
	if current == nil {
		loaded, err := s.store.LoadSession(ctx)
		if err != nil {
			return fmt.Errorf("セッションレコードの読み込みに失敗しました: %w", err)
		}
		if loaded == nil {
			return nil
		}
		s.mu.Lock()
		s.current = loaded
		s.mu.Unlock()
		current = loaded
	}

	dir, err := s.store.LoadDirectory(ctx)
	if err != nil {
		return fmt.Errorf("ディレクトリの読み込みに失敗しました: %w", err)
	}

	rec, ok := dir.Lookup(current.Role, current.ID)
	if !ok {
		// レコードが見つからない場合はセッションを維持する
		return nil
	}

	currentRaw, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("セッションの比較用表現の生成に失敗しました: %w", err)
	}
	freshRaw, err := json.Marshal(rec.Profile)
	if err != nil {
		return fmt.Errorf("ディレクトリレコードの比較用表現の生成に失敗しました: %w", err)
	}

	if bytes.Equal(currentRaw, freshRaw) {
		return nil
	}

	if err := s.store.SaveSession(ctx, rec.Profile); err != nil {
		return fmt.Errorf("セッションの更新に失敗しました: %w", err)
	}

	fresh := rec.Profile
	s.mu.Lock()
	s.current = &fresh
	callback := s.OnChange
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.RecordSyncRefresh()
	}

	slog.Info("セッションの現在値を更新しました",
		slog.String("user_id", fresh.ID),
		slog.Int("points", fresh.Points),
	)

	if callback != nil {
		callback(fresh)
	}

	return nil
}

// Current は現在値のコピーを返す。未ログイン状態ではnilを返す。
func (s *Synchronizer) Current() *model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil
	}
	copied := *s.current
	return &copied
}

// SetCurrent は現在値を直接置き換える。
// サインイン直後やサインアウト時など、次のティックを待たずに
// 反映したい場合に使用する。
func (s *Synchronizer) SetCurrent(profile *model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = profile
}
