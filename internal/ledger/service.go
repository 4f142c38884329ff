// Package ledger はリワード台帳を提供する。
// シグナル1回ごとの加点・ボトル数の更新と、直近のシグナル履歴の保持を行う。
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/greenpoints/internal/model"
)

const (
	// PointsPerSignal はシグナル1回あたりの加点。
	PointsPerSignal = 25

	// SignalLogCapacity は保持するシグナル履歴の最大件数。
	SignalLogCapacity = 5
)

// SignalLogEntry はシグナル履歴の1件を表す。
type SignalLogEntry struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"receivedAt"`
	Points     int       `json:"points"`
	Bottles    int       `json:"bottles"`
}

// LedgerStore は台帳サービスが必要とするストア操作のインターフェース。
type LedgerStore interface {
	ApplyLedgerUpdate(ctx context.Context, updated model.Profile) error
}

// AwardRecorder は加点メトリクスの記録インターフェース。
type AwardRecorder interface {
	RecordAward(points int, bottles int)
	RecordAwardLatency(duration time.Duration)
}

// Service はリワード台帳のビジネスロジックを提供する。
type Service struct {
	store    LedgerStore
	recorder AwardRecorder

	mu  sync.Mutex
	log []SignalLogEntry

	// OnAward は加点完了後に更新済みプロフィールを受け取るコールバック。nil可。
	OnAward func(updated model.Profile)
}

// NewService はServiceを生成する。recorderはnilを許容する。
func NewService(store LedgerStore, recorder AwardRecorder) *Service {
	return &Service{
		store:    store,
		recorder: recorder,
		log:      make([]SignalLogEntry, 0, SignalLogCapacity),
	}
}

// Award はプロフィールにcount回分のシグナルを加点し、更新後のプロフィールを返す。
// count <= 0 の場合は何も変更せず入力をそのまま返す。
// 更新は単一の台帳更新としてストアへ書き込まれる。
func (s *Service) Award(ctx context.Context, profile model.Profile, count int) (model.Profile, error) {
	if count <= 0 {
		return profile, nil
	}

	start := time.Now()

	updated := profile
	updated.Points += PointsPerSignal * count
	updated.Bottles += count

	if err := s.store.ApplyLedgerUpdate(ctx, updated); err != nil {
		return profile, fmt.Errorf("台帳更新の保存に失敗しました: %w", err)
	}

	s.appendLog(SignalLogEntry{
		ID:         uuid.New().String(),
		ReceivedAt: time.Now(),
		Points:     PointsPerSignal * count,
		Bottles:    count,
	})

	if s.recorder != nil {
		s.recorder.RecordAward(PointsPerSignal*count, count)
		s.recorder.RecordAwardLatency(time.Since(start))
	}

	slog.Info("ポイントを加算しました",
		slog.String("user_id", updated.ID),
		slog.Int("count", count),
		slog.Int("points", updated.Points),
		slog.Int("bottles", updated.Bottles),
	)

	if s.OnAward != nil {
		s.OnAward(updated)
	}

	return updated, nil
}

// appendLog は履歴の先頭に追記し、容量を超えた古いエントリを切り捨てる。
func (s *Service) appendLog(entry SignalLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log = append([]SignalLogEntry{entry}, s.log...)
	if len(s.log) > SignalLogCapacity {
		s.log = s.log[:SignalLogCapacity]
	}
}

// SignalLog は新しい順のシグナル履歴のコピーを返す。
func (s *Service) SignalLog() []SignalLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SignalLogEntry, len(s.log))
	copy(out, s.log)
	return out
}
