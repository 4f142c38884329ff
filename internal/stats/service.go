// Package stats は集計系の読み取り機能を提供する。
// 全体統計（回収ボトル数・参加ノード数・CO2削減量）とリーダーボード、
// ポイントに応じたランク判定を含む。
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/hitoshi/greenpoints/internal/model"
)

// CarbonPerBottleKg はボトル1本あたりのCO2削減量(kg)。
const CarbonPerBottleKg = 0.25

// ランクの閾値。ポイントが閾値以上で上位ランクになる。
const (
	rankThresholdLegend   = 1000
	rankThresholdGuardian = 500
	rankThresholdScout    = 250
)

// Totals は全体統計。
type Totals struct {
	TotalBottles  int     `json:"totalBottles"`
	ActiveNodes   int     `json:"activeNodes"`
	CarbonSavedKg float64 `json:"carbonSavedKg"`
}

// LeaderboardEntry はリーダーボードの1行。
type LeaderboardEntry struct {
	Rank    int    `json:"rank"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Points  int    `json:"points"`
	Bottles int    `json:"bottles"`
	Title   string `json:"title"`
}

// DirectoryLoader は集計サービスが必要とするストア操作のインターフェース。
type DirectoryLoader interface {
	LoadDirectory(ctx context.Context) (model.Directory, error)
}

const (
	cacheKeyTotals      = "totals"
	cacheKeyLeaderboard = "leaderboard"
)

// Service は集計処理とその結果のTTLキャッシュを提供する。
// 集計はディレクトリ全走査のため、ダッシュボードのポーリングに備えて
// 短いTTLでキャッシュする。
type Service struct {
	store DirectoryLoader
	cache *gocache.Cache
}

// NewService はServiceを生成する。
// ttlが0以下の場合はデフォルト値30秒を使用する。
func NewService(store DirectoryLoader, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Totals はUSERパーティション全体の統計を返す。
func (s *Service) Totals(ctx context.Context) (Totals, error) {
	if cached, ok := s.cache.Get(cacheKeyTotals); ok {
		return cached.(Totals), nil
	}

	dir, err := s.store.LoadDirectory(ctx)
	if err != nil {
		return Totals{}, fmt.Errorf("ディレクトリの読み込みに失敗しました: %w", err)
	}

	totals := Totals{}
	for _, rec := range dir[model.RoleUser] {
		totals.TotalBottles += rec.Profile.Bottles
		totals.ActiveNodes++
	}
	totals.CarbonSavedKg = float64(totals.TotalBottles) * CarbonPerBottleKg

	s.cache.SetDefault(cacheKeyTotals, totals)
	return totals, nil
}

// Leaderboard はポイント降順のリーダーボードを返す。
// limitが0以下の場合は全件を返す。
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var entries []LeaderboardEntry

	if cached, ok := s.cache.Get(cacheKeyLeaderboard); ok {
		entries = cached.([]LeaderboardEntry)
	} else {
		dir, err := s.store.LoadDirectory(ctx)
		if err != nil {
			return nil, fmt.Errorf("ディレクトリの読み込みに失敗しました: %w", err)
		}

		entries = make([]LeaderboardEntry, 0, len(dir[model.RoleUser]))
		for _, rec := range dir[model.RoleUser] {
			entries = append(entries, LeaderboardEntry{
				ID:      rec.Profile.ID,
				Name:    rec.Profile.Name,
				Points:  rec.Profile.Points,
				Bottles: rec.Profile.Bottles,
				Title:   RankFor(rec.Profile.Points),
			})
		}

		// ポイント降順、同点はID昇順で安定させる
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Points != entries[j].Points {
				return entries[i].Points > entries[j].Points
			}
			return entries[i].ID < entries[j].ID
		})
		for i := range entries {
			entries[i].Rank = i + 1
		}

		s.cache.SetDefault(cacheKeyLeaderboard, entries)
	}

	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	out := make([]LeaderboardEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Invalidate はキャッシュを破棄する。台帳更新直後の即時反映に使用する。
func (s *Service) Invalidate() {
	s.cache.Delete(cacheKeyTotals)
	s.cache.Delete(cacheKeyLeaderboard)
}

// RankFor はポイントに応じたランク称号を返す。
func RankFor(points int) string {
	switch {
	case points >= rankThresholdLegend:
		return "Eco Legend"
	case points >= rankThresholdGuardian:
		return "Green Guardian"
	case points >= rankThresholdScout:
		return "Nature Scout"
	default:
		return "Eco Rookie"
	}
}
