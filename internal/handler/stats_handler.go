package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/greenpoints/internal/middleware"
	"github.com/hitoshi/greenpoints/internal/stats"
)

// StatsServiceInterface は集計ハンドラーが必要とするサービスインターフェース。
type StatsServiceInterface interface {
	Totals(ctx context.Context) (stats.Totals, error)
	Leaderboard(ctx context.Context, limit int) ([]stats.LeaderboardEntry, error)
}

// StatsHandler は集計関連のHTTPハンドラー。
type StatsHandler struct {
	service StatsServiceInterface
}

// NewStatsHandler はStatsHandlerを生成する。
func NewStatsHandler(service StatsServiceInterface) *StatsHandler {
	return &StatsHandler{service: service}
}

// Totals は全体統計を返す。
// GET /api/stats
func (h *StatsHandler) Totals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.Totals(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// Leaderboard はリーダーボードを返す。
// GET /api/leaderboard?limit=n
func (h *StatsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
