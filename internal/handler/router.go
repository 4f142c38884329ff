package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/greenpoints/internal/metrics"
	"github.com/hitoshi/greenpoints/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionLoader     middleware.SessionLoader
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.HTTPStatusRecorder

	// 認証
	AuthService    AuthServiceInterface
	SessionReader  SessionReader
	SessionApplier SessionApplier
	AuthConfig     AuthHandlerConfig

	// リワード台帳とブリッジ
	RewardService RewardServiceInterface
	Bridge        BridgeInterface

	// 集計
	StatsService StatsServiceInterface

	// ユーザー管理
	UserService UserServiceInterface
	Directory   DirectoryReader

	// メディアプロキシ
	MediaProxy MediaProxyInterface

	// メトリクス公開用レジストリ。nilの場合は/metricsを公開しない。
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → [Session → RateLimit(General)]
//
// 認証ルート（/auth/*）とヘルスチェックはセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusRecorder))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionReader, deps.SessionApplier, deps.AuthConfig)
	rewardHandler := NewRewardHandler(deps.RewardService, deps.Bridge)
	statsHandler := NewStatsHandler(deps.StatsService)
	userHandler := NewUserHandler(deps.UserService, deps.Directory)

	// --- 認証不要のルート ---

	r.Get("/health", Health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/signup", authHandler.Signup)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		// QRディープリンク（ワンショット）
		r.Get("/handoff", authHandler.Handoff)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionLoader))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// QRパネル解錠（PIN再確認）
		r.Post("/auth/qr/unlock", authHandler.QRUnlock)

		// リワード台帳
		r.Route("/api/rewards", func(r chi.Router) {
			// POST /api/rewards/simulate - 手動トリガー（専用レート制限を追加）
			r.With(deps.RateLimiter.AwardMiddleware()).Post("/simulate", rewardHandler.Simulate)
			r.Get("/log", rewardHandler.Log)
		})

		// シグナルブリッジ
		r.Route("/api/bridge", func(r chi.Router) {
			r.Get("/status", rewardHandler.BridgeStatus)
			r.Post("/connect", rewardHandler.BridgeConnect)
			r.Post("/disconnect", rewardHandler.BridgeDisconnect)
		})

		// 集計
		r.Get("/api/stats", statsHandler.Totals)
		r.Get("/api/leaderboard", statsHandler.Leaderboard)

		// 設定更新
		r.Put("/api/users/me/settings", userHandler.UpdateSettings)

		// メディアプロキシ
		if deps.MediaProxy != nil {
			r.Get("/api/media/proxy", NewMediaHandler(deps.MediaProxy).Proxy)
		}

		// --- 管理者専用ルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAdminOnlyMiddleware())

			r.Get("/api/users", userHandler.List)

			if deps.Gatherer != nil {
				r.Handle("/metrics", metrics.Handler(deps.Gatherer))
			}
		})
	})

	return r
}

// Health はヘルスチェックエンドポイント。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
