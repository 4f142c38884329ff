// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/greenpoints/internal/auth"
	"github.com/hitoshi/greenpoints/internal/config"
	"github.com/hitoshi/greenpoints/internal/database"
	"github.com/hitoshi/greenpoints/internal/handler"
	"github.com/hitoshi/greenpoints/internal/identity"
	"github.com/hitoshi/greenpoints/internal/ledger"
	"github.com/hitoshi/greenpoints/internal/logger"
	"github.com/hitoshi/greenpoints/internal/metrics"
	"github.com/hitoshi/greenpoints/internal/middleware"
	"github.com/hitoshi/greenpoints/internal/model"
	"github.com/hitoshi/greenpoints/internal/security"
	"github.com/hitoshi/greenpoints/internal/session"
	"github.com/hitoshi/greenpoints/internal/signal"
	"github.com/hitoshi/greenpoints/internal/stats"
	"github.com/hitoshi/greenpoints/internal/storage"
	"github.com/hitoshi/greenpoints/internal/store"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openKV は設定に応じたKVバックエンドを開く。
// 返り値のクローズ関数はバックエンドを持たない場合nil。
func openKV(cfg *config.Config) (storage.KV, func() error, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return storage.NewPostgresKV(db), db.Close, nil

	case config.StorageRedis:
		kv := storage.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := kv.Ping(ctx); err != nil {
			_ = kv.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established",
			slog.String("addr", cfg.RedisAddr),
		)
		return kv, kv.Close, nil

	default:
		slog.Warn("インメモリストレージで起動します。データはプロセス終了で失われます")
		return storage.NewMemory(), nil, nil
	}
}

// runServe はAPIサーバーモードで起動する。
// ストレージを開き、全依存関係をワイヤリングし、HTTPサーバーと
// セッションシンクロナイザを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. ストレージの初期化
	kv, closeKV, err := openKV(cfg)
	if err != nil {
		return err
	}
	if closeKV != nil {
		defer closeKV()
	}

	st := store.New(kv)

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewNameSanitizer()

	// 4. ドメインサービスの初期化
	authService := auth.NewService(st, sanitizer, ssrfGuard, collector, auth.ServiceConfig{
		Delay:                cfg.AuthDelay,
		BootstrapAdminID:     cfg.BootstrapAdminID,
		BootstrapAdminSecret: cfg.BootstrapAdminSecret,
	})
	ledgerService := ledger.NewService(st, collector)
	statsService := stats.NewService(st, cfg.StatsCacheTTL)
	synchronizer := session.NewSynchronizer(st, collector, cfg.SyncInterval)
	mediaProxy := identity.NewMediaProxy(ssrfGuard)

	// 台帳更新は統計キャッシュを無効化し、次のティックを待たずに現在値へ反映する
	ledgerService.OnAward = func(updated model.Profile) {
		statsService.Invalidate()
		synchronizer.SetCurrent(&updated)
	}

	// 5. シグナルブリッジの初期化（エンドポイント未設定の場合は無効）
	var bridge *signal.Bridge
	if cfg.BridgeEndpoint != "" {
		bridge = signal.NewBridge(
			signal.NewGatewayScanner(cfg.BridgeEndpoint),
			collector,
			cfg.BridgeNamePrefix,
		)
		bridge.OnSignal = func(count int) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			current := synchronizer.Current()
			if current == nil {
				slog.Warn("セッションがないためシグナルを破棄します")
				return
			}
			if _, err := ledgerService.Award(ctx, *current, count); err != nil {
				slog.Error("シグナル加算に失敗しました", slog.String("error", err.Error()))
			}
		}
	} else {
		bridge = signal.NewBridge(nil, collector, cfg.BridgeNamePrefix)
	}

	// 6. ルーターの構築
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rlCfg.GeneralBurst = cfg.RateLimitGeneral
	rlCfg.AwardRate = rate.Limit(float64(cfg.RateLimitAward) / 60.0)
	rlCfg.AwardBurst = cfg.RateLimitAward
	rateLimiter := middleware.NewRateLimiter(rlCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionLoader:     st,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		StatusRecorder:    collector,

		AuthService:    authService,
		SessionReader:  st,
		SessionApplier: synchronizer.SetCurrent,
		AuthConfig:     handler.AuthHandlerConfig{BaseURL: cfg.BaseURL},

		RewardService: ledgerService,
		Bridge:        bridge,

		StatsService: statsService,

		UserService: authService,
		Directory:   st,

		MediaProxy: mediaProxy,

		Gatherer: registry,
	})

	// 7. バックグラウンド処理の起動
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go synchronizer.Start(ctx)

	if cfg.BridgeEndpoint != "" {
		// 接続失敗はリトライ可能エラーのため起動は継続する
		if err := bridge.Connect(ctx); err != nil {
			slog.Warn("シグナルブリッジの初回接続に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	ossignal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	cancel()
	_ = bridge.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
// postgres以外のストレージドライバでは何も行わない。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageDriver != config.StoragePostgres {
		slog.Info("migration skipped: storage driver has no schema",
			slog.String("storage_driver", cfg.StorageDriver),
		)
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
