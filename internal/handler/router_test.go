package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/greenpoints/internal/auth"
	"github.com/hitoshi/greenpoints/internal/ledger"
	"github.com/hitoshi/greenpoints/internal/metrics"
	"github.com/hitoshi/greenpoints/internal/middleware"
	"github.com/hitoshi/greenpoints/internal/model"
	"github.com/hitoshi/greenpoints/internal/security"
	"github.com/hitoshi/greenpoints/internal/stats"
	"github.com/hitoshi/greenpoints/internal/storage"
	"github.com/hitoshi/greenpoints/internal/store"
)

// newTestRouter は実サービスをメモリストアで束ねたルーターを返す。
func newTestRouter(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()

	st := store.New(storage.NewMemory())
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	authService := auth.NewService(
		st,
		security.NewNameSanitizer(),
		security.NewSSRFGuard(),
		collector,
		auth.ServiceConfig{
			Delay:                0,
			BootstrapAdminID:     "admin",
			BootstrapAdminSecret: "password123",
		},
	)
	ledgerService := ledger.NewService(st, collector)
	statsService := stats.NewService(st, time.Minute)

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(1000),
		GeneralBurst:    1000,
		AwardRate:       rate.Limit(1000),
		AwardBurst:      1000,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		SessionLoader:     st,
		CORSAllowedOrigin: "https://gp.example.com",
		RateLimiter:       rl,
		AuthService:       authService,
		SessionReader:     st,
		AuthConfig:        AuthHandlerConfig{BaseURL: "https://gp.example.com"},
		RewardService:     ledgerService,
		StatsService:      statsService,
		UserService:       authService,
		Directory:         st,
		Gatherer:          reg,
	})

	return router, st
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// 登録→再サインインのフルフロー。
func TestRouter_SignupThenLogin(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", map[string]string{
		"role": "USER", "id": "ID-001", "name": "Ava", "gender": "FEMALE", "password": "pw",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/logout", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/login", map[string]string{
		"role": "USER", "id": "ID-001", "password": "pw",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var profile model.Profile
	if err := json.NewDecoder(rec.Body).Decode(&profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.ID != "ID-001" || profile.Points != 0 {
		t.Errorf("unexpected profile: %+v", profile)
	}

	// 誤ったパスワード
	rec = doJSON(t, router, http.MethodPost, "/auth/login", map[string]string{
		"role": "USER", "id": "ID-001", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", rec.Code)
	}
}

// サインイン済みセッションでの手動加算と履歴参照。
func TestRouter_SimulateAndLog(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", map[string]string{
		"role": "USER", "id": "ID-001", "name": "Ava", "gender": "FEMALE", "password": "pw",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/rewards/simulate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("simulate: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var profile model.Profile
	if err := json.NewDecoder(rec.Body).Decode(&profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.Points != 25 || profile.Bottles != 1 {
		t.Errorf("unexpected award result: %+v", profile)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/rewards/log", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("log: %d", rec.Code)
	}
	var entries []ledger.SignalLogEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 log entry, got %d", len(entries))
	}
}

func TestRouter_AuthRequiredRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/rewards/simulate"},
		{http.MethodGet, "/api/rewards/log"},
		{http.MethodGet, "/api/stats"},
		{http.MethodGet, "/api/leaderboard"},
		{http.MethodGet, "/api/users"},
		{http.MethodGet, "/metrics"},
	}
	for _, p := range paths {
		rec := doJSON(t, router, p.method, p.path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", p.method, p.path, rec.Code)
		}
	}
}

func TestRouter_AdminOnlyRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", map[string]string{
		"role": "USER", "id": "ID-001", "name": "Ava", "gender": "FEMALE", "password": "pw",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d", rec.Code)
	}

	// 一般ユーザーは管理者ルートに入れない
	rec = doJSON(t, router, http.MethodGet, "/api/users", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("user on admin route: expected 403, got %d", rec.Code)
	}

	// 初期管理者でサインインすれば参照できる
	rec = doJSON(t, router, http.MethodPost, "/auth/login", map[string]string{
		"role": "ADMIN", "id": "admin", "password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bootstrap login: %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/users", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("admin on admin route: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", rec.Code)
	}
}

// ディープリンクによるワンショット認証（クエリはリダイレクトで消える）。
func TestRouter_HandoffDeepLink(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	dir, err := st.LoadDirectory(ctx)
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	dir[model.RoleUser]["ID-001"] = model.IdentityRecord{
		Password: "pw",
		Profile:  model.Profile{ID: "ID-001", Name: "Ava", Role: model.RoleUser, Points: 42},
	}
	if err := st.SaveDirectory(ctx, dir); err != nil {
		t.Fatalf("SaveDirectory: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/auth/handoff?loginId=ID-001&role=USER", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}

	session, err := st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if session == nil || session.ID != "ID-001" || session.Points != 42 {
		t.Errorf("handoff did not establish session: %+v", session)
	}
}

func TestRouter_StatsAndLeaderboard(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", map[string]string{
		"role": "USER", "id": "ID-001", "name": "Ava", "gender": "FEMALE", "password": "pw",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/rewards/simulate", map[string]int{"count": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("simulate: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
	var totals stats.Totals
	if err := json.NewDecoder(rec.Body).Decode(&totals); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if totals.TotalBottles != 2 || totals.ActiveNodes != 1 {
		t.Errorf("unexpected totals: %+v", totals)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/leaderboard?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard: %d", rec.Code)
	}
	var entries []stats.LeaderboardEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Points != 50 {
		t.Errorf("unexpected leaderboard: %+v", entries)
	}
}
