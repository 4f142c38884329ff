package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/greenpoints/internal/model"
)

// mockSessionLoader は関数フィールドで動作を差し替えられるモック。
type mockSessionLoader struct {
	loadSessionFunc func(ctx context.Context) (*model.Profile, error)
}

func (m *mockSessionLoader) LoadSession(ctx context.Context) (*model.Profile, error) {
	return m.loadSessionFunc(ctx)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionMiddleware_InjectsProfile(t *testing.T) {
	loader := &mockSessionLoader{
		loadSessionFunc: func(ctx context.Context) (*model.Profile, error) {
			return &model.Profile{ID: "USR-001", Role: model.RoleUser}, nil
		},
	}

	var got *model.Profile
	handler := NewSessionMiddleware(loader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ProfileFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rewards/log", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got == nil || got.ID != "USR-001" {
		t.Errorf("profile not injected: %+v", got)
	}
}

func TestSessionMiddleware_NoSession(t *testing.T) {
	loader := &mockSessionLoader{
		loadSessionFunc: func(ctx context.Context) (*model.Profile, error) {
			return nil, nil
		},
	}

	handler := NewSessionMiddleware(loader)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rewards/log", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAdminOnlyMiddleware(t *testing.T) {
	handler := NewAdminOnlyMiddleware()(okHandler())

	adminCtx := ContextWithProfile(context.Background(), &model.Profile{ID: "ADM-001", Role: model.RoleAdmin})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil).WithContext(adminCtx))
	if rec.Code != http.StatusOK {
		t.Errorf("admin should pass, got %d", rec.Code)
	}

	userCtx := ContextWithProfile(context.Background(), &model.Profile{ID: "USR-001", Role: model.RoleUser})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil).WithContext(userCtx))
	if rec.Code != http.StatusForbidden {
		t.Errorf("user should be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("anonymous should be rejected, got %d", rec.Code)
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{model.NewInvalidCredentialsError(), http.StatusUnauthorized, model.ErrCodeInvalidCredentials},
		{model.NewIdentityConflictError("USR-001"), http.StatusConflict, model.ErrCodeIdentityConflict},
		{model.NewAccessDeniedError(), http.StatusForbidden, model.ErrCodeAccessDenied},
		{model.NewUserNotFoundError(), http.StatusNotFound, model.ErrCodeUserNotFound},
		{model.NewInvalidNameError(), http.StatusBadRequest, model.ErrCodeInvalidName},
		{model.NewConnectionFailedError(), http.StatusBadGateway, model.ErrCodeConnectionFailed},
		{context.DeadlineExceeded, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		WriteServiceError(rec, tt.err)

		if rec.Code != tt.wantStatus {
			t.Errorf("%v: expected status %d, got %d", tt.err, tt.wantStatus, rec.Code)
		}
		var body ErrorResponseBody
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Code != tt.wantCode {
			t.Errorf("%v: expected code %s, got %s", tt.err, tt.wantCode, body.Code)
		}
	}
}

func TestRateLimiter_General(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    2,
		AwardRate:       rate.Limit(1),
		AwardBurst:      1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	ctx := ContextWithProfile(context.Background(), &model.Profile{ID: "USR-001"})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil).WithContext(ctx))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil).WithContext(ctx))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Errorf("Retry-After header missing")
	}
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    1,
		AwardRate:       rate.Limit(1),
		AwardBurst:      1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	ctxA := ContextWithProfile(context.Background(), &model.Profile{ID: "USR-001"})
	ctxB := ContextWithProfile(context.Background(), &model.Profile{ID: "USR-002"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil).WithContext(ctxA))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request for A: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil).WithContext(ctxA))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("A should be limited, got %d", rec.Code)
	}

	// 別ユーザーは独立して制限される
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil).WithContext(ctxB))
	if rec.Code != http.StatusOK {
		t.Errorf("B should not be limited, got %d", rec.Code)
	}

	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("expected 2 limiter entries, got %d", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_AwardTierIndependent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    100,
		AwardRate:       rate.Limit(1),
		AwardBurst:      1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	award := rl.AwardMiddleware()(okHandler())
	ctx := ContextWithProfile(context.Background(), &model.Profile{ID: "USR-001"})

	rec := httptest.NewRecorder()
	award.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rewards/simulate", nil).WithContext(ctx))
	if rec.Code != http.StatusOK {
		t.Fatalf("first award: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	award.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rewards/simulate", nil).WithContext(ctx))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("award tier should be exhausted, got %d", rec.Code)
	}

	// 加算側の制限はAPI全般に波及しない
	rec = httptest.NewRecorder()
	general.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil).WithContext(ctx))
	if rec.Code != http.StatusOK {
		t.Errorf("general tier should be unaffected, got %d", rec.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := NewCORSMiddleware("https://gp.example.com")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/stats", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight should return 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://gp.example.com" {
		t.Errorf("origin header missing")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("security headers missing")
	}
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(httptest.NewRecorder().Body, nil))

	recorded := []int{}
	recorder := &statusRecorderMock{record: func(code int) { recorded = append(recorded, code) }}

	handler := NewLoggingMiddleware(logger, recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/signup", nil))

	if len(recorded) != 1 || recorded[0] != http.StatusCreated {
		t.Errorf("status not recorded: %v", recorded)
	}
}

type statusRecorderMock struct {
	record func(code int)
}

func (m *statusRecorderMock) RecordHTTPStatus(statusCode int) {
	m.record(statusCode)
}
