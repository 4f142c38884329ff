// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/greenpoints/internal/auth"
	"github.com/hitoshi/greenpoints/internal/identity"
	"github.com/hitoshi/greenpoints/internal/middleware"
	"github.com/hitoshi/greenpoints/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, role model.Role, id, secret string) (*model.Profile, error)
	SignUp(ctx context.Context, role model.Role, id, name string, gender model.Gender, secret string) (*model.Profile, error)
	SignInViaHandoff(ctx context.Context, role model.Role, id string) (*model.Profile, error)
	VerifyPIN(ctx context.Context, role model.Role, id, attempt string) error
	SignOut(ctx context.Context) error
}

// SessionReader はアクティブセッションの読み取りインターフェース。
type SessionReader interface {
	LoadSession(ctx context.Context) (*model.Profile, error)
}

// SessionApplier はサインイン系操作の結果を即時反映するためのフック。
// session.SynchronizerのSetCurrentを想定する。nil可。
type SessionApplier func(profile *model.Profile)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はQRディープリンクの生成に使用する公開URL。
	BaseURL string
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	session SessionReader
	apply   SessionApplier
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, session SessionReader, apply SessionApplier, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		session: session,
		apply:   apply,
		config:  config,
	}
}

// loginRequest はサインインのリクエストボディ。
type loginRequest struct {
	Role     string `json:"role"`
	ID       string `json:"id"`
	Password string `json:"password"`
}

// Login はサインインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := h.service.SignIn(r.Context(), model.Role(req.Role), req.ID, req.Password)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	h.applySession(profile)
	writeJSON(w, http.StatusOK, profile)
}

// signupRequest は新規登録のリクエストボディ。
type signupRequest struct {
	Role     string `json:"role"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Gender   string `json:"gender"`
	Password string `json:"password"`
}

// Signup は新規登録を処理する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := h.service.SignUp(r.Context(), model.Role(req.Role), req.ID, req.Name, model.Gender(req.Gender), req.Password)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	h.applySession(profile)
	writeJSON(w, http.StatusCreated, profile)
}

// Logout はサインアウトを処理する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context()); err != nil {
		slog.Error("サインアウトに失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.applySession(nil)
	w.WriteHeader(http.StatusNoContent)
}

// Me はアクティブセッションのプロフィールを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.session.LoadSession(r.Context())
	if err != nil {
		slog.Error("セッションの読み込みに失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if profile == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// Handoff はQRディープリンクのワンショット認証を処理する。
// GET /auth/handoff?loginId=xxx&role=yyy
//
// パラメータを消費した後はクエリを取り除いたベースURLへリダイレクトする。
// レコードが見つからない場合もエラーにせず、そのままリダイレクトする。
func (h *AuthHandler) Handoff(w http.ResponseWriter, r *http.Request) {
	loginID := r.URL.Query().Get("loginId")
	role := r.URL.Query().Get("role")

	// 既にセッションがある場合はハンドオフを無視する
	existing, err := h.session.LoadSession(r.Context())
	if err == nil && existing == nil && loginID != "" && role != "" {
		profile, err := h.service.SignInViaHandoff(r.Context(), model.Role(role), loginID)
		if err != nil {
			slog.Error("ハンドオフ認証に失敗しました", slog.String("error", err.Error()))
		} else if profile != nil {
			h.applySession(profile)
		}
	}

	redirect := h.config.BaseURL
	if redirect == "" {
		redirect = "/"
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// qrUnlockRequest はQRパネル解錠のリクエストボディ。
type qrUnlockRequest struct {
	PIN string `json:"pin"`
}

// qrUnlockResponse はQRパネル解錠の成功レスポンス。
type qrUnlockResponse struct {
	HandoffURL string `json:"handoffUrl"`
	QRImageURL string `json:"qrImageUrl"`
}

// QRUnlock はPIN再確認を行い、本人のQRペイロードを返す。
// POST /auth/qr/unlock
//
// アクティブセッションが必要。PIN不一致の場合は403 ACCESS_DENIED。
func (h *AuthHandler) QRUnlock(w http.ResponseWriter, r *http.Request) {
	profile, err := middleware.ProfileFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req qrUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.VerifyPIN(r.Context(), profile.Role, profile.ID, req.PIN); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, qrUnlockResponse{
		HandoffURL: identity.HandoffURL(h.config.BaseURL, *profile),
		QRImageURL: identity.QRImageURL(h.config.BaseURL, *profile),
	})
}

// applySession はサインイン系操作の結果をシンクロナイザへ即時反映する。
func (h *AuthHandler) applySession(profile *model.Profile) {
	if h.apply != nil {
		h.apply(profile)
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

var _ AuthServiceInterface = (*auth.Service)(nil)
