package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/greenpoints/internal/ledger"
	"github.com/hitoshi/greenpoints/internal/middleware"
	"github.com/hitoshi/greenpoints/internal/model"
	"github.com/hitoshi/greenpoints/internal/signal"
)

// RewardServiceInterface はリワードハンドラーが必要とするサービスインターフェース。
type RewardServiceInterface interface {
	Award(ctx context.Context, profile model.Profile, count int) (model.Profile, error)
	SignalLog() []ledger.SignalLogEntry
}

// BridgeInterface はブリッジ操作のインターフェース。
type BridgeInterface interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() signal.State
}

// RewardHandler はリワード台帳とシグナルブリッジ関連のHTTPハンドラー。
type RewardHandler struct {
	service RewardServiceInterface
	bridge  BridgeInterface
}

// NewRewardHandler はRewardHandlerを生成する。bridgeはnil可。
func NewRewardHandler(service RewardServiceInterface, bridge BridgeInterface) *RewardHandler {
	return &RewardHandler{
		service: service,
		bridge:  bridge,
	}
}

// simulateRequest は手動加算のリクエストボディ。ボディ省略時はcount=1。
type simulateRequest struct {
	Count int `json:"count"`
}

// Simulate はシグナル受信を手動でトリガーする。
// POST /api/rewards/simulate
//
// ブリッジ未接続の環境でのデモと動作確認に使用する。
func (h *RewardHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	profile, err := middleware.ProfileFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	count := 1
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Count > 0 {
		count = req.Count
	}

	updated, err := h.service.Award(r.Context(), *profile, count)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// Log はシグナル履歴を新しい順で返す。
// GET /api/rewards/log
func (h *RewardHandler) Log(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.SignalLog())
}

// bridgeStatusResponse はブリッジ状態のレスポンス。
type bridgeStatusResponse struct {
	State string `json:"state"`
}

// BridgeStatus はブリッジの接続状態を返す。
// GET /api/bridge/status
func (h *RewardHandler) BridgeStatus(w http.ResponseWriter, r *http.Request) {
	state := signal.StateDisconnected
	if h.bridge != nil {
		state = h.bridge.State()
	}
	writeJSON(w, http.StatusOK, bridgeStatusResponse{State: string(state)})
}

// BridgeConnect はブリッジの接続を開始する。
// POST /api/bridge/connect
//
// 自動再接続は行わないため、切断後の再接続はこのエンドポイントで行う。
func (h *RewardHandler) BridgeConnect(w http.ResponseWriter, r *http.Request) {
	if h.bridge == nil {
		middleware.WriteServiceError(w, model.NewSignalUnsupportedError())
		return
	}

	if err := h.bridge.Connect(r.Context()); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bridgeStatusResponse{State: string(h.bridge.State())})
}

// BridgeDisconnect はブリッジを切断する。
// POST /api/bridge/disconnect
func (h *RewardHandler) BridgeDisconnect(w http.ResponseWriter, r *http.Request) {
	if h.bridge == nil {
		middleware.WriteServiceError(w, model.NewSignalUnsupportedError())
		return
	}

	if err := h.bridge.Disconnect(); err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, bridgeStatusResponse{State: string(signal.StateDisconnected)})
}
