package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// MediaProxyInterface は外部画像のプロキシ取得インターフェース。
type MediaProxyInterface interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// MediaHandler は外部メディアのプロキシ取得を行うHTTPハンドラー。
// 利用者が設定した任意のアバター画像URLをブラウザに直接読ませず、
// SSRF防止付きのクライアントでサーバー側から取得して返す。
type MediaHandler struct {
	proxy MediaProxyInterface
}

// NewMediaHandler はMediaHandlerを生成する。
func NewMediaHandler(proxy MediaProxyInterface) *MediaHandler {
	return &MediaHandler{proxy: proxy}
}

// Proxy は指定URLの画像を取得して返す。
// GET /api/media/proxy?url=xxx
func (h *MediaHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "url parameter required", http.StatusBadRequest)
		return
	}

	body, contentType, err := h.proxy.Fetch(r.Context(), rawURL)
	if err != nil {
		http.Error(w, "failed to fetch image", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("画像レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}
