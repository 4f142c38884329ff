// Package identity はプロフィールの外部メディア関連機能を提供する。
// アバターのフォールバック画像URL、QRハンドオフ用のディープリンクと
// そのQR画像URL、および外部画像のプロキシ取得を含む。
package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/greenpoints/internal/model"
	"github.com/hitoshi/greenpoints/internal/security"
)

// 外部エンドポイント。
const (
	avatarEndpoint = "https://api.dicebear.com/7.x/avataaars/svg"
	qrEndpoint     = "https://api.qrserver.com/v1/create-qr-code/"
)

// fetchTimeout は外部画像取得のタイムアウト。
const fetchTimeout = 10 * time.Second

// maxImageBytes はプロキシ取得で許容する画像の最大サイズ。
const maxImageBytes = 5 * 1024 * 1024

// FallbackAvatarURL は表示名と性別から決定的に生成されるアバター画像URLを返す。
// 明示的なアバター画像が未設定の場合にのみ使用される。
// 同じ入力に対して常に同じURLを返す。
func FallbackAvatarURL(name string, gender model.Gender) string {
	top := "shortHair,frizzle"
	if gender == model.GenderFemale {
		top = "longHair,hijab,turban"
	}

	query := url.Values{}
	query.Set("seed", name)
	query.Set("top", top)

	return avatarEndpoint + "?" + query.Encode()
}

// AvatarURL はプロフィールの表示画像URLを返す。
// 明示的な設定があればそれを、なければフォールバックを返す。
func AvatarURL(profile model.Profile) string {
	if profile.ProfileImage != "" {
		return profile.ProfileImage
	}
	return FallbackAvatarURL(profile.Name, profile.Gender)
}

// HandoffURL はQRディープリンク用のURLを返す。
// baseURLのオリジンとパスに本人のid/roleをクエリとして付与したもの。
func HandoffURL(baseURL string, profile model.Profile) string {
	query := url.Values{}
	query.Set("loginId", profile.ID)
	query.Set("role", string(profile.Role))

	base := strings.TrimRight(baseURL, "/")
	return base + "/?" + query.Encode()
}

// QRImageURL はハンドオフURLを描画するQR画像のURLを返す。
// 配色はテーマに追従する。
func QRImageURL(baseURL string, profile model.Profile) string {
	background := "f8fafc"
	if profile.Theme != model.ThemeLight {
		background = "05070a"
	}

	query := url.Values{}
	query.Set("size", "300x300")
	query.Set("bgcolor", background)
	query.Set("color", "10b981")
	query.Set("data", HandoffURL(baseURL, profile))

	return qrEndpoint + "?" + query.Encode()
}

// MediaProxy は外部画像のプロキシ取得を行う。
// 利用者が設定した任意のURLをサーバー側で取得するため、
// SSRF防止付きのHTTPクライアントを使用する。
type MediaProxy struct {
	guard  security.SSRFGuardService
	client *http.Client
}

// NewMediaProxy はMediaProxyを生成する。
func NewMediaProxy(guard security.SSRFGuardService) *MediaProxy {
	return &MediaProxy{
		guard:  guard,
		client: guard.NewSafeClient(fetchTimeout),
	}
}

// Fetch はURLの画像を取得し、本文とContent-Typeを返す。
func (p *MediaProxy) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := p.guard.ValidateURL(rawURL); err != nil {
		return nil, "", fmt.Errorf("画像URLの検証に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("リクエストの生成に失敗しました: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("画像の取得に失敗しました: status=%d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("画像以外のコンテンツです: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("本文の読み取りに失敗しました: %w", err)
	}

	return body, contentType, nil
}
