// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizerService は利用者が入力する表示名とお知らせ文のサニタイズを行い、
// ダッシュボードに表示されるテキスト経由のXSS攻撃からユーザーを保護する。
// bluemondayのStripTagsPolicyにより、HTMLタグはすべて除去されプレーンテキスト
// のみが保存される。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService は表示テキストのサニタイズ機能のインターフェースを定義する。
// 登録時の表示名と設定更新時の表示名・お知らせ文に使用される。
type NameSanitizerService interface {
	// SanitizeName は表示名からHTMLタグを除去し、前後の空白を取り除いて返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeName(raw string) string

	// SanitizeNotice はお知らせ文からHTMLタグを除去して返す。
	SanitizeNotice(raw string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
// StripTagsPolicyはすべてのタグを除去し、テキストノードのみを残す。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StripTagsPolicy(),
	}
}

// SanitizeName は表示名からHTMLタグを除去し、前後の空白を取り除いて返す。
func (s *nameSanitizer) SanitizeName(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// SanitizeNotice はお知らせ文からHTMLタグを除去して返す。
// 改行などの整形は表示側の責務のため、空白の正規化は行わない。
func (s *nameSanitizer) SanitizeNotice(raw string) string {
	return s.policy.Sanitize(raw)
}
