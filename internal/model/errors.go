// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, signal, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeIdentityConflict   = "IDENTITY_CONFLICT"
	ErrCodeStorageCorrupt     = "STORAGE_CORRUPT"
	ErrCodeConnectionFailed   = "CONNECTION_FAILED"
	ErrCodeSignalUnsupported  = "SIGNAL_UNSUPPORTED"
	ErrCodeAccessDenied       = "ACCESS_DENIED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeInvalidRole        = "INVALID_ROLE"
	ErrCodeInvalidName        = "INVALID_NAME"
)

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// IDの存在有無は区別せず、同一のメッセージを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "認証に失敗しました。識別IDまたはセキュリティキーが正しくありません。",
		Category: "auth",
		Action:   "識別IDとセキュリティキーを確認してください。",
	}
}

// NewIdentityConflictError は識別ID重複エラーを生成する。
func NewIdentityConflictError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityConflict,
		Message:  fmt.Sprintf("識別ID [%s] は既に登録されています。", id),
		Category: "auth",
		Action:   "別の識別IDを指定してください。",
	}
}

// NewConnectionFailedError は回収ビンとの接続失敗エラーを生成する。
func NewConnectionFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeConnectionFailed,
		Message:  "回収ビンとの接続に失敗しました。",
		Category: "signal",
		Action:   "ビンの電源状態を確認し、再度接続してください。",
	}
}

// NewSignalUnsupportedError は無線リンクが利用できない場合のエラーを生成する。
func NewSignalUnsupportedError() *APIError {
	return &APIError{
		Code:     ErrCodeSignalUnsupported,
		Message:  "この端末では無線リンクを利用できません。",
		Category: "signal",
		Action:   "ゲートウェイの設定を確認してください。",
	}
}

// NewAccessDeniedError はPIN再確認の失敗エラーを生成する。
// 回数制限は設けない。
func NewAccessDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccessDenied,
		Message:  "ACCESS_DENIED: PINが一致しません。",
		Category: "auth",
		Action:   "PINを確認して再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidNameError は表示名が空または無効な場合のエラーを生成する。
func NewInvalidNameError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidName,
		Message:  "表示名が無効です。",
		Category: "validation",
		Action:   "1文字以上の表示名を入力してください。",
	}
}

// NewInvalidRoleError はロール指定が不正な場合のエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("無効なロールです: %s", role),
		Category: "validation",
		Action:   "ロールには ADMIN または USER を指定してください。",
	}
}
