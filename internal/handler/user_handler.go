package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/hitoshi/greenpoints/internal/auth"
	"github.com/hitoshi/greenpoints/internal/identity"
	"github.com/hitoshi/greenpoints/internal/middleware"
	"github.com/hitoshi/greenpoints/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	UpdateSettings(ctx context.Context, role model.Role, id string, upd auth.SettingsUpdate) (*model.Profile, error)
}

// DirectoryReader はディレクトリ一覧の読み取りインターフェース。
type DirectoryReader interface {
	LoadDirectory(ctx context.Context) (model.Directory, error)
}

// UserHandler はユーザー管理関連のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	store   DirectoryReader
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, store DirectoryReader) *UserHandler {
	return &UserHandler{
		service: service,
		store:   store,
	}
}

// userListEntry は管理者向けユーザー一覧の1行。資格情報は含めない。
type userListEntry struct {
	Profile   model.Profile `json:"profile"`
	AvatarURL string        `json:"avatarUrl"`
}

// List は全パーティションの登録ユーザー一覧を返す。
// GET /api/users
//
// 管理者専用。パスワードはレスポンスに含めない。
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	dir, err := h.store.LoadDirectory(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	entries := make([]userListEntry, 0)
	for _, partition := range dir {
		for _, rec := range partition {
			entries = append(entries, userListEntry{
				Profile:   rec.Profile,
				AvatarURL: identity.AvatarURL(rec.Profile),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Profile.Role != entries[j].Profile.Role {
			return entries[i].Profile.Role < entries[j].Profile.Role
		}
		return entries[i].Profile.ID < entries[j].Profile.ID
	})

	writeJSON(w, http.StatusOK, entries)
}

// settingsRequest は設定更新のリクエストボディ。nilフィールドは変更しない。
type settingsRequest struct {
	Name         *string `json:"name"`
	Theme        *string `json:"theme"`
	ProfileImage *string `json:"profileImage"`
	Notice       *string `json:"notice"`
}

// UpdateSettings はアクティブセッション本人の表示設定を更新する。
// PUT /api/users/me/settings
func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	profile, err := middleware.ProfileFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	upd := auth.SettingsUpdate{
		Name:         req.Name,
		ProfileImage: req.ProfileImage,
		Notice:       req.Notice,
	}
	if req.Theme != nil {
		theme := model.Theme(*req.Theme)
		if theme != model.ThemeLight && theme != model.ThemeDark {
			http.Error(w, "invalid theme", http.StatusBadRequest)
			return
		}
		upd.Theme = &theme
	}

	updated, err := h.service.UpdateSettings(r.Context(), profile.Role, profile.ID, upd)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}
