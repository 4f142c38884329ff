// Package model はドメインモデルを定義する。
package model

import "time"

// Role はディレクトリのパーティションを表すロール。
type Role string

const (
	// RoleAdmin は管理者ロール。
	RoleAdmin Role = "ADMIN"
	// RoleUser は一般利用者ロール。
	RoleUser Role = "USER"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Gender はアバター生成に使用する属性。
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// Theme は表示テーマ。未設定の場合はDARK扱い。
type Theme string

const (
	ThemeLight Theme = "LIGHT"
	ThemeDark  Theme = "DARK"
)

// Profile は利用者の永続レコードを表す。
// JSONフィールド名は永続フォーマット（gp_database / gp_active_session）の
// 一部であるため変更してはならない。
type Profile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	Gender       Gender    `json:"gender"`
	Points       int       `json:"points"`
	Bottles      int       `json:"bottles"`
	JoinedAt     time.Time `json:"joinedAt"`
	Theme        Theme     `json:"theme,omitempty"`
	ProfileImage string    `json:"profileImage,omitempty"`
	Notice       string    `json:"notice,omitempty"`
}

// IdentityRecord はディレクトリ内の1エントリ。
// 資格情報とプロフィールを保持する。(role, id) の組で一意。
type IdentityRecord struct {
	Password string  `json:"password"`
	Profile  Profile `json:"profile"`
}

// Directory は全識別情報のロール別マッピング。
// ADMINとUSERの両パーティションは空であっても常に存在しなければならない。
// 読み取り側は両キーの存在を前提としている。
type Directory map[Role]map[string]IdentityRecord

// NewDirectory は両パーティションを持つ空のディレクトリを生成する。
func NewDirectory() Directory {
	return Directory{
		RoleAdmin: {},
		RoleUser:  {},
	}
}

// Normalize は欠落しているパーティションを補う。
// 破損データの読み込み後でも両キーの存在を保証するために使用する。
func (d Directory) Normalize() {
	if d[RoleAdmin] == nil {
		d[RoleAdmin] = map[string]IdentityRecord{}
	}
	if d[RoleUser] == nil {
		d[RoleUser] = map[string]IdentityRecord{}
	}
}

// Lookup は (role, id) のレコードを検索する。見つからない場合はok=falseを返す。
func (d Directory) Lookup(role Role, id string) (IdentityRecord, bool) {
	partition, ok := d[role]
	if !ok {
		return IdentityRecord{}, false
	}
	rec, ok := partition[id]
	return rec, ok
}
