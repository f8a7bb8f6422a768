package model

import "time"

// Role はユーザーの権限を表す。
type Role string

const (
	// RoleUser は一般利用者（学生・教職員）。
	RoleUser Role = "user"
	// RoleAdmin は遺失物窓口の管理者。
	RoleAdmin Role = "admin"
)

// SystemBulletinUserID は掲示板から取り込んだ拾得物の登録者として使用するシステムユーザーID。
// マイグレーションで作成される。
const SystemBulletinUserID = "00000000-0000-0000-0000-00000000b001"

// User はポータルの利用者を表す。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin は管理者かどうかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Actor は操作を実行する認証済みユーザーを表す。
// 認証ミドルウェアがトークンから復元する。
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin は管理者による操作かどうかを返す。
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
