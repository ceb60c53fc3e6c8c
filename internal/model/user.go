// Package model はドメインモデルを定義する。
package model

import "time"

// User は声紋認証の対象となるユーザーを表す。
// 監査整合性を保つため物理削除は行わず、DeletedAtによる論理削除のみを行う。
type User struct {
	ID             string
	ExternalRef    string // 外部システム側のユーザー参照（任意）
	FailedAttempts int    // 連続認証失敗回数。認証成功時に0へリセットされる。
	LockedUntil    *time.Time
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLocked は指定時刻においてユーザーがロック中かを返す。
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// IsDeleted はユーザーが論理削除済みかを返す。
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}
