// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// User はサービス利用ユーザーを表す。
// NumTicketsAssigned は保持・表示のみで、どの操作からも更新されない。
type User struct {
	ID                 int64     `db:"id"`
	Username           string    `db:"username"`
	Email              string    `db:"email"`
	FirstName          string    `db:"first_name"`
	LastName           string    `db:"last_name"`
	PasswordHash       string    `db:"password_hash"`
	IsSuperuser        bool      `db:"is_superuser"`
	NumTicketsAssigned int       `db:"num_tickets_assigned"`
	DateJoined         time.Time `db:"date_joined"`
}

// DisplayName は "名 姓 (ユーザー名)" 形式の表示名を返す。
func (u *User) DisplayName() string {
	return fmt.Sprintf("%s %s (%s)", u.FirstName, u.LastName, u.Username)
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string    `db:"id"`
	UserID    int64     `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}
