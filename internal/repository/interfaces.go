// Package repository はデータ永続化のインターフェースと、
// PostgreSQL・SQLiteの両方で動作するsqlx実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/ticketdesk/internal/model"
)

// ErrUniqueViolation は一意制約違反を表す。ドライバ固有のエラーはこれに正規化する。
var ErrUniqueViolation = errors.New("unique constraint violation")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
	// ユーザー名が重複する場合はErrUniqueViolationを返す。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TicketRepository はチケットデータの永続化インターフェース。
type TicketRepository interface {
	// ListWithAuthor は全チケットを作成者情報付きで返す。
	// 並び順は is_completed 昇順、date 降順、id 降順。
	ListWithAuthor(ctx context.Context) ([]model.TicketWithAuthor, error)

	// FindByID は指定IDのチケットを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Ticket, error)

	// FindByIDWithAuthor は指定IDのチケットを作成者情報付きで取得する。見つからない場合はnilを返す。
	FindByIDWithAuthor(ctx context.Context, id int64) (*model.TicketWithAuthor, error)

	// Create はチケットを作成し、採番されたIDをticket.IDに設定する。
	Create(ctx context.Context, ticket *model.Ticket) error

	// Update はタイトル・本文・完了状態を更新する。作成者と作成日時は更新しない。
	Update(ctx context.Context, ticket *model.Ticket) error

	// MarkCompleted はチケットを完了状態にする。すでに完了していても成功する。
	MarkCompleted(ctx context.Context, id int64) error

	// Delete は指定IDのチケットを削除する。
	Delete(ctx context.Context, id int64) error
}
