package model

import "time"

// Ticket は報告された作業・問題の単位を表す。
// AuthorID は作成者で固定され、Date は作成時に一度だけ設定される。
type Ticket struct {
	ID          int64     `db:"id"`
	Title       string    `db:"title"`
	Body        string    `db:"body"`
	AuthorID    int64     `db:"author_id"`
	Date        time.Time `db:"date"`
	IsCompleted bool      `db:"is_completed"`
}

// String はチケットのタイトルを返す。
func (t *Ticket) String() string {
	return t.Title
}

// TicketWithAuthor は一覧・詳細表示用に作成者情報を結合したチケット。
type TicketWithAuthor struct {
	Ticket
	AuthorUsername  string `db:"author_username"`
	AuthorFirstName string `db:"author_first_name"`
	AuthorLastName  string `db:"author_last_name"`
}

// AuthorDisplayName は作成者の表示名を返す。
func (t *TicketWithAuthor) AuthorDisplayName() string {
	u := User{Username: t.AuthorUsername, FirstName: t.AuthorFirstName, LastName: t.AuthorLastName}
	return u.DisplayName()
}

// TicketInput は作成・更新で受け付けるクライアント入力。
// 作成者と作成日時は含まない。
type TicketInput struct {
	Title       string `form:"title" json:"title" validate:"required,max=200"`
	Body        string `form:"body" json:"body" validate:"required"`
	IsCompleted bool   `form:"is_completed" json:"is_completed"`
}
