package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/ticketdesk/internal/model"
)

const ticketWithAuthorSelect = `SELECT t.id, t.title, t.body, t.author_id, t.date, t.is_completed,
	u.username AS author_username, u.first_name AS author_first_name, u.last_name AS author_last_name
	FROM tickets t
	JOIN users u ON u.id = t.author_id`

// SQLTicketRepo はsqlxを使用したチケットリポジトリ。
type SQLTicketRepo struct {
	db *sqlx.DB
}

// NewSQLTicketRepo はSQLTicketRepoを生成する。
func NewSQLTicketRepo(db *sqlx.DB) *SQLTicketRepo {
	return &SQLTicketRepo{db: db}
}

// ListWithAuthor は全チケットを作成者情報付きで返す。
// 未完了を先頭に、作成日時の新しい順、同時刻はIDの大きい順に並べる。
func (r *SQLTicketRepo) ListWithAuthor(ctx context.Context) ([]model.TicketWithAuthor, error) {
	var tickets []model.TicketWithAuthor
	err := r.db.SelectContext(ctx, &tickets,
		ticketWithAuthorSelect+` ORDER BY t.is_completed ASC, t.date DESC, t.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	for i := range tickets {
		tickets[i].Date = tickets[i].Date.UTC()
	}
	return tickets, nil
}

// FindByID は指定IDのチケットを取得する。見つからない場合はnilを返す。
func (r *SQLTicketRepo) FindByID(ctx context.Context, id int64) (*model.Ticket, error) {
	ticket := &model.Ticket{}
	err := r.db.GetContext(ctx, ticket,
		r.db.Rebind(`SELECT id, title, body, author_id, date, is_completed FROM tickets WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket by ID: %w", err)
	}
	ticket.Date = ticket.Date.UTC()
	return ticket, nil
}

// FindByIDWithAuthor は指定IDのチケットを作成者情報付きで取得する。見つからない場合はnilを返す。
func (r *SQLTicketRepo) FindByIDWithAuthor(ctx context.Context, id int64) (*model.TicketWithAuthor, error) {
	ticket := &model.TicketWithAuthor{}
	err := r.db.GetContext(ctx, ticket, r.db.Rebind(ticketWithAuthorSelect+` WHERE t.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket with author: %w", err)
	}
	ticket.Date = ticket.Date.UTC()
	return ticket, nil
}

// Create はチケットを作成し、採番されたIDをticket.IDに設定する。
func (r *SQLTicketRepo) Create(ctx context.Context, ticket *model.Ticket) error {
	ticket.Date = ticket.Date.UTC()
	err := r.db.QueryRowxContext(ctx,
		r.db.Rebind(`INSERT INTO tickets (title, body, author_id, date, is_completed)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id`),
		ticket.Title, ticket.Body, ticket.AuthorID, ticket.Date, ticket.IsCompleted,
	).Scan(&ticket.ID)
	if err != nil {
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

// Update はタイトル・本文・完了状態を更新する。作成者と作成日時は更新しない。
func (r *SQLTicketRepo) Update(ctx context.Context, ticket *model.Ticket) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE tickets SET title = ?, body = ?, is_completed = ? WHERE id = ?`),
		ticket.Title, ticket.Body, ticket.IsCompleted, ticket.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	return nil
}

// MarkCompleted はチケットを完了状態にする。すでに完了していても成功する。
func (r *SQLTicketRepo) MarkCompleted(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE tickets SET is_completed = ? WHERE id = ?`), true, id)
	if err != nil {
		return fmt.Errorf("failed to mark ticket completed: %w", err)
	}
	return nil
}

// Delete は指定IDのチケットを削除する。
func (r *SQLTicketRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM tickets WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TicketRepository = (*SQLTicketRepo)(nil)
