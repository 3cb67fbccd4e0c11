package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/ticketdesk/internal/model"
)

const userColumns = `id, username, email, first_name, last_name, password_hash,
	is_superuser, num_tickets_assigned, date_joined`

// SQLUserRepo はsqlxを使用したユーザーリポジトリ。
type SQLUserRepo struct {
	db *sqlx.DB
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(db *sqlx.DB) *SQLUserRepo {
	return &SQLUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user := &model.User{}
	err := r.db.GetContext(ctx, user,
		r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	user.DateJoined = user.DateJoined.UTC()
	return user, nil
}

// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user := &model.User{}
	err := r.db.GetContext(ctx, user,
		r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	user.DateJoined = user.DateJoined.UTC()
	return user, nil
}

// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
// DateJoinedが未設定の場合は現在時刻を設定する。
func (r *SQLUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC().Truncate(time.Microsecond)
	}
	user.DateJoined = user.DateJoined.UTC()

	err := r.db.QueryRowxContext(ctx,
		r.db.Rebind(`INSERT INTO users
			(username, email, first_name, last_name, password_hash, is_superuser, num_tickets_assigned, date_joined)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
		user.Username, user.Email, user.FirstName, user.LastName, user.PasswordHash,
		user.IsSuperuser, user.NumTicketsAssigned, user.DateJoined,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert user %q: %w", user.Username, ErrUniqueViolation)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*SQLUserRepo)(nil)
