package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/hitoshi/ticketdesk/internal/auth"
	"github.com/hitoshi/ticketdesk/internal/config"
)

// superuserPasswordEnv はcreatesuperuserのパスワードを渡す環境変数名。
// コマンドライン引数に平文パスワードを残さないために使用する。
const superuserPasswordEnv = "SUPERUSER_PASSWORD"

// superuserOptions はcreatesuperuserサブコマンドのフラグ値。
type superuserOptions struct {
	username  string
	email     string
	password  string
	firstName string
	lastName  string
}

// parseSuperuserFlags はcreatesuperuserサブコマンドの引数を解析する。
// --passwordが省略された場合はSUPERUSER_PASSWORD環境変数を使用する。
func parseSuperuserFlags(args []string, output io.Writer) (*superuserOptions, error) {
	opts := &superuserOptions{}

	flagSet := pflag.NewFlagSet("createsuperuser", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&opts.username, "username", "", "username of the superuser (required)")
	flagSet.StringVar(&opts.email, "email", "", "email address")
	flagSet.StringVar(&opts.password, "password", "", "password (defaults to $"+superuserPasswordEnv+")")
	flagSet.StringVar(&opts.firstName, "first-name", "", "first name")
	flagSet.StringVar(&opts.lastName, "last-name", "", "last name")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	if opts.password == "" {
		opts.password = os.Getenv(superuserPasswordEnv)
	}
	if opts.username == "" {
		return nil, errors.New("--username is required")
	}
	if opts.password == "" {
		return nil, fmt.Errorf("--password or %s is required", superuserPasswordEnv)
	}
	return opts, nil
}

// runCreateSuperuser は管理者ユーザーを作成する。
// 管理者はすべてのチケットを編集・完了・削除できる。
func runCreateSuperuser(cfg *config.Config, args []string, output io.Writer) error {
	opts, err := parseSuperuserFlags(args, output)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid createsuperuser arguments: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	authService := newAuthService(cfg, db)
	user, err := authService.CreateSuperuser(context.Background(), auth.SignupInput{
		Username:  opts.username,
		Email:     opts.email,
		FirstName: opts.firstName,
		LastName:  opts.lastName,
		Password1: opts.password,
		Password2: opts.password,
	})
	if err != nil {
		return fmt.Errorf("failed to create superuser: %w", err)
	}

	slog.Info("superuser created",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return nil
}
