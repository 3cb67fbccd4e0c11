// Package testutil はテスト用のデータベースとトークンのヘルパーを提供する。
package testutil

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/ticketdesk/internal/database"
)

// InMemoryDBURL はテストごとに一意な共有キャッシュのインメモリSQLite URLを返す。
func InMemoryDBURL(t *testing.T) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString()[:8]
	return "file:" + name + "?mode=memory&cache=shared"
}

// OpenInMemoryDB はマイグレーション適用済みのインメモリSQLiteを開く。
// 接続はt.Cleanupで閉じる。
func OpenInMemoryDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dbURL := InMemoryDBURL(t)

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// 共有キャッシュのインメモリDBを保持するため、マイグレーション前に接続を確立する。
	if err := db.Ping(); err != nil {
		t.Fatalf("ping test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// GenerateJWTHS256 はsubjectにユーザーIDを持つ署名済みトークンを返す。
func GenerateJWTHS256(t *testing.T, secret string, userID int64, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}
