package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/ticketdesk/internal/model"
)

// ErrInvalidToken はAPIトークンが不正・期限切れであることを表す。
var ErrInvalidToken = errors.New("invalid token")

// IssueToken は認証に成功したユーザーにHS256署名のAPIトークンを発行する。
// subjectはユーザーID、有効期限はTokenTTL。
func (s *Service) IssueToken(ctx context.Context, username, password string) (string, time.Time, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.config.TokenTTL).UTC().Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(user.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.TokenSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// ParseToken はAPIトークンを検証し、subjectのユーザーIDを返す。
// HS256以外の署名方式は拒否する。
func (s *Service) ParseToken(tokenString string) (int64, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return []byte(s.config.TokenSecret), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return userID, nil
}

// GetUserByToken はAPIトークンからユーザーを取得する。
// トークンが不正な場合、またはユーザーが存在しない場合はUNAUTHENTICATEDエラーを返す。
func (s *Service) GetUserByToken(ctx context.Context, tokenString string) (*model.User, error) {
	userID, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, model.NewUnauthenticatedError()
	}
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		if model.IsCode(err, model.ErrCodeUserNotFound) {
			return nil, model.NewUnauthenticatedError()
		}
		return nil, err
	}
	return user, nil
}
