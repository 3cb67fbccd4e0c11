package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/ticketdesk/internal/model"
)

// TokenResolver はAPIトークンからユーザーを解決するインターフェース。
// auth.Serviceが実装する。
type TokenResolver interface {
	GetUserByToken(ctx context.Context, token string) (*model.User, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// ユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーがない場合は未認証のまま次へ進み、不正なトークンには401を返す。
func NewBearerAuthMiddleware(resolver TokenResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			user, err := resolver.GetUserByToken(r.Context(), strings.TrimSpace(token))
			if err != nil {
				if !model.IsCode(err, model.ErrCodeUnauthenticated) {
					slog.Error("failed to resolve api token", slog.String("error", err.Error()))
					WriteInternalServerError(w)
					return
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			annotateUser(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// NewAPIAuthRequiredMiddleware は未認証のAPIリクエストに401を返すミドルウェアを返す。
func NewAPIAuthRequiredMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserFromContext(r.Context()) == nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ticketdesk"`)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
