package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/ticketdesk/internal/auth"
	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/middleware"
	"github.com/hitoshi/ticketdesk/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
// auth.Serviceが実装する。
type AccountServiceInterface interface {
	Signup(ctx context.Context, in auth.SignupInput) (*model.User, error)
	Login(ctx context.Context, username, password string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// AccountHandlerConfig はアカウントハンドラーの設定。
type AccountHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AccountHandler はサインアップ・ログイン・ログアウトのHTTPハンドラー。
type AccountHandler struct {
	service  AccountServiceInterface
	renderer *Renderer
	metrics  metrics.MetricsCollector
	config   AccountHandlerConfig
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface, renderer *Renderer, collector metrics.MetricsCollector, config AccountHandlerConfig) *AccountHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &AccountHandler{
		service:  service,
		renderer: renderer,
		metrics:  collector,
		config:   config,
	}
}

type loginPage struct {
	Username      string
	Next          string
	NonFieldError string
}

type signupField struct {
	Name  string
	Label string
	Type  string
	Value string
	Error string
}

type signupPage struct {
	Fields []signupField
}

// LoginForm はログインフォームを表示する。
// GET /accounts/login/
func (h *AccountHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.HTML(w, r, http.StatusOK, pageLogin, "Log in", loginPage{
		Next: safeNext(r.URL.Query().Get("next")),
	})
}

// Login はユーザー名とパスワードを検証し、セッションCookieを発行する。
// 成功時は安全なnextまたは / にリダイレクトする。
// POST /accounts/login/
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	next := safeNext(r.PostFormValue("next"))
	if next == "" {
		next = safeNext(r.URL.Query().Get("next"))
	}

	session, err := h.service.Login(r.Context(), username, r.PostFormValue("password"))
	if err != nil {
		if !model.IsCode(err, model.ErrCodeInvalidCredentials) {
			h.renderer.InternalError(w, r, err)
			return
		}
		h.metrics.RecordLogin(false)
		apiErr := model.NewInvalidCredentialsError()
		h.renderer.HTML(w, r, http.StatusOK, pageLogin, "Log in", loginPage{
			Username:      username,
			Next:          next,
			NonFieldError: apiErr.Message + " " + apiErr.Action,
		})
		return
	}
	h.metrics.RecordLogin(true)

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusFound)
}

// Logout はセッションを破棄し、Cookieをクリアして / にリダイレクトする。
// POST /accounts/logout/
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusFound)
}

// SignupForm はサインアップフォームを表示する。
// GET /accounts/signup/
func (h *AccountHandler) SignupForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.HTML(w, r, http.StatusOK, pageSignup, "Sign up", signupPage{
		Fields: signupFields(auth.SignupInput{}, nil),
	})
}

// Signup はアカウントを作成し、ログイン画面にリダイレクトする。
// 入力不正の場合はエラー付きのフォームを200で再表示する。
// POST /accounts/signup/
func (h *AccountHandler) Signup(w http.ResponseWriter, r *http.Request) {
	in := auth.SignupInput{
		Username:  r.PostFormValue("username"),
		Email:     r.PostFormValue("email"),
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
		Password1: r.PostFormValue("password1"),
		Password2: r.PostFormValue("password2"),
	}

	if _, err := h.service.Signup(r.Context(), in); err != nil {
		if fields, ok := validationFields(err); ok {
			h.renderer.HTML(w, r, http.StatusOK, pageSignup, "Sign up", signupPage{
				Fields: signupFields(in, fields),
			})
			return
		}
		h.renderer.InternalError(w, r, err)
		return
	}

	http.Redirect(w, r, "/accounts/login/", http.StatusFound)
}

// signupFields はフォームの表示項目を組み立てる。パスワードは再表示しない。
func signupFields(in auth.SignupInput, errs map[string]string) []signupField {
	return []signupField{
		{Name: "username", Label: "Username", Type: "text", Value: in.Username, Error: errs["username"]},
		{Name: "email", Label: "Email address", Type: "email", Value: in.Email, Error: errs["email"]},
		{Name: "first_name", Label: "First name", Type: "text", Value: in.FirstName, Error: errs["first_name"]},
		{Name: "last_name", Label: "Last name", Type: "text", Value: in.LastName, Error: errs["last_name"]},
		{Name: "password1", Label: "Password", Type: "password", Error: errs["password1"]},
		{Name: "password2", Label: "Password confirmation", Type: "password", Error: errs["password2"]},
	}
}

// safeNext はリダイレクト先として安全な同一サイト内のパスのみを返す。
// 外部URL、プロトコル相対URL、バックスラッシュを含むものは空文字にする。
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return next
}
