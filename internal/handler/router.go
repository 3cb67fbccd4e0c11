package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/middleware"
)

// LoginURL はログイン画面のパス。
const LoginURL = "/accounts/login/"

// AuthServiceInterface は認証ミドルウェアとアカウント・APIハンドラーが必要とするサービスインターフェース。
// auth.Serviceが実装する。
type AuthServiceInterface interface {
	AccountServiceInterface
	TokenIssuerInterface
	middleware.UserResolver
	middleware.TokenResolver
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// インフラ
	HealthChecker HealthChecker
	Logger        *slog.Logger
	Metrics       metrics.MetricsCollector
	Gatherer      prometheus.Gatherer

	// ミドルウェア設定
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	LoginRateLimit    int // req/min/IP

	// 認証
	AuthService   AuthServiceInterface
	AccountConfig AccountHandlerConfig

	// チケット
	TicketService     TicketServiceInterface
	Markdown          MarkdownRenderer
	AnyoneCanComplete bool
	BaseURL           string

	// テンプレート（nilの場合は埋め込みテンプレートから生成する）
	Renderer *Renderer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → (HTML) Session → [LoginRequired] → CSRF → RateLimit
//	                                     → (API)  CORS → BearerAuth → RateLimit
//
// /health と /metrics はセッション・CSRFの対象外とする。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = MustNewRenderer()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(logger, collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())

	ticketHandler := NewTicketHandler(deps.TicketService, renderer, deps.Markdown, TicketHandlerConfig{
		LoginURL:          LoginURL,
		AnyoneCanComplete: deps.AnyoneCanComplete,
	})
	accountHandler := NewAccountHandler(deps.AuthService, renderer, collector, deps.AccountConfig)
	apiHandler := NewAPIHandler(deps.TicketService, deps.AuthService, collector)
	feedHandler := NewFeedHandler(deps.TicketService, deps.BaseURL)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- JSON API（Bearerトークン認証） ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

		r.With(middleware.NewIPRateLimitMiddleware(deps.LoginRateLimit, nil)).Post("/token", apiHandler.IssueToken)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewBearerAuthMiddleware(deps.AuthService))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}

			r.Get("/tickets", apiHandler.ListTickets)
			r.Get("/tickets/{id}", apiHandler.GetTicket)

			r.Group(func(r chi.Router) {
				r.Use(middleware.NewAPIAuthRequiredMiddleware())
				r.Post("/tickets", apiHandler.CreateTicket)
				r.Put("/tickets/{id}", apiHandler.UpdateTicket)
				r.Post("/tickets/{id}/complete", apiHandler.CompleteTicket)
				r.Delete("/tickets/{id}", apiHandler.DeleteTicket)
			})
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeTicketNotFound(w)
		})
	})

	// --- HTML画面（セッションCookie認証） ---
	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)
	htmlRateLimit := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		htmlRateLimit = deps.RateLimiter.MiddlewareWith(renderer.TooManyRequests)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.AuthService))

		// 公開画面
		r.Group(func(r chi.Router) {
			r.Use(csrf)
			r.Use(htmlRateLimit)

			r.Get("/", ticketHandler.List)
			r.Get("/feed.atom", feedHandler.Atom)

			r.Get("/accounts/login/", accountHandler.LoginForm)
			r.With(middleware.NewIPRateLimitMiddleware(deps.LoginRateLimit, renderer.TooManyRequests)).
				Post("/accounts/login/", accountHandler.Login)
			r.Post("/accounts/logout/", accountHandler.Logout)
			r.Get("/accounts/signup/", accountHandler.SignupForm)
			r.Post("/accounts/signup/", accountHandler.Signup)
		})

		// ログイン必須。未ログインはCSRF検証より先にログイン画面へリダイレクトする
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewLoginRequiredMiddleware(LoginURL))
			r.Use(csrf)
			r.Use(htmlRateLimit)

			r.Get("/add", ticketHandler.NewForm)
			r.Post("/add", ticketHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", ticketHandler.Detail)
				r.Get("/edit/", ticketHandler.EditForm)
				r.Post("/edit/", ticketHandler.Edit)
				r.Get("/delete/", ticketHandler.DeleteConfirm)
				r.Post("/delete/", ticketHandler.Delete)
				r.Post("/complete/", ticketHandler.Complete)
			})
		})

		r.NotFound(csrf(http.HandlerFunc(renderer.NotFound)).ServeHTTP)
	})

	return r
}
