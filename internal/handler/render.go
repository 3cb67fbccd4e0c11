package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/ticketdesk/internal/middleware"
	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/ticket"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページテンプレート名
const (
	pageTicketList   = "ticket_list.html"
	pageTicketForm   = "ticket_form.html"
	pageTicketDetail = "ticket_detail.html"
	pageTicketDelete = "ticket_delete.html"
	pageLogin        = "login.html"
	pageSignup       = "signup.html"
	pageError        = "error.html"
)

var templateFuncs = template.FuncMap{
	"canManage": func(u *model.User, t model.Ticket) bool {
		return ticket.Authorize(&t, u) == ticket.Permitted
	},
	"isoTime": func(t time.Time) string {
		return t.UTC().Format(time.RFC3339)
	},
	"displayTime": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04")
	},
}

// layoutData は全ページ共通のテンプレートデータ。
type layoutData struct {
	Title     string
	User      *model.User
	CSRFToken string
	Page      any
}

// Renderer は埋め込みテンプレートからHTMLページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は全ページテンプレートを解析したRendererを返す。
func NewRenderer() (*Renderer, error) {
	names := []string{
		pageTicketList, pageTicketForm, pageTicketDetail, pageTicketDelete,
		pageLogin, pageSignup, pageError,
	}

	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages}, nil
}

// MustNewRenderer はNewRendererを呼び出し、失敗した場合はpanicする。
// テンプレートは埋め込みのため、失敗はビルド時の不備を意味する。
func MustNewRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// HTML はページをバッファに描画してからステータスコードとともに書き込む。
// 描画に失敗した場合は500を返す。
func (rd *Renderer) HTML(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	tmpl, ok := rd.pages[page]
	if !ok {
		slog.Error("unknown template", slog.String("template", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	err := tmpl.ExecuteTemplate(&buf, "layout", layoutData{
		Title:     title,
		User:      middleware.UserFromContext(r.Context()),
		CSRFToken: middleware.CSRFToken(r.Context()),
		Page:      data,
	})
	if err != nil {
		slog.Error("failed to render template",
			slog.String("template", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

type errorPage struct {
	Message string
}

// NotFound は404ページを描画する。
func (rd *Renderer) NotFound(w http.ResponseWriter, r *http.Request) {
	rd.HTML(w, r, http.StatusNotFound, pageError, "Not found", errorPage{
		Message: "The requested page was not found.",
	})
}

// TooManyRequests は429ページを描画する。Retry-Afterヘッダーは呼び出し側で設定する。
func (rd *Renderer) TooManyRequests(w http.ResponseWriter, r *http.Request) {
	rd.HTML(w, r, http.StatusTooManyRequests, pageError, "Too many requests", errorPage{
		Message: "Too many requests. Please wait a moment and try again.",
	})
}

// InternalError は500ページを描画する。詳細はログのみに記録する。
func (rd *Renderer) InternalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error",
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	rd.HTML(w, r, http.StatusInternalServerError, pageError, "Server error", errorPage{
		Message: "An internal error occurred. Please try again later.",
	})
}
