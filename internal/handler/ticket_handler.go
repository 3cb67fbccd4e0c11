package handler

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ticketdesk/internal/middleware"
	"github.com/hitoshi/ticketdesk/internal/model"
)

// TicketServiceInterface はチケットハンドラーが必要とするサービスインターフェース。
// ticket.Serviceが実装する。
type TicketServiceInterface interface {
	List(ctx context.Context) ([]model.TicketWithAuthor, error)
	GetForRequester(ctx context.Context, id int64, requester *model.User) (*model.Ticket, error)
	GetDetail(ctx context.Context, id int64, requester *model.User) (*model.TicketWithAuthor, error)
	Create(ctx context.Context, requester *model.User, in model.TicketInput) (*model.Ticket, error)
	Update(ctx context.Context, id int64, requester *model.User, in model.TicketInput) (*model.Ticket, error)
	Complete(ctx context.Context, id int64, requester *model.User) error
	Delete(ctx context.Context, id int64, requester *model.User) error
}

// MarkdownRenderer はチケット本文をHTMLに変換する。
type MarkdownRenderer interface {
	Render(source string) template.HTML
}

// TicketHandlerConfig はチケットハンドラーの設定。
type TicketHandlerConfig struct {
	LoginURL string
	// AnyoneCanComplete は認証済みユーザーなら誰でも完了操作できるかどうか。
	AnyoneCanComplete bool
}

// TicketHandler はチケットのHTML画面を提供するハンドラー。
type TicketHandler struct {
	service  TicketServiceInterface
	renderer *Renderer
	markdown MarkdownRenderer
	config   TicketHandlerConfig
}

// NewTicketHandler はTicketHandlerを生成する。
func NewTicketHandler(service TicketServiceInterface, renderer *Renderer, markdown MarkdownRenderer, config TicketHandlerConfig) *TicketHandler {
	return &TicketHandler{
		service:  service,
		renderer: renderer,
		markdown: markdown,
		config:   config,
	}
}

type ticketListPage struct {
	Tickets           []model.TicketWithAuthor
	AnyoneCanComplete bool
}

type ticketFormPage struct {
	Input  model.TicketInput
	Errors map[string]string
}

type ticketDetailPage struct {
	Ticket   *model.TicketWithAuthor
	BodyHTML template.HTML
}

type ticketDeletePage struct {
	Ticket *model.Ticket
}

// List はチケット一覧を表示する。認証不要。
// GET /
func (h *TicketHandler) List(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.service.List(r.Context())
	if err != nil {
		h.renderer.InternalError(w, r, err)
		return
	}

	h.renderer.HTML(w, r, http.StatusOK, pageTicketList, "Tickets", ticketListPage{
		Tickets:           tickets,
		AnyoneCanComplete: h.config.AnyoneCanComplete,
	})
}

// NewForm は作成フォームを表示する。
// GET /add
func (h *TicketHandler) NewForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.HTML(w, r, http.StatusOK, pageTicketForm, "New ticket", ticketFormPage{})
}

// Create はチケットを作成する。作成者はログインユーザーに固定される。
// POST /add
func (h *TicketHandler) Create(w http.ResponseWriter, r *http.Request) {
	in := parseTicketForm(r)

	_, err := h.service.Create(r.Context(), middleware.UserFromContext(r.Context()), in)
	if err != nil {
		if fields, ok := validationFields(err); ok {
			h.renderer.HTML(w, r, http.StatusOK, pageTicketForm, "New ticket", ticketFormPage{Input: in, Errors: fields})
			return
		}
		h.handleError(w, r, err)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// Detail はチケットの詳細を表示する。本文はMarkdownとして描画する。
// GET /{id}/
func (h *TicketHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketIDParam(r)
	if !ok {
		h.renderer.NotFound(w, r)
		return
	}

	t, err := h.service.GetDetail(r.Context(), id, middleware.UserFromContext(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.renderer.HTML(w, r, http.StatusOK, pageTicketDetail, t.Title, ticketDetailPage{
		Ticket:   t,
		BodyHTML: h.markdown.Render(t.Body),
	})
}

// EditForm は編集フォームを現在の値で表示する。
// GET /{id}/edit/
func (h *TicketHandler) EditForm(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketIDParam(r)
	if !ok {
		h.renderer.NotFound(w, r)
		return
	}

	t, err := h.service.GetForRequester(r.Context(), id, middleware.UserFromContext(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.renderer.HTML(w, r, http.StatusOK, pageTicketForm, "Edit ticket", ticketFormPage{
		Input: model.TicketInput{Title: t.Title, Body: t.Body, IsCompleted: t.IsCompleted},
	})
}

// Edit はチケットを更新する。
// POST /{id}/edit/
func (h *TicketHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketIDParam(r)
	if !ok {
		h.renderer.NotFound(w, r)
		return
	}

	in := parseTicketForm(r)
	_, err := h.service.Update(r.Context(), id, middleware.UserFromContext(r.Context()), in)
	if err != nil {
		if fields, ok := validationFields(err); ok {
			h.renderer.HTML(w, r, http.StatusOK, pageTicketForm, "Edit ticket", ticketFormPage{Input: in, Errors: fields})
			return
		}
		h.handleError(w, r, err)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// DeleteConfirm は削除確認画面を表示する。
// GET /{id}/delete/
func (h *TicketHandler) DeleteConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketIDParam(r)
	if !ok {
		h.renderer.NotFound(w, r)
		return
	}

	t, err := h.service.GetForRequester(r.Context(), id, middleware.UserFromContext(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.renderer.HTML(w, r, http.StatusOK, pageTicketDelete, "Delete ticket", ticketDeletePage{Ticket: t})
}

// Delete はチケットを物理削除する。
// POST /{id}/delete/
func (h *TicketHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketIDParam(r)
	if !ok {
		h.renderer.NotFound(w, r)
		return
	}

	if err := h.service.Delete(r.Context(), id, middleware.UserFromContext(r.Context())); err != nil {
		h.handleError(w, r, err)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// Complete はチケットを完了状態にする。
// POST /{id}/complete/
func (h *TicketHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketIDParam(r)
	if !ok {
		h.renderer.NotFound(w, r)
		return
	}

	if err := h.service.Complete(r.Context(), id, middleware.UserFromContext(r.Context())); err != nil {
		h.handleError(w, r, err)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// handleError はサービスエラーをHTMLレスポンスに変換する。
// 未検出・権限なしは404、未認証はログイン画面へのリダイレクト、それ以外は500。
func (h *TicketHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeTicketNotFound:
			h.renderer.NotFound(w, r)
			return
		case model.ErrCodeUnauthenticated:
			http.Redirect(w, r, middleware.LoginRedirectURL(h.config.LoginURL, r.URL.RequestURI()), http.StatusFound)
			return
		}
	}
	h.renderer.InternalError(w, r, err)
}

// parseTicketForm はフォームからチケット入力を取り出す。
// author等の入力にない項目は無視する。
func parseTicketForm(r *http.Request) model.TicketInput {
	return model.TicketInput{
		Title:       r.PostFormValue("title"),
		Body:        r.PostFormValue("body"),
		IsCompleted: parseCheckbox(r.PostFormValue("is_completed")),
	}
}

func parseCheckbox(v string) bool {
	switch v {
	case "on", "true", "1", "yes":
		return true
	default:
		return false
	}
}

func ticketIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// validationFields はバリデーションエラーであればフィールド単位のメッセージを返す。
func validationFields(err error) (map[string]string, bool) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == model.ErrCodeValidation || apiErr.Code == model.ErrCodeDuplicateUsername) {
		return apiErr.Fields, true
	}
	return nil, false
}
