package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/middleware"
	"github.com/hitoshi/ticketdesk/internal/model"
)

// TokenIssuerInterface はAPIトークン発行に必要なサービスインターフェース。
// auth.Serviceが実装する。
type TokenIssuerInterface interface {
	IssueToken(ctx context.Context, username, password string) (string, time.Time, error)
}

// APIHandler はJSON APIのハンドラー。HTML画面と同じサービスと認可規則を使う。
type APIHandler struct {
	tickets TicketServiceInterface
	tokens  TokenIssuerInterface
	metrics metrics.MetricsCollector
}

// NewAPIHandler はAPIHandlerを生成する。
func NewAPIHandler(tickets TicketServiceInterface, tokens TokenIssuerInterface, collector metrics.MetricsCollector) *APIHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &APIHandler{
		tickets: tickets,
		tokens:  tokens,
		metrics: collector,
	}
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ticketResponse struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	AuthorID    int64     `json:"author_id"`
	Author      string    `json:"author,omitempty"`
	Date        time.Time `json:"date"`
	IsCompleted bool      `json:"is_completed"`
}

// IssueToken はユーザー名とパスワードからAPIトークンを発行する。
// POST /api/token
func (h *APIHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, expiresAt, err := h.tokens.IssueToken(r.Context(), req.Username, req.Password)
	if err != nil {
		if model.IsCode(err, model.ErrCodeInvalidCredentials) {
			h.metrics.RecordLogin(false)
		}
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordLogin(true)

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

// ListTickets は全チケットを並び順どおりに返す。認証不要。
// GET /api/tickets
func (h *APIHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.tickets.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]ticketResponse, len(tickets))
	for i := range tickets {
		resp[i] = toTicketWithAuthorResponse(&tickets[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateTicket はチケットを作成する。
// POST /api/tickets
func (h *APIHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var in model.TicketInput
	if !decodeJSON(w, r, &in) {
		return
	}

	t, err := h.tickets.Create(r.Context(), middleware.UserFromContext(r.Context()), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/tickets/"+strconv.FormatInt(t.ID, 10))
	writeJSON(w, http.StatusCreated, toTicketResponse(t))
}

// GetTicket はチケットの詳細を返す。
// GET /api/tickets/{id}
func (h *APIHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketIDParam(r)
	if !ok {
		writeTicketNotFound(w)
		return
	}

	t, err := h.tickets.GetDetail(r.Context(), id, middleware.UserFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketWithAuthorResponse(t))
}

// UpdateTicket はチケットを更新する。
// PUT /api/tickets/{id}
func (h *APIHandler) UpdateTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketIDParam(r)
	if !ok {
		writeTicketNotFound(w)
		return
	}

	var in model.TicketInput
	if !decodeJSON(w, r, &in) {
		return
	}

	t, err := h.tickets.Update(r.Context(), id, middleware.UserFromContext(r.Context()), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(t))
}

// CompleteTicket はチケットを完了状態にする。成功時は204を返す。
// POST /api/tickets/{id}/complete
func (h *APIHandler) CompleteTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketIDParam(r)
	if !ok {
		writeTicketNotFound(w)
		return
	}

	if err := h.tickets.Complete(r.Context(), id, middleware.UserFromContext(r.Context())); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTicket はチケットを削除する。
// DELETE /api/tickets/{id}
func (h *APIHandler) DeleteTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketIDParam(r)
	if !ok {
		writeTicketNotFound(w)
		return
	}

	if err := h.tickets.Delete(r.Context(), id, middleware.UserFromContext(r.Context())); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON はリクエストボディをデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "Failed to parse request body.",
			Category: "validation",
			Action:   "Send a valid JSON body.",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write json response", slog.String("error", err.Error()))
	}
}

func writeTicketNotFound(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
		Code:     model.ErrCodeTicketNotFound,
		Message:  "No ticket found.",
		Category: "ticket",
		Action:   "Check the ticket id.",
	})
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIErrorはコードに応じたステータスで返し、それ以外は500として詳細をログのみに記録する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeTicketNotFound:
		return http.StatusNotFound
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeDuplicateUsername:
		return http.StatusConflict
	case model.ErrCodeUnauthenticated, model.ErrCodeInvalidCredentials, model.ErrCodeUserNotFound:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func toTicketResponse(t *model.Ticket) ticketResponse {
	return ticketResponse{
		ID:          t.ID,
		Title:       t.Title,
		Body:        t.Body,
		AuthorID:    t.AuthorID,
		Date:        t.Date.UTC(),
		IsCompleted: t.IsCompleted,
	}
}

func toTicketWithAuthorResponse(t *model.TicketWithAuthor) ticketResponse {
	resp := toTicketResponse(&t.Ticket)
	resp.Author = t.AuthorUsername
	return resp
}
