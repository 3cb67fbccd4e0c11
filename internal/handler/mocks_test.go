package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/ticketdesk/internal/auth"
	"github.com/hitoshi/ticketdesk/internal/middleware"
	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/security"
)

// mockTicketService はTicketServiceInterfaceのテスト用モック。
type mockTicketService struct {
	listFn            func(ctx context.Context) ([]model.TicketWithAuthor, error)
	getForRequesterFn func(ctx context.Context, id int64, requester *model.User) (*model.Ticket, error)
	getDetailFn       func(ctx context.Context, id int64, requester *model.User) (*model.TicketWithAuthor, error)
	createFn          func(ctx context.Context, requester *model.User, in model.TicketInput) (*model.Ticket, error)
	updateFn          func(ctx context.Context, id int64, requester *model.User, in model.TicketInput) (*model.Ticket, error)
	completeFn        func(ctx context.Context, id int64, requester *model.User) error
	deleteFn          func(ctx context.Context, id int64, requester *model.User) error
}

func (m *mockTicketService) List(ctx context.Context) ([]model.TicketWithAuthor, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockTicketService) GetForRequester(ctx context.Context, id int64, requester *model.User) (*model.Ticket, error) {
	if m.getForRequesterFn != nil {
		return m.getForRequesterFn(ctx, id, requester)
	}
	return nil, model.NewTicketNotFoundError(id)
}

func (m *mockTicketService) GetDetail(ctx context.Context, id int64, requester *model.User) (*model.TicketWithAuthor, error) {
	if m.getDetailFn != nil {
		return m.getDetailFn(ctx, id, requester)
	}
	return nil, model.NewTicketNotFoundError(id)
}

func (m *mockTicketService) Create(ctx context.Context, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
	if m.createFn != nil {
		return m.createFn(ctx, requester, in)
	}
	return &model.Ticket{ID: 1, Title: in.Title, Body: in.Body, AuthorID: requester.ID}, nil
}

func (m *mockTicketService) Update(ctx context.Context, id int64, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, requester, in)
	}
	return nil, model.NewTicketNotFoundError(id)
}

func (m *mockTicketService) Complete(ctx context.Context, id int64, requester *model.User) error {
	if m.completeFn != nil {
		return m.completeFn(ctx, id, requester)
	}
	return nil
}

func (m *mockTicketService) Delete(ctx context.Context, id int64, requester *model.User) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id, requester)
	}
	return nil
}

// mockAuthService はAuthServiceInterfaceのテスト用モック。
// sessionsに登録されたセッションIDのみを有効とする。
type mockAuthService struct {
	sessions map[string]*model.User

	signupFn     func(ctx context.Context, in auth.SignupInput) (*model.User, error)
	loginFn      func(ctx context.Context, username, password string) (*model.Session, error)
	logoutFn     func(ctx context.Context, sessionID string) error
	issueTokenFn func(ctx context.Context, username, password string) (string, time.Time, error)
	tokenUserFn  func(ctx context.Context, token string) (*model.User, error)
}

func (m *mockAuthService) Signup(ctx context.Context, in auth.SignupInput) (*model.User, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, in)
	}
	return &model.User{ID: 100, Username: in.Username}, nil
}

func (m *mockAuthService) Login(ctx context.Context, username, password string) (*model.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if u, ok := m.sessions[sessionID]; ok {
		return u, nil
	}
	return nil, model.NewUnauthenticatedError()
}

func (m *mockAuthService) IssueToken(ctx context.Context, username, password string) (string, time.Time, error) {
	if m.issueTokenFn != nil {
		return m.issueTokenFn(ctx, username, password)
	}
	return "", time.Time{}, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) GetUserByToken(ctx context.Context, token string) (*model.User, error) {
	if m.tokenUserFn != nil {
		return m.tokenUserFn(ctx, token)
	}
	return nil, model.NewUnauthenticatedError()
}

// mockHealthChecker はHealthCheckerのテスト用モック。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// テストで使うユーザーとセッションID
var (
	ownerUser = &model.User{ID: 1, Username: "owner", FirstName: "Olive", LastName: "Owner"}
	otherUser = &model.User{ID: 2, Username: "other"}
	adminUser = &model.User{ID: 3, Username: "admin", IsSuperuser: true}
)

const (
	ownerSession = "owner-session"
	otherSession = "other-session"
	adminSession = "admin-session"
	testCSRF     = "test-csrf-token"
)

func newMockAuthService() *mockAuthService {
	return &mockAuthService{
		sessions: map[string]*model.User{
			ownerSession: ownerUser,
			otherSession: otherUser,
			adminSession: adminUser,
		},
	}
}

func newTestRouter(t *testing.T, tickets TicketServiceInterface, authSvc AuthServiceInterface) http.Handler {
	t.Helper()
	return newTestRouterWith(t, tickets, authSvc, nil)
}

// newTestRouterWith はmodifyでRouterDepsを調整したルーターを返す。
func newTestRouterWith(t *testing.T, tickets TicketServiceInterface, authSvc AuthServiceInterface, modify func(*RouterDeps)) http.Handler {
	t.Helper()
	deps := &RouterDeps{
		HealthChecker:     &mockHealthChecker{},
		CORSAllowedOrigin: "http://localhost:3000",
		LoginRateLimit:    100,
		AuthService:       authSvc,
		AccountConfig:     AccountHandlerConfig{SessionMaxAge: 3600},
		TicketService:     tickets,
		Markdown:          security.NewMarkdownRenderer(),
		BaseURL:           "http://tickets.example.com",
	}
	if modify != nil {
		modify(deps)
	}
	return NewRouter(deps)
}

func getPage(t *testing.T, h http.Handler, path, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// postForm はCSRFトークン付きのフォームを送信する。
func postForm(t *testing.T, h http.Handler, path string, values url.Values, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	if values == nil {
		values = url.Values{}
	}
	values.Set(middleware.CSRFFormField, testCSRF)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRF})
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
