package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/ticketdesk/internal/middleware"
	"github.com/hitoshi/ticketdesk/internal/model"
)

func parseHTML(t *testing.T, w *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(w.Body)
	if err != nil {
		t.Fatalf("failed to parse HTML: %v", err)
	}
	return doc
}

func sampleTickets() []model.TicketWithAuthor {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return []model.TicketWithAuthor{
		{Ticket: model.Ticket{ID: 2, Title: "Printer jam", Body: "b", AuthorID: ownerUser.ID, Date: now}, AuthorUsername: "owner", AuthorFirstName: "Olive", AuthorLastName: "Owner"},
		{Ticket: model.Ticket{ID: 1, Title: "VPN down", Body: "b", AuthorID: otherUser.ID, Date: now.Add(-time.Hour)}, AuthorUsername: "other"},
		{Ticket: model.Ticket{ID: 3, Title: "Old issue", Body: "b", AuthorID: otherUser.ID, Date: now, IsCompleted: true}, AuthorUsername: "other"},
	}
}

func TestTicketList_RendersTicketsInServiceOrder(t *testing.T) {
	svc := &mockTicketService{
		listFn: func(ctx context.Context) ([]model.TicketWithAuthor, error) {
			return sampleTickets(), nil
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	w := getPage(t, h, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	doc := parseHTML(t, w)
	var titles []string
	doc.Find("tr.ticket td.title").Each(func(i int, s *goquery.Selection) {
		titles = append(titles, s.Text())
	})
	want := []string{"Printer jam", "VPN down", "Old issue"}
	if strings.Join(titles, ",") != strings.Join(want, ",") {
		t.Errorf("titles = %v, want %v", titles, want)
	}

	if got := doc.Find(`tr.ticket[data-id="2"] td.author`).Text(); got != "Olive Owner (owner)" {
		t.Errorf("author = %q, want %q", got, "Olive Owner (owner)")
	}
	if !doc.Find(`tr.ticket[data-id="3"]`).HasClass("completed") {
		t.Error("completed ticket should have completed class")
	}
	if doc.Find(`a[href="/2/edit/"]`).Length() != 0 {
		t.Error("anonymous user should not see edit links")
	}
	if doc.Find("#login-link").Length() != 1 {
		t.Error("expected login link for anonymous user")
	}
}

func TestTicketList_ShowsManageLinksOnlyForOwnTickets(t *testing.T) {
	svc := &mockTicketService{
		listFn: func(ctx context.Context) ([]model.TicketWithAuthor, error) {
			return sampleTickets(), nil
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	doc := parseHTML(t, getPage(t, h, "/", ownerSession))
	if doc.Find(`a[href="/2/edit/"]`).Length() != 1 {
		t.Error("owner should see edit link for own ticket")
	}
	if doc.Find(`a[href="/1/edit/"]`).Length() != 0 {
		t.Error("owner should not see edit link for another user's ticket")
	}
	if got := doc.Find("#current-user").Text(); got != "owner" {
		t.Errorf("current user = %q, want owner", got)
	}

	doc = parseHTML(t, getPage(t, h, "/", adminSession))
	if doc.Find(`a[href="/1/edit/"]`).Length() != 1 {
		t.Error("superuser should see edit link for every ticket")
	}
}

func TestTicketList_EmptyState(t *testing.T) {
	h := newTestRouter(t, &mockTicketService{}, newMockAuthService())

	doc := parseHTML(t, getPage(t, h, "/", ""))
	if doc.Find("#empty").Length() != 1 {
		t.Error("expected empty state message")
	}
}

func TestTicketRoutes_AnonymousRedirectsToLogin(t *testing.T) {
	svc := &mockTicketService{
		createFn: func(ctx context.Context, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
			t.Error("create should not be called for anonymous request")
			return nil, nil
		},
		updateFn: func(ctx context.Context, id int64, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
			t.Error("update should not be called for anonymous request")
			return nil, nil
		},
		deleteFn: func(ctx context.Context, id int64, requester *model.User) error {
			t.Error("delete should not be called for anonymous request")
			return nil
		},
		completeFn: func(ctx context.Context, id int64, requester *model.User) error {
			t.Error("complete should not be called for anonymous request")
			return nil
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/add"},
		{http.MethodPost, "/add"},
		{http.MethodGet, "/5/"},
		{http.MethodGet, "/5/edit/"},
		{http.MethodPost, "/5/edit/"},
		{http.MethodGet, "/5/delete/"},
		{http.MethodPost, "/5/delete/"},
		{http.MethodPost, "/5/complete/"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var w *httptest.ResponseRecorder
			if tt.method == http.MethodGet {
				w = getPage(t, h, tt.path, "")
			} else {
				w = postForm(t, h, tt.path, url.Values{"title": {"x"}, "body": {"y"}}, "")
			}

			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
			}
			want := "/accounts/login/?next=" + tt.path
			if loc := w.Header().Get("Location"); loc != want {
				t.Errorf("Location = %q, want %q", loc, want)
			}
		})
	}
}

func TestTicketRoutes_AnonymousPostWithoutCSRFRedirectsToLogin(t *testing.T) {
	svc := &mockTicketService{
		createFn: func(ctx context.Context, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
			t.Error("create should not be called for anonymous request")
			return nil, nil
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	for _, path := range []string{"/add", "/5/edit/", "/5/delete/", "/5/complete/"} {
		t.Run(path, func(t *testing.T) {
			form := url.Values{"title": {"x"}, "body": {"y"}}
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
			}
			want := "/accounts/login/?next=" + path
			if loc := w.Header().Get("Location"); loc != want {
				t.Errorf("Location = %q, want %q", loc, want)
			}
		})
	}
}

func TestTicketRoutes_AuthenticatedPostWithoutCSRFIsRejected(t *testing.T) {
	svc := &mockTicketService{
		createFn: func(ctx context.Context, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
			t.Error("create should not be called without a CSRF token")
			return nil, nil
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	form := url.Values{"title": {"x"}, "body": {"y"}}
	req := httptest.NewRequest(http.MethodPost, "/add", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: ownerSession})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestHTMLRoutes_RateLimitRendersHTMLPage(t *testing.T) {
	svc := &mockTicketService{
		listFn: func(ctx context.Context) ([]model.TicketWithAuthor, error) {
			return sampleTickets(), nil
		},
	}
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()
	h := newTestRouterWith(t, svc, newMockAuthService(), func(deps *RouterDeps) {
		deps.RateLimiter = rl
	})

	getPage(t, h, "/", ownerSession)
	w := getPage(t, h, "/", ownerSession)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
	doc := parseHTML(t, w)
	if doc.Find("#error-message").Length() != 1 {
		t.Error("429 page should render the error template")
	}
}

func TestTicketCreate_IgnoresSpoofedAuthor(t *testing.T) {
	var gotRequester *model.User
	var gotInput model.TicketInput
	svc := &mockTicketService{
		createFn: func(ctx context.Context, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
			gotRequester = requester
			gotInput = in
			return &model.Ticket{ID: 10, AuthorID: requester.ID}, nil
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	w := postForm(t, h, "/add", url.Values{
		"title":     {"New laptop"},
		"body":      {"Need a new laptop"},
		"author":    {"2"},
		"author_id": {"2"},
	}, ownerSession)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
	if gotRequester == nil || gotRequester.ID != ownerUser.ID {
		t.Errorf("requester = %+v, want owner", gotRequester)
	}
	if gotInput.Title != "New laptop" || gotInput.IsCompleted {
		t.Errorf("input = %+v", gotInput)
	}
}

func TestTicketCreate_ValidationErrorRerendersForm(t *testing.T) {
	svc := &mockTicketService{
		createFn: func(ctx context.Context, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
			return nil, model.NewValidationError(map[string]string{"title": "This field is required."})
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	w := postForm(t, h, "/add", url.Values{"title": {""}, "body": {"keep me"}}, ownerSession)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	doc := parseHTML(t, w)
	if got := doc.Find(`span.error[data-field="title"]`).Text(); got != "This field is required." {
		t.Errorf("title error = %q", got)
	}
	if got := doc.Find("#id_body").Text(); got != "keep me" {
		t.Errorf("body value = %q, want %q", got, "keep me")
	}
}

func TestTicketForm_IncludesCSRFToken(t *testing.T) {
	h := newTestRouter(t, &mockTicketService{}, newMockAuthService())

	w := getPage(t, h, "/add", ownerSession)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var cookieToken string
	for _, c := range w.Result().Cookies() {
		if c.Name == "csrf_token" {
			cookieToken = c.Value
		}
	}
	doc := parseHTML(t, w)
	formToken, _ := doc.Find(`#ticket-form input[name="csrf_token"]`).Attr("value")
	if cookieToken == "" || formToken != cookieToken {
		t.Errorf("form token = %q, cookie token = %q", formToken, cookieToken)
	}
}

func TestTicketPost_WithoutCSRFTokenIsForbidden(t *testing.T) {
	h := newTestRouter(t, &mockTicketService{}, newMockAuthService())

	req := httptest.NewRequest(http.MethodPost, "/add", strings.NewReader("title=a&body=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "session_id", Value: ownerSession})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestTicketEdit_DeniedReturns404(t *testing.T) {
	svc := &mockTicketService{
		getForRequesterFn: func(ctx context.Context, id int64, requester *model.User) (*model.Ticket, error) {
			return nil, model.NewTicketNotFoundError(id)
		},
		updateFn: func(ctx context.Context, id int64, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
			return nil, model.NewTicketNotFoundError(id)
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	if w := getPage(t, h, "/1/edit/", otherSession); w.Code != http.StatusNotFound {
		t.Errorf("GET status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := postForm(t, h, "/1/edit/", url.Values{"title": {"x"}, "body": {"y"}}, otherSession); w.Code != http.StatusNotFound {
		t.Errorf("POST status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestTicketEdit_FormPrefilledAndSubmit(t *testing.T) {
	var updatedID int64
	svc := &mockTicketService{
		getForRequesterFn: func(ctx context.Context, id int64, requester *model.User) (*model.Ticket, error) {
			return &model.Ticket{ID: id, Title: "Printer jam", Body: "tray 2", AuthorID: requester.ID}, nil
		},
		updateFn: func(ctx context.Context, id int64, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
			updatedID = id
			if !in.IsCompleted {
				t.Error("expected is_completed checkbox to be parsed")
			}
			return &model.Ticket{ID: id}, nil
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	doc := parseHTML(t, getPage(t, h, "/7/edit/", ownerSession))
	if v, _ := doc.Find("#id_title").Attr("value"); v != "Printer jam" {
		t.Errorf("title value = %q, want %q", v, "Printer jam")
	}

	w := postForm(t, h, "/7/edit/", url.Values{"title": {"Printer fixed"}, "body": {"ok"}, "is_completed": {"on"}}, ownerSession)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
	if updatedID != 7 {
		t.Errorf("updated id = %d, want 7", updatedID)
	}
}

func TestTicketDelete_ConfirmAndDelete(t *testing.T) {
	deleted := false
	svc := &mockTicketService{
		getForRequesterFn: func(ctx context.Context, id int64, requester *model.User) (*model.Ticket, error) {
			return &model.Ticket{ID: id, Title: "Printer jam"}, nil
		},
		deleteFn: func(ctx context.Context, id int64, requester *model.User) error {
			deleted = true
			if requester.ID != adminUser.ID {
				t.Errorf("requester = %d, want admin", requester.ID)
			}
			return nil
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	w := getPage(t, h, "/4/delete/", adminSession)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := parseHTML(t, w).Find("#delete-form .title").Text(); got != "Printer jam" {
		t.Errorf("confirm title = %q", got)
	}
	if deleted {
		t.Fatal("GET must not delete")
	}

	w = postForm(t, h, "/4/delete/", nil, adminSession)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
	if !deleted {
		t.Error("expected ticket to be deleted")
	}
}

func TestTicketComplete(t *testing.T) {
	svc := &mockTicketService{
		completeFn: func(ctx context.Context, id int64, requester *model.User) error {
			if id == 99 {
				return model.NewTicketNotFoundError(id)
			}
			return nil
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	if w := postForm(t, h, "/1/complete/", nil, ownerSession); w.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if w := postForm(t, h, "/99/complete/", nil, ownerSession); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestTicketDetail_RendersSanitizedMarkdown(t *testing.T) {
	svc := &mockTicketService{
		getDetailFn: func(ctx context.Context, id int64, requester *model.User) (*model.TicketWithAuthor, error) {
			return &model.TicketWithAuthor{
				Ticket:         model.Ticket{ID: id, Title: "Printer jam", Body: "**tray 2** <script>alert(1)</script>", AuthorID: requester.ID},
				AuthorUsername: "owner",
			}, nil
		},
	}
	h := newTestRouter(t, svc, newMockAuthService())

	w := getPage(t, h, "/2/", ownerSession)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	doc := parseHTML(t, w)
	if got := doc.Find(".body strong").Text(); got != "tray 2" {
		t.Errorf("strong = %q, want %q", got, "tray 2")
	}
	if doc.Find(".body script").Length() != 0 {
		t.Error("script tag must be removed")
	}
}

func TestTicketRoutes_InvalidIDReturns404(t *testing.T) {
	h := newTestRouter(t, &mockTicketService{}, newMockAuthService())

	if w := getPage(t, h, "/abc/edit/", ownerSession); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := getPage(t, h, "/no/such/page", ownerSession); w.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSecurityHeadersAreApplied(t *testing.T) {
	h := newTestRouter(t, &mockTicketService{}, newMockAuthService())

	w := getPage(t, h, "/", "")
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}
