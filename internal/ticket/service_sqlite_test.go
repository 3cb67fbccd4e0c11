package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/ticketdesk/internal/config"
	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/repository"
	"github.com/hitoshi/ticketdesk/internal/testutil"
)

// TestService_SQLite_RoundTrip は実リポジトリ経由で作成直後の取得内容を検証する。
func TestService_SQLite_RoundTrip(t *testing.T) {
	db := testutil.OpenInMemoryDB(t)
	users := repository.NewSQLUserRepo(db)
	u := &model.User{Username: "alice", PasswordHash: "x"}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}

	svc := NewService(repository.NewSQLTicketRepo(db), nil, config.CompletionPolicyOwner)

	before := time.Now().UTC().Add(-time.Second)
	created, err := svc.Create(context.Background(), u, model.TicketInput{Title: "X", Body: "Y"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := svc.GetForRequester(context.Background(), created.ID, u)
	if err != nil {
		t.Fatalf("GetForRequester() error = %v", err)
	}
	if got.Title != "X" || got.Body != "Y" || got.AuthorID != u.ID || got.IsCompleted {
		t.Errorf("got %+v, want title X body Y author %d incomplete", got, u.ID)
	}
	if got.Date.Before(before) || got.Date.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("Date = %v, want approximately now", got.Date)
	}
	if !got.Date.Equal(created.Date) {
		t.Errorf("stored Date = %v, want %v", got.Date, created.Date)
	}
}

// TestService_SQLite_ListMatchesLess はデータベースの並び順がLessと一致することを検証する。
func TestService_SQLite_ListMatchesLess(t *testing.T) {
	db := testutil.OpenInMemoryDB(t)
	users := repository.NewSQLUserRepo(db)
	u := &model.User{Username: "alice", PasswordHash: "x"}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}

	svc := NewService(repository.NewSQLTicketRepo(db), nil, config.CompletionPolicyOwner)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	dates := []time.Time{
		now.AddDate(0, 0, -1),
		now.AddDate(0, 0, -3),
		now,
		now.AddDate(0, 0, -1),
		now.Add(-90 * time.Minute).Add(250 * time.Microsecond),
	}
	for i, d := range dates {
		d := d
		svc.now = func() time.Time { return d }
		tk, err := svc.Create(context.Background(), u, model.TicketInput{Title: "t", Body: "b"})
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		if i == 2 {
			if err := svc.Complete(context.Background(), tk.ID, u); err != nil {
				t.Fatalf("Complete: %v", err)
			}
		}
	}

	list, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != len(dates) {
		t.Fatalf("len = %d, want %d", len(list), len(dates))
	}
	for i := 1; i < len(list); i++ {
		if Less(&list[i].Ticket, &list[i-1].Ticket) {
			t.Errorf("ticket %d sorts before ticket %d but is listed after it", list[i].ID, list[i-1].ID)
		}
	}
	if !list[len(list)-1].IsCompleted {
		t.Error("completed ticket should be listed last")
	}
}
