package ticket

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/ticketdesk/internal/config"
	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/repository"
	"github.com/hitoshi/ticketdesk/internal/validation"
)

// Service はチケットのライフサイクル操作を提供する。
// 特定チケットへの操作はすべてAuthorizeを通し、拒否は未検出と同じエラーにする。
type Service struct {
	repo             repository.TicketRepository
	metrics          metrics.MetricsCollector
	completionPolicy string
	now              func() time.Time
}

// NewService はServiceを生成する。
// completionPolicyはconfig.CompletionPolicyOwnerまたはconfig.CompletionPolicyAuthenticated。
func NewService(repo repository.TicketRepository, collector metrics.MetricsCollector, completionPolicy string) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if completionPolicy == "" {
		completionPolicy = config.CompletionPolicyOwner
	}
	return &Service{
		repo:             repo,
		metrics:          collector,
		completionPolicy: completionPolicy,
		now:              time.Now,
	}
}

// List は全チケットを一覧の並び順で返す。所有者による絞り込みは行わない。
func (s *Service) List(ctx context.Context) ([]model.TicketWithAuthor, error) {
	tickets, err := s.repo.ListWithAuthor(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

// GetForRequester は要求者がアクセスできるチケットを返す。
// 存在しない場合と権限がない場合はどちらもTICKET_NOT_FOUNDを返す。
func (s *Service) GetForRequester(ctx context.Context, id int64, requester *model.User) (*model.Ticket, error) {
	t, err := s.findOrNotFound(ctx, id)
	if err != nil {
		return nil, err
	}
	if Authorize(t, requester) != Permitted {
		return nil, model.NewTicketNotFoundError(id)
	}
	return t, nil
}

// findOrNotFound は認可を行わずにチケットを返す。存在しない場合はTICKET_NOT_FOUND。
func (s *Service) findOrNotFound(ctx context.Context, id int64) (*model.Ticket, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}
	if t == nil {
		return nil, model.NewTicketNotFoundError(id)
	}
	return t, nil
}

// GetDetail は作成者情報付きでチケットを返す。認可規則はGetForRequesterと同じ。
func (s *Service) GetDetail(ctx context.Context, id int64, requester *model.User) (*model.TicketWithAuthor, error) {
	t, err := s.repo.FindByIDWithAuthor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}
	if t == nil || Authorize(&t.Ticket, requester) != Permitted {
		return nil, model.NewTicketNotFoundError(id)
	}
	return t, nil
}

// Create はチケットを作成する。
// 作成者は常にrequester、作成日時は現在時刻（UTC、マイクロ秒精度）。
func (s *Service) Create(ctx context.Context, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
	if requester == nil {
		return nil, model.NewUnauthenticatedError()
	}

	in = normalize(in)
	if err := s.validate(in); err != nil {
		s.metrics.RecordTicketOperation(metrics.OpCreate, outcomeOf(err))
		return nil, err
	}

	t := &model.Ticket{
		Title:       in.Title,
		Body:        in.Body,
		AuthorID:    requester.ID,
		Date:        s.now().UTC().Truncate(time.Microsecond),
		IsCompleted: in.IsCompleted,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		s.metrics.RecordTicketOperation(metrics.OpCreate, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	s.metrics.RecordTicketOperation(metrics.OpCreate, metrics.OutcomeSuccess)
	slog.Info("ticket created",
		slog.Int64("ticket_id", t.ID),
		slog.Int64("user_id", requester.ID),
	)
	return t, nil
}

// Update はタイトル・本文・完了状態を更新する。
// 完了状態は一度trueになるとfalseに戻らない。作成者と作成日時は変更しない。
func (s *Service) Update(ctx context.Context, id int64, requester *model.User, in model.TicketInput) (*model.Ticket, error) {
	t, err := s.GetForRequester(ctx, id, requester)
	if err != nil {
		s.metrics.RecordTicketOperation(metrics.OpUpdate, outcomeOf(err))
		return nil, err
	}

	in = normalize(in)
	if err := s.validate(in); err != nil {
		s.metrics.RecordTicketOperation(metrics.OpUpdate, outcomeOf(err))
		return nil, err
	}

	t.Title = in.Title
	t.Body = in.Body
	t.IsCompleted = t.IsCompleted || in.IsCompleted

	if err := s.repo.Update(ctx, t); err != nil {
		s.metrics.RecordTicketOperation(metrics.OpUpdate, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}

	s.metrics.RecordTicketOperation(metrics.OpUpdate, metrics.OutcomeSuccess)
	slog.Info("ticket updated",
		slog.Int64("ticket_id", t.ID),
		slog.Int64("user_id", requester.ID),
	)
	return t, nil
}

// Complete はチケットを完了状態にする。すでに完了していても成功する。
// 認可範囲はcompletionPolicyに従う（owner: Authorizeと同じ、authenticated: 認証済みなら誰でも）。
func (s *Service) Complete(ctx context.Context, id int64, requester *model.User) error {
	if requester == nil {
		return model.NewUnauthenticatedError()
	}

	var err error
	if s.completionPolicy == config.CompletionPolicyAuthenticated {
		_, err = s.findOrNotFound(ctx, id)
	} else {
		_, err = s.GetForRequester(ctx, id, requester)
	}
	if err != nil {
		s.metrics.RecordTicketOperation(metrics.OpComplete, outcomeOf(err))
		return err
	}

	if err := s.repo.MarkCompleted(ctx, id); err != nil {
		s.metrics.RecordTicketOperation(metrics.OpComplete, metrics.OutcomeError)
		return fmt.Errorf("failed to complete ticket: %w", err)
	}

	s.metrics.RecordTicketOperation(metrics.OpComplete, metrics.OutcomeSuccess)
	slog.Info("ticket completed",
		slog.Int64("ticket_id", id),
		slog.Int64("user_id", requester.ID),
		slog.String("policy", s.completionPolicy),
	)
	return nil
}

// Delete はチケットを物理削除する。
func (s *Service) Delete(ctx context.Context, id int64, requester *model.User) error {
	if _, err := s.GetForRequester(ctx, id, requester); err != nil {
		s.metrics.RecordTicketOperation(metrics.OpDelete, outcomeOf(err))
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		s.metrics.RecordTicketOperation(metrics.OpDelete, metrics.OutcomeError)
		return fmt.Errorf("failed to delete ticket: %w", err)
	}

	s.metrics.RecordTicketOperation(metrics.OpDelete, metrics.OutcomeSuccess)
	slog.Info("ticket deleted",
		slog.Int64("ticket_id", id),
		slog.Int64("user_id", requester.ID),
	)
	return nil
}

func (s *Service) validate(in model.TicketInput) error {
	fields, err := validation.Struct(in)
	if err != nil {
		return err
	}
	if fields != nil {
		return model.NewValidationError(fields)
	}
	return nil
}

func normalize(in model.TicketInput) model.TicketInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Body = strings.TrimSpace(in.Body)
	return in
}

func outcomeOf(err error) string {
	switch {
	case model.IsCode(err, model.ErrCodeTicketNotFound):
		return metrics.OutcomeDenied
	case model.IsCode(err, model.ErrCodeValidation):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}
