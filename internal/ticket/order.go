package ticket

import (
	"sort"

	"github.com/hitoshi/ticketdesk/internal/model"
)

// Less は一覧の並び順を定義する。
// 未完了が先、同じ完了状態では作成日時の新しい順、同時刻はIDの大きい順。
// リポジトリのORDER BY句と同じ順序になる。
func Less(a, b *model.Ticket) bool {
	if a.IsCompleted != b.IsCompleted {
		return !a.IsCompleted
	}
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	return a.ID > b.ID
}

// Sort はチケットを一覧の並び順に整列する。
func Sort(tickets []model.TicketWithAuthor) {
	sort.SliceStable(tickets, func(i, j int) bool {
		return Less(&tickets[i].Ticket, &tickets[j].Ticket)
	})
}
