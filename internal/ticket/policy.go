// Package ticket はチケットの認可規則、並び順、ライフサイクル操作を提供する。
package ticket

import "github.com/hitoshi/ticketdesk/internal/model"

// Decision は特定チケットへのアクセス可否。
type Decision int

const (
	// NotFound は対象が存在しない場合と同じ扱いにすることを表す。
	// 権限がないことは利用者に開示しない。
	NotFound Decision = iota
	// Permitted はアクセスを許可する。
	Permitted
)

func (d Decision) String() string {
	if d == Permitted {
		return "permitted"
	}
	return "not_found"
}

// Authorize は閲覧・更新・削除（および所有者スコープの完了）の可否を判定する。
// 管理者はすべてのチケット、一般ユーザーは自分が作成したチケットのみ許可する。
// 未認証（requesterがnil）はNotFound。
func Authorize(t *model.Ticket, requester *model.User) Decision {
	if t == nil || requester == nil {
		return NotFound
	}
	if requester.IsSuperuser || t.AuthorID == requester.ID {
		return Permitted
	}
	return NotFound
}
