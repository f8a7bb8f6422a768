// Package repository はデータ永続化のインターフェースを定義する。
//
// 条件付き更新メソッド（LockTo*, Transition*, Release* など）は
// 前提条件を満たした場合のみ行を更新し、更新できたかどうかをboolで返す。
// 前提条件の不成立はエラーではなく false で表す。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

// TxManager は複数レコードにまたがる更新を1トランザクションで実行する。
type TxManager interface {
	// WithinTx はfnをトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーを返す。
	// 既にトランザクション内のコンテキストで呼ばれた場合はそのトランザクションを再利用する。
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// ListAdmins は管理者ユーザーの一覧を返す。
	ListAdmins(ctx context.Context) ([]*model.User, error)
}

// LostItemRepository は紛失物の永続化インターフェース。
type LostItemRepository interface {
	// FindByID は指定IDの紛失物を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.LostItem, error)

	// Create は紛失物を作成する。
	Create(ctx context.Context, item *model.LostItem) error

	// List は条件に一致する紛失物を作成日時の降順で返す。
	List(ctx context.Context, filter model.LostItemFilter) ([]*model.LostItem, error)

	// ListOpenByCategory は自動マッチング対象（lost/foundReported かつ未マッチ）の紛失物を返す。
	ListOpenByCategory(ctx context.Context, category string) ([]*model.LostItem, error)

	// AppendFoundReport は拾得物IDをfound_reportsの末尾に追加し、
	// 状態が lost であれば foundReported に進める。
	AppendFoundReport(ctx context.Context, lostID, foundID string, now time.Time) (bool, error)

	// LockToFound はmatched_with_found_itemが未設定で状態が lost か foundReported の場合のみ
	// 拾得物に紐付け、状態を pending_claim にする。
	LockToFound(ctx context.Context, lostID, foundID string, now time.Time) (bool, error)

	// ReleaseMatch はmatched_with_found_itemがfoundIDの場合のみ紐付けを解除する。
	// 状態が pending_claim の場合は found_reports の有無に応じて foundReported または lost に戻す。
	ReleaseMatch(ctx context.Context, lostID, foundID string, now time.Time) (bool, error)

	// TransitionStatus は現在の状態がfromのいずれかの場合のみ状態をtoに更新する。
	TransitionStatus(ctx context.Context, id string, from []model.LostItemStatus, to model.LostItemStatus, now time.Time) (bool, error)

	// AddImage は画像URIを末尾に追加する。
	AddImage(ctx context.Context, id, uri string, now time.Time) error

	// Delete は紛失物を削除する。関連するマッチはCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// CountByStatus は状態別の件数を返す。
	CountByStatus(ctx context.Context) (model.StatusCount, error)
}

// FoundItemRepository は拾得物の永続化インターフェース。
type FoundItemRepository interface {
	// FindByID は指定IDの拾得物を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.FoundItem, error)

	// FindByExternalRef は掲示板エントリ識別子で拾得物を検索する。見つからない場合はnilを返す。
	FindByExternalRef(ctx context.Context, ref string) (*model.FoundItem, error)

	// Create は拾得物を作成する。
	Create(ctx context.Context, item *model.FoundItem) error

	// List は条件に一致する拾得物を作成日時の降順で返す。
	List(ctx context.Context, filter model.FoundItemFilter) ([]*model.FoundItem, error)

	// ListOpen はマッチング対象（pending/verified かつ未マッチ）の拾得物を返す。
	// categoryが空の場合はカテゴリで絞り込まない。
	// foundOnOrAfterがゼロ値でない場合はfound_dateがそれ以降のものに限定する。
	ListOpen(ctx context.Context, category string, foundOnOrAfter time.Time) ([]*model.FoundItem, error)

	// LockToLost はmatched_with_lost_itemが未設定かつ未返還の場合のみ紛失物に紐付ける。
	LockToLost(ctx context.Context, foundID, lostID string, now time.Time) (bool, error)

	// ReleaseMatch はmatched_with_lost_itemがlostIDの場合のみ紐付けを解除する。
	ReleaseMatch(ctx context.Context, foundID, lostID string, now time.Time) (bool, error)

	// TransitionStatus は現在の状態がfromのいずれかの場合のみ状態をtoに更新する。
	TransitionStatus(ctx context.Context, id string, from []model.FoundItemStatus, to model.FoundItemStatus, now time.Time) (bool, error)

	// MarkClaimed は状態が pending_claim の場合のみ claimed にし、返還先と返還日時を記録する。
	MarkClaimed(ctx context.Context, id, claimantID string, now time.Time) (bool, error)

	// Verify は状態が pending の場合のみ確認結果を記録する。
	// approveがtrueなら verified、falseなら rejected にする。
	Verify(ctx context.Context, id, adminID string, approve bool, now time.Time) (bool, error)

	// AddImage は画像URIを末尾に追加する。
	AddImage(ctx context.Context, id, uri string, now time.Time) error

	// Delete は拾得物を削除する。関連するマッチと申請はCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// CountByStatus は状態別の件数を返す。
	CountByStatus(ctx context.Context) (model.StatusCount, error)
}

// MatchRepository はマッチの永続化インターフェース。
type MatchRepository interface {
	// FindByID は指定IDのマッチを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Match, error)

	// FindActiveByPair は指定ペアの却下されていないマッチを返す。見つからない場合はnilを返す。
	FindActiveByPair(ctx context.Context, lostID, foundID string) (*model.Match, error)

	// Create はマッチを作成する。同一ペアの有効なマッチが既にある場合はErrDuplicateを返す。
	Create(ctx context.Context, match *model.Match) error

	// List は条件に一致するマッチを作成日時の降順で返す。
	List(ctx context.Context, filter model.MatchFilter) ([]*model.Match, error)

	// TransitionStatus は現在の状態がfromの場合のみ状態をtoに更新する。
	TransitionStatus(ctx context.Context, id string, from, to model.MatchStatus, now time.Time) (bool, error)

	// RejectCompeting はlostIDまたはfoundIDに関わる有効なマッチのうちkeepID以外を却下し、件数を返す。
	RejectCompeting(ctx context.Context, lostID, foundID, keepID string, now time.Time) (int, error)

	// CountByStatus は状態別の件数を返す。
	CountByStatus(ctx context.Context) (model.StatusCount, error)
}

// ClaimRepository は返還申請の永続化インターフェース。
type ClaimRepository interface {
	// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ClaimRequest, error)

	// FindActiveByClaimant は同一申請者の pending または approved の申請を返す。見つからない場合はnilを返す。
	FindActiveByClaimant(ctx context.Context, foundID, claimantID string) (*model.ClaimRequest, error)

	// Create は申請を作成する。有効な申請が既にある場合はErrDuplicateを返す。
	Create(ctx context.Context, claim *model.ClaimRequest) error

	// List は条件に一致する申請を作成日時の降順で返す。
	List(ctx context.Context, filter model.ClaimFilter) ([]*model.ClaimRequest, error)

	// CountPending は拾得物に対する審査中の申請数を返す。excludeIDの申請は数えない。
	CountPending(ctx context.Context, foundID, excludeID string) (int, error)

	// CountApproved は拾得物または紛失物に紐付く承認済み申請数を返す。空のIDは条件に含めない。
	CountApproved(ctx context.Context, foundID, lostID string) (int, error)

	// Process は状態が pending の場合のみ審査結果を記録する。
	Process(ctx context.Context, id string, to model.ClaimStatus, adminID, notes string, now time.Time) (bool, error)

	// Cancel は状態が pending の場合のみ取り下げる。
	Cancel(ctx context.Context, id, reason string, now time.Time) (bool, error)

	// RejectOtherPending は拾得物に対する審査中の申請のうちexceptID以外を却下し、却下した申請を返す。
	RejectOtherPending(ctx context.Context, foundID, exceptID, adminID, notes string, now time.Time) ([]*model.ClaimRequest, error)

	// CountByStatus は状態別の件数を返す。
	CountByStatus(ctx context.Context) (model.StatusCount, error)
}
