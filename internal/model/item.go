package model

import "time"

// LostItemStatus は紛失物のライフサイクル状態を表す。
type LostItemStatus string

const (
	// LostStatusLost は届出直後の未解決状態。
	LostStatusLost LostItemStatus = "lost"
	// LostStatusFoundReported は拾得届が紐付けられた状態。
	LostStatusFoundReported LostItemStatus = "foundReported"
	// LostStatusPendingClaim は管理者が拾得物とマッチさせ、返還待ちの状態。
	LostStatusPendingClaim LostItemStatus = "pending_claim"
	// LostStatusFound は届出者自身が解決済みにした状態。
	LostStatusFound LostItemStatus = "found"
	// LostStatusClaimed は返還申請が承認された状態。
	LostStatusClaimed LostItemStatus = "claimed"
)

// IsOpen は自動マッチングの対象となる未解決状態かを返す。
func (s LostItemStatus) IsOpen() bool {
	return s == LostStatusLost || s == LostStatusFoundReported
}

// FoundItemStatus は拾得物のライフサイクル状態を表す。
type FoundItemStatus string

const (
	// FoundStatusPending は届出直後で管理者の確認待ちの状態。
	FoundStatusPending FoundItemStatus = "pending"
	// FoundStatusVerified は管理者が保管を確認した状態。
	FoundStatusVerified FoundItemStatus = "verified"
	// FoundStatusRejected は管理者が届出を却下した状態。
	FoundStatusRejected FoundItemStatus = "rejected"
	// FoundStatusPendingClaim は返還申請の審査中の状態。
	FoundStatusPendingClaim FoundItemStatus = "pending_claim"
	// FoundStatusClaimed は持ち主に返還済みの状態。
	FoundStatusClaimed FoundItemStatus = "claimed"
)

// IsClaimable は返還申請を受け付ける状態かを返す。
func (s FoundItemStatus) IsClaimable() bool {
	return s == FoundStatusVerified || s == FoundStatusPending
}

// LostItem は利用者が届け出た紛失物を表す。
type LostItem struct {
	ID                   string
	ItemName             string
	Category             string
	Description          string
	LastLocation         string
	DateLost             time.Time
	ReportedBy           string
	Status               LostItemStatus
	MatchedWithFoundItem *string
	FoundReports         []string // この紛失物に対して届けられた拾得物IDの一覧（届出順）
	Images               []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FoundItem は届けられた拾得物を表す。
// Status が claimed のときに限り ClaimedBy が設定される。
type FoundItem struct {
	ID                     string
	ItemName               string
	Category               string
	Description            string
	FoundLocation          string
	FoundDate              time.Time
	CurrentHoldingLocation string
	ReportedBy             string
	Status                 FoundItemStatus
	MatchedWithLostItem    *string
	ClaimedBy              *string
	ClaimedAt              *time.Time
	Images                 []string
	IsVerified             bool
	VerifiedBy             *string
	ExternalRef            *string // 掲示板から取り込んだ場合のエントリ識別子
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// RevertStatus は審査中の申請がなくなったときに戻す状態を返す。
// 一度でも確認済みなら verified、未確認なら pending に戻す。
func (f *FoundItem) RevertStatus() FoundItemStatus {
	if f.IsVerified {
		return FoundStatusVerified
	}
	return FoundStatusPending
}

// LostItemFilter は紛失物一覧の検索条件を表す。
type LostItemFilter struct {
	Category   string
	Status     LostItemStatus
	ReportedBy string
	Query      string // 品名・説明の部分一致
	Limit      int
	Offset     int
}

// FoundItemFilter は拾得物一覧の検索条件を表す。
// Statusesが空の場合は状態で絞り込まない。
type FoundItemFilter struct {
	Category   string
	Statuses   []FoundItemStatus
	ReportedBy string
	Query      string
	Limit      int
	Offset     int
}

// StatusCount は状態別の件数集計を表す。
type StatusCount map[string]int
