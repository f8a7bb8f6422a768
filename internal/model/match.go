package model

import "time"

// MatchType はマッチの生成方法を表す。
type MatchType string

const (
	// MatchTypeAutomatic はスコアリングによる自動提案。
	MatchTypeAutomatic MatchType = "automatic"
	// MatchTypeManual は管理者による手動確定。
	MatchTypeManual MatchType = "manual"
)

// MatchStatus はマッチの状態を表す。
type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusConfirmed MatchStatus = "confirmed"
	MatchStatusRejected  MatchStatus = "rejected"
)

// Match は紛失物と拾得物の対応候補を表す。
// Scoreは自動提案のみ意味を持ち、手動マッチでは0。
// MatchedByは手動マッチを確定した管理者ID。
type Match struct {
	ID          string
	LostItemID  string
	FoundItemID string
	MatchType   MatchType
	Score       int
	Status      MatchStatus
	MatchedBy   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsActive は却下されていないマッチかを返す。
func (m *Match) IsActive() bool {
	return m.Status != MatchStatusRejected
}

// MatchFilter はマッチ一覧の検索条件を表す。
type MatchFilter struct {
	Status      MatchStatus
	MatchType   MatchType
	LostItemID  string
	FoundItemID string
	Limit       int
	Offset      int
}

// Candidate はオンデマンド検索の結果1件を表す。
type Candidate struct {
	FoundItem *FoundItem
	Score     int
}
