package model

import "time"

// ClaimStatus は返還申請の状態を表す。
// pending 以外は終端状態で、以降の遷移はない。
type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "pending"
	ClaimStatusApproved ClaimStatus = "approved"
	ClaimStatusRejected ClaimStatus = "rejected"
	ClaimStatusCanceled ClaimStatus = "canceled"
)

// IsTerminal は終端状態かを返す。
func (s ClaimStatus) IsTerminal() bool {
	return s != ClaimStatusPending
}

// ClaimRequest は拾得物の返還申請を表す。
// 同一申請者・同一拾得物につき pending または approved の申請は1件まで。
type ClaimRequest struct {
	ID                 string
	FoundItemID        string
	LostItemID         *string
	ClaimantID         string
	OwnershipProof     string
	ContactDetails     string
	Status             ClaimStatus
	AdminNotes         string
	ProcessedBy        *string
	ProcessedAt        *time.Time
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ClaimFilter は返還申請一覧の検索条件を表す。
type ClaimFilter struct {
	ClaimantID  string
	FoundItemID string
	Status      ClaimStatus
	Limit       int
	Offset      int
}
