package handler

import (
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

// dateLayout は紛失日・拾得日の入出力形式。
const dateLayout = "2006-01-02"

type lostItemResponse struct {
	ID                   string    `json:"id"`
	ItemName             string    `json:"item_name"`
	Category             string    `json:"category"`
	Description          string    `json:"description"`
	LastLocation         string    `json:"last_location"`
	DateLost             string    `json:"date_lost"`
	ReportedBy           string    `json:"reported_by"`
	Status               string    `json:"status"`
	MatchedWithFoundItem *string   `json:"matched_with_found_item"`
	FoundReports         []string  `json:"found_reports"`
	Images               []string  `json:"images"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type foundItemResponse struct {
	ID                     string     `json:"id"`
	ItemName               string     `json:"item_name"`
	Category               string     `json:"category"`
	Description            string     `json:"description"`
	FoundLocation          string     `json:"found_location"`
	FoundDate              string     `json:"found_date"`
	CurrentHoldingLocation string     `json:"current_holding_location"`
	ReportedBy             string     `json:"reported_by"`
	Status                 string     `json:"status"`
	MatchedWithLostItem    *string    `json:"matched_with_lost_item"`
	ClaimedBy              *string    `json:"claimed_by"`
	ClaimedAt              *time.Time `json:"claimed_at"`
	Images                 []string   `json:"images"`
	IsVerified             bool       `json:"is_verified"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

type matchResponse struct {
	ID          string    `json:"id"`
	LostItemID  string    `json:"lost_item_id"`
	FoundItemID string    `json:"found_item_id"`
	MatchType   string    `json:"match_type"`
	Score       int       `json:"score"`
	Status      string    `json:"status"`
	MatchedBy   *string   `json:"matched_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type claimResponse struct {
	ID                 string     `json:"id"`
	FoundItemID        string     `json:"found_item_id"`
	LostItemID         *string    `json:"lost_item_id"`
	ClaimantID         string     `json:"claimant_id"`
	OwnershipProof     string     `json:"ownership_proof"`
	ContactDetails     string     `json:"contact_details"`
	Status             string     `json:"status"`
	AdminNotes         string     `json:"admin_notes,omitempty"`
	ProcessedBy        *string    `json:"processed_by"`
	ProcessedAt        *time.Time `json:"processed_at"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type candidateResponse struct {
	FoundItem foundItemResponse `json:"found_item"`
	Score     int               `json:"score"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// reportResponse は届出結果。自動提案されたマッチを含む。
type reportResponse struct {
	Item    any             `json:"item"`
	Matches []matchResponse `json:"matches"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toLostItemResponse(l *model.LostItem) lostItemResponse {
	return lostItemResponse{
		ID:                   l.ID,
		ItemName:             l.ItemName,
		Category:             l.Category,
		Description:          l.Description,
		LastLocation:         l.LastLocation,
		DateLost:             l.DateLost.Format(dateLayout),
		ReportedBy:           l.ReportedBy,
		Status:               string(l.Status),
		MatchedWithFoundItem: l.MatchedWithFoundItem,
		FoundReports:         nonNil(l.FoundReports),
		Images:               nonNil(l.Images),
		CreatedAt:            l.CreatedAt,
		UpdatedAt:            l.UpdatedAt,
	}
}

func toFoundItemResponse(f *model.FoundItem) foundItemResponse {
	return foundItemResponse{
		ID:                     f.ID,
		ItemName:               f.ItemName,
		Category:               f.Category,
		Description:            f.Description,
		FoundLocation:          f.FoundLocation,
		FoundDate:              f.FoundDate.Format(dateLayout),
		CurrentHoldingLocation: f.CurrentHoldingLocation,
		ReportedBy:             f.ReportedBy,
		Status:                 string(f.Status),
		MatchedWithLostItem:    f.MatchedWithLostItem,
		ClaimedBy:              f.ClaimedBy,
		ClaimedAt:              f.ClaimedAt,
		Images:                 nonNil(f.Images),
		IsVerified:             f.IsVerified,
		CreatedAt:              f.CreatedAt,
		UpdatedAt:              f.UpdatedAt,
	}
}

func toMatchResponse(m *model.Match) matchResponse {
	return matchResponse{
		ID:          m.ID,
		LostItemID:  m.LostItemID,
		FoundItemID: m.FoundItemID,
		MatchType:   string(m.MatchType),
		Score:       m.Score,
		Status:      string(m.Status),
		MatchedBy:   m.MatchedBy,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toMatchResponses(matches []*model.Match) []matchResponse {
	out := make([]matchResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, toMatchResponse(m))
	}
	return out
}

func toClaimResponse(c *model.ClaimRequest) claimResponse {
	return claimResponse{
		ID:                 c.ID,
		FoundItemID:        c.FoundItemID,
		LostItemID:         c.LostItemID,
		ClaimantID:         c.ClaimantID,
		OwnershipProof:     c.OwnershipProof,
		ContactDetails:     c.ContactDetails,
		Status:             string(c.Status),
		AdminNotes:         c.AdminNotes,
		ProcessedBy:        c.ProcessedBy,
		ProcessedAt:        c.ProcessedAt,
		CancellationReason: c.CancellationReason,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role)}
}

// parseDate はYYYY-MM-DD形式の日付をUTCの0時として解釈する。
// 形式はvalidateタグで検証済みの前提。
func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}
