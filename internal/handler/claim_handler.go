package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/lostfound/internal/claim"
	"github.com/hitoshi/lostfound/internal/model"
)

// ClaimServiceInterface は返還申請ハンドラーが使用するサービスのインターフェース。
type ClaimServiceInterface interface {
	Create(ctx context.Context, in claim.CreateInput, claimant model.Actor) (*claim.Result, error)
	Process(ctx context.Context, claimID, adminID string, approve bool, notes string) (*claim.Result, error)
	Cancel(ctx context.Context, claimID string, actor model.Actor, reason string) (*model.ClaimRequest, error)
	Get(ctx context.Context, claimID string, actor model.Actor) (*model.ClaimRequest, error)
	List(ctx context.Context, filter model.ClaimFilter, actor model.Actor) ([]*model.ClaimRequest, error)
}

// ClaimHandler は返還申請のHTTPハンドラー。
type ClaimHandler struct {
	service ClaimServiceInterface
}

// NewClaimHandler はClaimHandlerの新しいインスタンスを生成する。
func NewClaimHandler(service ClaimServiceInterface) *ClaimHandler {
	return &ClaimHandler{service: service}
}

type createClaimRequest struct {
	FoundItemID    string `json:"found_item_id" validate:"required,uuid"`
	LostItemID     string `json:"lost_item_id" validate:"omitempty,uuid"`
	OwnershipProof string `json:"ownership_proof" validate:"required,max=2000"`
	ContactDetails string `json:"contact_details" validate:"required,max=500"`
}

type processClaimRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Notes   string `json:"notes" validate:"max=2000"`
}

type cancelClaimRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Create は拾得物の返還申請を作成する。
// POST /api/claims
func (h *ClaimHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req createClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.Create(r.Context(), claim.CreateInput{
		FoundItemID:    req.FoundItemID,
		LostItemID:     req.LostItemID,
		OwnershipProof: req.OwnershipProof,
		ContactDetails: req.ContactDetails,
	}, actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toClaimResponse(result.Claim), result.Warnings...)
}

// List は返還申請の一覧を返す。一般利用者は自分の申請のみ。
// GET /api/claims?status=&found_item_id=
func (h *ClaimHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	foundID, ok := queryID(w, r, "found_item_id")
	if !ok {
		return
	}
	limit, offset := pagination(r)
	claims, err := h.service.List(r.Context(), model.ClaimFilter{
		FoundItemID: foundID,
		Status:      model.ClaimStatus(r.URL.Query().Get("status")),
		Limit:       limit,
		Offset:      offset,
	}, actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]claimResponse, 0, len(claims))
	for _, c := range claims {
		out = append(out, toClaimResponse(c))
	}
	writeData(w, http.StatusOK, out)
}

// Get は返還申請を1件返す。
// GET /api/claims/{id}
func (h *ClaimHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewClaimNotFoundError)
	if !ok {
		return
	}
	c, err := h.service.Get(r.Context(), id, actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toClaimResponse(c))
}

// Process は返還申請を承認または却下する。
// POST /api/claims/{id}/process
func (h *ClaimHandler) Process(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewClaimNotFoundError)
	if !ok {
		return
	}
	var req processClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.Process(r.Context(), id, actor.UserID, *req.Approve, req.Notes)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toClaimResponse(result.Claim), result.Warnings...)
}

// Cancel は審査中の返還申請を取り下げる。
// POST /api/claims/{id}/cancel
func (h *ClaimHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewClaimNotFoundError)
	if !ok {
		return
	}
	var req cancelClaimRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.service.Cancel(r.Context(), id, actor, req.Reason)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toClaimResponse(c))
}
