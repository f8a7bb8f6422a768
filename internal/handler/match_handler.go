package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/lostfound/internal/matching"
	"github.com/hitoshi/lostfound/internal/model"
)

// MatchServiceInterface はマッチハンドラーが使用するサービスのインターフェース。
type MatchServiceInterface interface {
	ConfirmMatch(ctx context.Context, lostID, foundID, adminID string) (*matching.MatchResult, error)
	RejectMatch(ctx context.Context, matchID, adminID string) (*model.Match, error)
	ListMatches(ctx context.Context, filter model.MatchFilter) ([]*model.Match, error)
}

// MatchHandler は管理者向けマッチ操作のHTTPハンドラー。
type MatchHandler struct {
	service MatchServiceInterface
}

// NewMatchHandler はMatchHandlerの新しいインスタンスを生成する。
func NewMatchHandler(service MatchServiceInterface) *MatchHandler {
	return &MatchHandler{service: service}
}

type confirmMatchRequest struct {
	LostItemID  string `json:"lost_item_id" validate:"required,uuid"`
	FoundItemID string `json:"found_item_id" validate:"required,uuid"`
}

// List はマッチの一覧を返す。
// GET /api/matches?status=&type=&lost_item_id=&found_item_id=
func (h *MatchHandler) List(w http.ResponseWriter, r *http.Request) {
	lostID, ok := queryID(w, r, "lost_item_id")
	if !ok {
		return
	}
	foundID, ok := queryID(w, r, "found_item_id")
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, offset := pagination(r)
	matches, err := h.service.ListMatches(r.Context(), model.MatchFilter{
		Status:      model.MatchStatus(q.Get("status")),
		MatchType:   model.MatchType(q.Get("type")),
		LostItemID:  lostID,
		FoundItemID: foundID,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toMatchResponses(matches))
}

// Confirm は紛失物と拾得物を手動でマッチさせる。
// POST /api/matches
func (h *MatchHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req confirmMatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.ConfirmMatch(r.Context(), req.LostItemID, req.FoundItemID, actor.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toMatchResponse(result.Match), result.Warnings...)
}

// Reject はマッチを却下する。
// POST /api/matches/{id}/reject
func (h *MatchHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewMatchNotFoundError)
	if !ok {
		return
	}
	match, err := h.service.RejectMatch(r.Context(), id, actor.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toMatchResponse(match))
}
