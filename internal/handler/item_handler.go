package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hitoshi/lostfound/internal/item"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/model"
)

// multipartOverhead はmultipartの境界やヘッダーのために画像サイズ上限へ加える余裕。
const multipartOverhead = 64 << 10

// ItemServiceInterface は紛失物・拾得物ハンドラーが使用するサービスのインターフェース。
type ItemServiceInterface interface {
	ReportLost(ctx context.Context, in item.LostInput, reporterID string) (*item.LostReport, error)
	ReportFound(ctx context.Context, in item.FoundInput, reporterID string) (*item.FoundReport, error)
	GetLost(ctx context.Context, id string) (*model.LostItem, error)
	ListLost(ctx context.Context, filter model.LostItemFilter) ([]*model.LostItem, error)
	GetFound(ctx context.Context, id string, actor model.Actor) (*model.FoundItem, error)
	ListFound(ctx context.Context, filter model.FoundItemFilter, actor model.Actor) ([]*model.FoundItem, error)
	MarkLostFound(ctx context.Context, lostID string, actor model.Actor) (*model.LostItem, error)
	VerifyFound(ctx context.Context, foundID, adminID string, approve bool) (*model.FoundItem, error)
	DeleteLost(ctx context.Context, lostID string, actor model.Actor) error
	DeleteFound(ctx context.Context, foundID, adminID string) error
	AttachLostImage(ctx context.Context, lostID string, actor model.Actor, r io.Reader) (string, error)
	AttachFoundImage(ctx context.Context, foundID string, actor model.Actor, r io.Reader) (string, error)
	MaxImageBytes() int64
	Stats(ctx context.Context) (*item.Stats, error)
}

// LostItemMatchService は紛失物に紐付くマッチの参照に使用するサービスのインターフェース。
type LostItemMatchService interface {
	SearchCandidates(ctx context.Context, lostID string, actor model.Actor) ([]model.Candidate, error)
	ListForLostItem(ctx context.Context, lostID string, actor model.Actor) ([]*model.Match, error)
}

// ItemHandler は紛失物・拾得物のHTTPハンドラー。
type ItemHandler struct {
	items   ItemServiceInterface
	matches LostItemMatchService
}

// NewItemHandler はItemHandlerの新しいインスタンスを生成する。
func NewItemHandler(items ItemServiceInterface, matches LostItemMatchService) *ItemHandler {
	return &ItemHandler{items: items, matches: matches}
}

type reportLostRequest struct {
	ItemName     string `json:"item_name" validate:"required,max=200"`
	Category     string `json:"category" validate:"required,max=100"`
	Description  string `json:"description" validate:"max=2000"`
	LastLocation string `json:"last_location" validate:"max=200"`
	DateLost     string `json:"date_lost" validate:"required,datetime=2006-01-02"`
}

type reportFoundRequest struct {
	ItemName               string `json:"item_name" validate:"required,max=200"`
	Category               string `json:"category" validate:"required,max=100"`
	Description            string `json:"description" validate:"max=2000"`
	FoundLocation          string `json:"found_location" validate:"max=200"`
	CurrentHoldingLocation string `json:"current_holding_location" validate:"max=200"`
	FoundDate              string `json:"found_date" validate:"required,datetime=2006-01-02"`
	ForLostItemID          string `json:"for_lost_item_id" validate:"omitempty,uuid"`
}

type verificationRequest struct {
	Approve *bool `json:"approve" validate:"required"`
}

type imageResponse struct {
	URL string `json:"url"`
}

// ReportLost は紛失届を登録し、自動提案されたマッチとともに返す。
// POST /api/lost-items
func (h *ItemHandler) ReportLost(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req reportLostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	report, err := h.items.ReportLost(r.Context(), item.LostInput{
		ItemName:     req.ItemName,
		Category:     req.Category,
		Description:  req.Description,
		LastLocation: req.LastLocation,
		DateLost:     parseDate(req.DateLost),
	}, actor.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, reportResponse{
		Item:    toLostItemResponse(report.Item),
		Matches: toMatchResponses(report.Matches),
	}, report.Warnings...)
}

// ListLost は紛失物の一覧を返す。mine=true の場合は自分の届出のみ。
// GET /api/lost-items
func (h *ItemHandler) ListLost(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, offset := pagination(r)
	filter := model.LostItemFilter{
		Category: q.Get("category"),
		Status:   model.LostItemStatus(q.Get("status")),
		Query:    q.Get("q"),
		Limit:    limit,
		Offset:   offset,
	}
	if q.Get("mine") == "true" {
		filter.ReportedBy = actor.UserID
	}

	items, err := h.items.ListLost(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]lostItemResponse, 0, len(items))
	for _, l := range items {
		out = append(out, toLostItemResponse(l))
	}
	writeData(w, http.StatusOK, out)
}

// GetLost は紛失物を1件返す。
// GET /api/lost-items/{id}
func (h *ItemHandler) GetLost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, model.NewLostItemNotFoundError)
	if !ok {
		return
	}
	lost, err := h.items.GetLost(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toLostItemResponse(lost))
}

// DeleteLost は紛失届を削除する。届出者本人または管理者のみ。
// DELETE /api/lost-items/{id}
func (h *ItemHandler) DeleteLost(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewLostItemNotFoundError)
	if !ok {
		return
	}
	if err := h.items.DeleteLost(r.Context(), id, actor); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveLost は紛失物を届出者自身が見つけたものとして解決済みにする。
// POST /api/lost-items/{id}/resolve
func (h *ItemHandler) ResolveLost(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewLostItemNotFoundError)
	if !ok {
		return
	}
	lost, err := h.items.MarkLostFound(r.Context(), id, actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toLostItemResponse(lost))
}

// Candidates は紛失物に対する拾得物候補をスコア順に返す。
// GET /api/lost-items/{id}/candidates
func (h *ItemHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewLostItemNotFoundError)
	if !ok {
		return
	}
	candidates, err := h.matches.SearchCandidates(r.Context(), id, actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]candidateResponse, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, candidateResponse{FoundItem: toFoundItemResponse(c.FoundItem), Score: c.Score})
	}
	writeData(w, http.StatusOK, out)
}

// LostMatches は紛失物に紐付くマッチの一覧を返す。
// GET /api/lost-items/{id}/matches
func (h *ItemHandler) LostMatches(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewLostItemNotFoundError)
	if !ok {
		return
	}
	matches, err := h.matches.ListForLostItem(r.Context(), id, actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toMatchResponses(matches))
}

// UploadLostImage は紛失物に画像を添付する。
// POST /api/lost-items/{id}/images
func (h *ItemHandler) UploadLostImage(w http.ResponseWriter, r *http.Request) {
	h.uploadImage(w, r, model.NewLostItemNotFoundError, h.items.AttachLostImage)
}

// ReportFound は拾得届を登録し、自動提案されたマッチとともに返す。
// POST /api/found-items
func (h *ItemHandler) ReportFound(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req reportFoundRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	report, err := h.items.ReportFound(r.Context(), item.FoundInput{
		ItemName:               req.ItemName,
		Category:               req.Category,
		Description:            req.Description,
		FoundLocation:          req.FoundLocation,
		CurrentHoldingLocation: req.CurrentHoldingLocation,
		FoundDate:              parseDate(req.FoundDate),
		ForLostItemID:          req.ForLostItemID,
	}, actor.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, reportResponse{
		Item:    toFoundItemResponse(report.Item),
		Matches: toMatchResponses(report.Matches),
	}, report.Warnings...)
}

// ListFound は拾得物の一覧を返す。
// statusはカンマ区切りで複数指定できる。一般利用者には公開状態のもののみ返す。
// GET /api/found-items
func (h *ItemHandler) ListFound(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, offset := pagination(r)
	filter := model.FoundItemFilter{
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Limit:    limit,
		Offset:   offset,
	}
	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Statuses = append(filter.Statuses, model.FoundItemStatus(part))
			}
		}
	}
	if q.Get("mine") == "true" {
		filter.ReportedBy = actor.UserID
	}

	items, err := h.items.ListFound(r.Context(), filter, actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]foundItemResponse, 0, len(items))
	for _, f := range items {
		out = append(out, toFoundItemResponse(f))
	}
	writeData(w, http.StatusOK, out)
}

// GetFound は拾得物を1件返す。
// GET /api/found-items/{id}
func (h *ItemHandler) GetFound(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewFoundItemNotFoundError)
	if !ok {
		return
	}
	found, err := h.items.GetFound(r.Context(), id, actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toFoundItemResponse(found))
}

// DeleteFound は拾得物を削除する。
// DELETE /api/found-items/{id}
func (h *ItemHandler) DeleteFound(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewFoundItemNotFoundError)
	if !ok {
		return
	}
	if err := h.items.DeleteFound(r.Context(), id, actor.UserID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyFound は確認待ちの拾得物を承認または却下する。
// PUT /api/found-items/{id}/verification
func (h *ItemHandler) VerifyFound(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, model.NewFoundItemNotFoundError)
	if !ok {
		return
	}
	var req verificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	found, err := h.items.VerifyFound(r.Context(), id, actor.UserID, *req.Approve)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toFoundItemResponse(found))
}

// UploadFoundImage は拾得物に画像を添付する。
// POST /api/found-items/{id}/images
func (h *ItemHandler) UploadFoundImage(w http.ResponseWriter, r *http.Request) {
	h.uploadImage(w, r, model.NewFoundItemNotFoundError, h.items.AttachFoundImage)
}

// Stats は管理画面向けの状態別件数を返す。
// GET /api/admin/stats
func (h *ItemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.items.Stats(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]model.StatusCount{
		"lost_items":  stats.LostItems,
		"found_items": stats.FoundItems,
		"matches":     stats.Matches,
		"claims":      stats.Claims,
	})
}

type attachFunc func(ctx context.Context, id string, actor model.Actor, r io.Reader) (string, error)

// uploadImage はmultipartの "image" フィールドを読み取り、attachに渡す。
func (h *ItemHandler) uploadImage(w http.ResponseWriter, r *http.Request, notFound func(string) *model.APIError, attach attachFunc) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, notFound)
	if !ok {
		return
	}

	maxBytes := h.items.MaxImageBytes()
	limit := maxBytes + multipartOverhead
	if r.ContentLength > limit {
		handleServiceError(w, r, model.NewImageTooLargeError(maxBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	file, _, err := r.FormFile("image")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			handleServiceError(w, r, model.NewImageTooLargeError(maxBytes))
			return
		}
		middleware.WriteAPIError(w, model.NewInvalidImageError("imageフィールドに画像ファイルを指定してください"))
		return
	}
	defer file.Close()

	url, err := attach(r.Context(), id, actor, file)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, imageResponse{URL: url})
}
