package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lostfound/internal/auth"
	"github.com/hitoshi/lostfound/internal/claim"
	"github.com/hitoshi/lostfound/internal/item"
	"github.com/hitoshi/lostfound/internal/matching"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/model"
)

var (
	alice = model.Actor{UserID: "alice", Role: model.RoleUser}
	admin = model.Actor{UserID: "admin", Role: model.RoleAdmin}
)

const (
	testLostID           = "6f1c2b4e-0c1a-4b7e-9d2f-3a5b7c9d1e01"
	testFoundID          = "6f1c2b4e-0c1a-4b7e-9d2f-3a5b7c9d1e02"
	testClaimID          = "6f1c2b4e-0c1a-4b7e-9d2f-3a5b7c9d1e03"
	testMatchID          = "6f1c2b4e-0c1a-4b7e-9d2f-3a5b7c9d1e04"
	testProcessedMatchID = "6f1c2b4e-0c1a-4b7e-9d2f-3a5b7c9d1e05"
	testOtherClaimID     = "6f1c2b4e-0c1a-4b7e-9d2f-3a5b7c9d1e00"
)

// newRequest はURLパラメータと操作者を設定したテスト用リクエストを生成する。
func newRequest(method, target, body string, actor *model.Actor, params map[string]string) *http.Request {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if actor != nil {
		ctx = middleware.WithActor(ctx, *actor)
	}
	return req.WithContext(ctx)
}

type testEnvelope struct {
	Success  bool                  `json:"success"`
	Data     json.RawMessage       `json:"data"`
	Warnings []string              `json:"warnings"`
	Error    *middleware.ErrorBody `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return env
}

func decodeData(t *testing.T, env testEnvelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
}

// --- mocks ---

type mockAuthService struct {
	registerFn func(ctx context.Context, email, name, password string) (*auth.Session, error)
	loginFn    func(ctx context.Context, email, password string) (*auth.Session, error)
	meFn       func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, name, password string) (*auth.Session, error) {
	return m.registerFn(ctx, email, name, password)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.Session, error) {
	return m.loginFn(ctx, email, password)
}

func (m *mockAuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	return m.meFn(ctx, userID)
}

type mockItemService struct {
	reportLostFn    func(ctx context.Context, in item.LostInput, reporterID string) (*item.LostReport, error)
	reportFoundFn   func(ctx context.Context, in item.FoundInput, reporterID string) (*item.FoundReport, error)
	getLostFn       func(ctx context.Context, id string) (*model.LostItem, error)
	listLostFn      func(ctx context.Context, filter model.LostItemFilter) ([]*model.LostItem, error)
	getFoundFn      func(ctx context.Context, id string, actor model.Actor) (*model.FoundItem, error)
	listFoundFn     func(ctx context.Context, filter model.FoundItemFilter, actor model.Actor) ([]*model.FoundItem, error)
	markLostFoundFn func(ctx context.Context, lostID string, actor model.Actor) (*model.LostItem, error)
	verifyFoundFn   func(ctx context.Context, foundID, adminID string, approve bool) (*model.FoundItem, error)
	deleteLostFn    func(ctx context.Context, lostID string, actor model.Actor) error
	deleteFoundFn   func(ctx context.Context, foundID, adminID string) error
	attachLostFn    func(ctx context.Context, lostID string, actor model.Actor, r io.Reader) (string, error)
	attachFoundFn   func(ctx context.Context, foundID string, actor model.Actor, r io.Reader) (string, error)
	maxImageBytes   int64
	statsFn         func(ctx context.Context) (*item.Stats, error)
}

func (m *mockItemService) ReportLost(ctx context.Context, in item.LostInput, reporterID string) (*item.LostReport, error) {
	return m.reportLostFn(ctx, in, reporterID)
}

func (m *mockItemService) ReportFound(ctx context.Context, in item.FoundInput, reporterID string) (*item.FoundReport, error) {
	return m.reportFoundFn(ctx, in, reporterID)
}

func (m *mockItemService) GetLost(ctx context.Context, id string) (*model.LostItem, error) {
	return m.getLostFn(ctx, id)
}

func (m *mockItemService) ListLost(ctx context.Context, filter model.LostItemFilter) ([]*model.LostItem, error) {
	return m.listLostFn(ctx, filter)
}

func (m *mockItemService) GetFound(ctx context.Context, id string, actor model.Actor) (*model.FoundItem, error) {
	return m.getFoundFn(ctx, id, actor)
}

func (m *mockItemService) ListFound(ctx context.Context, filter model.FoundItemFilter, actor model.Actor) ([]*model.FoundItem, error) {
	return m.listFoundFn(ctx, filter, actor)
}

func (m *mockItemService) MarkLostFound(ctx context.Context, lostID string, actor model.Actor) (*model.LostItem, error) {
	return m.markLostFoundFn(ctx, lostID, actor)
}

func (m *mockItemService) VerifyFound(ctx context.Context, foundID, adminID string, approve bool) (*model.FoundItem, error) {
	return m.verifyFoundFn(ctx, foundID, adminID, approve)
}

func (m *mockItemService) DeleteLost(ctx context.Context, lostID string, actor model.Actor) error {
	return m.deleteLostFn(ctx, lostID, actor)
}

func (m *mockItemService) DeleteFound(ctx context.Context, foundID, adminID string) error {
	return m.deleteFoundFn(ctx, foundID, adminID)
}

func (m *mockItemService) AttachLostImage(ctx context.Context, lostID string, actor model.Actor, r io.Reader) (string, error) {
	return m.attachLostFn(ctx, lostID, actor, r)
}

func (m *mockItemService) AttachFoundImage(ctx context.Context, foundID string, actor model.Actor, r io.Reader) (string, error) {
	return m.attachFoundFn(ctx, foundID, actor, r)
}

func (m *mockItemService) MaxImageBytes() int64 { return m.maxImageBytes }

func (m *mockItemService) Stats(ctx context.Context) (*item.Stats, error) {
	return m.statsFn(ctx)
}

type mockMatchService struct {
	confirmFn          func(ctx context.Context, lostID, foundID, adminID string) (*matching.MatchResult, error)
	rejectFn           func(ctx context.Context, matchID, adminID string) (*model.Match, error)
	listFn             func(ctx context.Context, filter model.MatchFilter) ([]*model.Match, error)
	searchCandidatesFn func(ctx context.Context, lostID string, actor model.Actor) ([]model.Candidate, error)
	listForLostFn      func(ctx context.Context, lostID string, actor model.Actor) ([]*model.Match, error)
}

func (m *mockMatchService) ConfirmMatch(ctx context.Context, lostID, foundID, adminID string) (*matching.MatchResult, error) {
	return m.confirmFn(ctx, lostID, foundID, adminID)
}

func (m *mockMatchService) RejectMatch(ctx context.Context, matchID, adminID string) (*model.Match, error) {
	return m.rejectFn(ctx, matchID, adminID)
}

func (m *mockMatchService) ListMatches(ctx context.Context, filter model.MatchFilter) ([]*model.Match, error) {
	return m.listFn(ctx, filter)
}

func (m *mockMatchService) SearchCandidates(ctx context.Context, lostID string, actor model.Actor) ([]model.Candidate, error) {
	return m.searchCandidatesFn(ctx, lostID, actor)
}

func (m *mockMatchService) ListForLostItem(ctx context.Context, lostID string, actor model.Actor) ([]*model.Match, error) {
	return m.listForLostFn(ctx, lostID, actor)
}

type mockClaimService struct {
	createFn  func(ctx context.Context, in claim.CreateInput, claimant model.Actor) (*claim.Result, error)
	processFn func(ctx context.Context, claimID, adminID string, approve bool, notes string) (*claim.Result, error)
	cancelFn  func(ctx context.Context, claimID string, actor model.Actor, reason string) (*model.ClaimRequest, error)
	getFn     func(ctx context.Context, claimID string, actor model.Actor) (*model.ClaimRequest, error)
	listFn    func(ctx context.Context, filter model.ClaimFilter, actor model.Actor) ([]*model.ClaimRequest, error)
}

func (m *mockClaimService) Create(ctx context.Context, in claim.CreateInput, claimant model.Actor) (*claim.Result, error) {
	return m.createFn(ctx, in, claimant)
}

func (m *mockClaimService) Process(ctx context.Context, claimID, adminID string, approve bool, notes string) (*claim.Result, error) {
	return m.processFn(ctx, claimID, adminID, approve, notes)
}

func (m *mockClaimService) Cancel(ctx context.Context, claimID string, actor model.Actor, reason string) (*model.ClaimRequest, error) {
	return m.cancelFn(ctx, claimID, actor, reason)
}

func (m *mockClaimService) Get(ctx context.Context, claimID string, actor model.Actor) (*model.ClaimRequest, error) {
	return m.getFn(ctx, claimID, actor)
}

func (m *mockClaimService) List(ctx context.Context, filter model.ClaimFilter, actor model.Actor) ([]*model.ClaimRequest, error) {
	return m.listFn(ctx, filter, actor)
}
