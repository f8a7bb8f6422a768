package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/lostfound/internal/claim"
	"github.com/hitoshi/lostfound/internal/model"
)

func testClaim(status model.ClaimStatus) *model.ClaimRequest {
	return &model.ClaimRequest{
		ID:             testClaimID,
		FoundItemID:    testFoundID,
		ClaimantID:     "alice",
		OwnershipProof: "sticker on the lid",
		ContactDetails: "alice@example.edu",
		Status:         status,
	}
}

func TestClaimCreate(t *testing.T) {
	var got claim.CreateInput
	h := NewClaimHandler(&mockClaimService{
		createFn: func(_ context.Context, in claim.CreateInput, claimant model.Actor) (*claim.Result, error) {
			got = in
			if claimant != alice {
				t.Errorf("claimant = %+v", claimant)
			}
			return &claim.Result{Claim: testClaim(model.ClaimStatusPending)}, nil
		},
	})

	rec := httptest.NewRecorder()
	h.Create(rec, newRequest(http.MethodPost, "/api/claims",
		`{"found_item_id":"`+testFoundID+`","lost_item_id":"`+testLostID+`","ownership_proof":"sticker on the lid","contact_details":"alice@example.edu"}`, &alice, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body=%s", rec.Code, rec.Body.String())
	}
	want := claim.CreateInput{FoundItemID: testFoundID, LostItemID: testLostID, OwnershipProof: "sticker on the lid", ContactDetails: "alice@example.edu"}
	if got != want {
		t.Errorf("input = %+v, want %+v", got, want)
	}
}

// 重複申請は409とともに既存の申請IDを返すこと
func TestClaimCreate_Duplicate(t *testing.T) {
	h := NewClaimHandler(&mockClaimService{
		createFn: func(context.Context, claim.CreateInput, model.Actor) (*claim.Result, error) {
			return nil, model.NewDuplicateClaimError(testOtherClaimID)
		},
	})

	rec := httptest.NewRecorder()
	h.Create(rec, newRequest(http.MethodPost, "/api/claims",
		`{"found_item_id":"`+testFoundID+`","ownership_proof":"sticker","contact_details":"alice@example.edu"}`, &alice, nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error.Code != model.ErrCodeDuplicateClaim || env.Error.ResourceID != testOtherClaimID {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestClaimCreate_Validation(t *testing.T) {
	h := NewClaimHandler(&mockClaimService{})
	rec := httptest.NewRecorder()
	h.Create(rec, newRequest(http.MethodPost, "/api/claims", `{"found_item_id":"`+testFoundID+`"}`, &alice, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestClaimProcess(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantApprove bool
	}{
		{"承認", `{"approve":true,"notes":"student id checked"}`, http.StatusOK, true},
		{"却下", `{"approve":false}`, http.StatusOK, false},
		{"approveの省略は400", `{"notes":"x"}`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewClaimHandler(&mockClaimService{
				processFn: func(_ context.Context, claimID, adminID string, approve bool, _ string) (*claim.Result, error) {
					if approve != tt.wantApprove {
						t.Errorf("approve = %v, want %v", approve, tt.wantApprove)
					}
					status := model.ClaimStatusRejected
					if approve {
						status = model.ClaimStatusApproved
					}
					return &claim.Result{Claim: testClaim(status)}, nil
				},
			})
			rec := httptest.NewRecorder()
			h.Process(rec, newRequest(http.MethodPost, "/api/claims/"+testClaimID+"/process", tt.body, &admin, map[string]string{"id": testClaimID}))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

// 本文なしの取り下げを受け付けること
func TestClaimCancel_EmptyBody(t *testing.T) {
	var gotReason = "unset"
	h := NewClaimHandler(&mockClaimService{
		cancelFn: func(_ context.Context, _ string, _ model.Actor, reason string) (*model.ClaimRequest, error) {
			gotReason = reason
			return testClaim(model.ClaimStatusCanceled), nil
		},
	})

	rec := httptest.NewRecorder()
	h.Cancel(rec, newRequest(http.MethodPost, "/api/claims/"+testClaimID+"/cancel", "", &alice, map[string]string{"id": testClaimID}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if gotReason != "" {
		t.Errorf("reason = %q, want empty", gotReason)
	}
}

func TestClaimGet_Forbidden(t *testing.T) {
	h := NewClaimHandler(&mockClaimService{
		getFn: func(context.Context, string, model.Actor) (*model.ClaimRequest, error) {
			return nil, model.NewClaimForbiddenError()
		},
	})
	rec := httptest.NewRecorder()
	h.Get(rec, newRequest(http.MethodGet, "/api/claims/"+testClaimID, "", &alice, map[string]string{"id": testClaimID}))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
