package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/lostfound/internal/model"
)

// UUID形式でないパスのidは該当リソースの404になり、サービスは呼ばれないこと
func TestMalformedPathID(t *testing.T) {
	items := NewItemHandler(&mockItemService{maxImageBytes: 1 << 20}, &mockMatchService{})
	claims := NewClaimHandler(&mockClaimService{})
	matches := NewMatchHandler(&mockMatchService{})

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		method   string
		body     string
		actor    *model.Actor
		wantCode string
	}{
		{"紛失物の取得", items.GetLost, http.MethodGet, "", &alice, model.ErrCodeLostItemNotFound},
		{"紛失物の削除", items.DeleteLost, http.MethodDelete, "", &alice, model.ErrCodeLostItemNotFound},
		{"紛失物の解決", items.ResolveLost, http.MethodPost, "", &alice, model.ErrCodeLostItemNotFound},
		{"候補検索", items.Candidates, http.MethodGet, "", &alice, model.ErrCodeLostItemNotFound},
		{"紛失物のマッチ一覧", items.LostMatches, http.MethodGet, "", &alice, model.ErrCodeLostItemNotFound},
		{"紛失物の画像添付", items.UploadLostImage, http.MethodPost, "", &alice, model.ErrCodeLostItemNotFound},
		{"拾得物の取得", items.GetFound, http.MethodGet, "", &alice, model.ErrCodeFoundItemNotFound},
		{"拾得物の削除", items.DeleteFound, http.MethodDelete, "", &admin, model.ErrCodeFoundItemNotFound},
		{"拾得物の確認", items.VerifyFound, http.MethodPut, `{"approve":true}`, &admin, model.ErrCodeFoundItemNotFound},
		{"拾得物の画像添付", items.UploadFoundImage, http.MethodPost, "", &admin, model.ErrCodeFoundItemNotFound},
		{"申請の取得", claims.Get, http.MethodGet, "", &alice, model.ErrCodeClaimNotFound},
		{"申請の処理", claims.Process, http.MethodPost, `{"approve":true}`, &admin, model.ErrCodeClaimNotFound},
		{"申請の取り下げ", claims.Cancel, http.MethodPost, "", &alice, model.ErrCodeClaimNotFound},
		{"マッチの却下", matches.Reject, http.MethodPost, "", &admin, model.ErrCodeMatchNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, newRequest(tt.method, "/api/x/abc", tt.body, tt.actor, map[string]string{"id": "abc"}))
			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", rec.Code)
			}
			if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", env.Error, tt.wantCode)
			}
		})
	}
}

// UUID形式でないリクエストボディやクエリのidは400になり、サービスは呼ばれないこと
func TestMalformedBodyAndQueryID(t *testing.T) {
	items := NewItemHandler(&mockItemService{}, &mockMatchService{})
	claims := NewClaimHandler(&mockClaimService{})
	matches := NewMatchHandler(&mockMatchService{})

	tests := []struct {
		name    string
		handler http.HandlerFunc
		method  string
		target  string
		body    string
		actor   *model.Actor
	}{
		{"申請の拾得物id", claims.Create, http.MethodPost, "/api/claims",
			`{"found_item_id":"x","ownership_proof":"sticker","contact_details":"alice@example.edu"}`, &alice},
		{"申請の紛失物id", claims.Create, http.MethodPost, "/api/claims",
			`{"found_item_id":"` + testFoundID + `","lost_item_id":"x","ownership_proof":"sticker","contact_details":"alice@example.edu"}`, &alice},
		{"手動マッチの紛失物id", matches.Confirm, http.MethodPost, "/api/matches",
			`{"lost_item_id":"x","found_item_id":"` + testFoundID + `"}`, &admin},
		{"拾得届の対象紛失物id", items.ReportFound, http.MethodPost, "/api/found-items",
			`{"item_name":"Keys","category":"Keys","found_date":"2025-04-05","for_lost_item_id":"x"}`, &alice},
		{"申請一覧のクエリ", claims.List, http.MethodGet, "/api/claims?found_item_id=x", "", &alice},
		{"マッチ一覧の紛失物クエリ", matches.List, http.MethodGet, "/api/matches?lost_item_id=x", "", &admin},
		{"マッチ一覧の拾得物クエリ", matches.List, http.MethodGet, "/api/matches?found_item_id=x", "", &admin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, newRequest(tt.method, tt.target, tt.body, tt.actor, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != model.ErrCodeValidation {
				t.Errorf("error = %+v, want %s", env.Error, model.ErrCodeValidation)
			}
		})
	}
}
