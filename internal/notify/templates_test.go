package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

func TestMatchesProposed(t *testing.T) {
	tpl := MustTemplates("https://lostfound.example/")
	owner := &model.User{Name: "Alice", Email: "alice@uni.example"}
	lost := &model.LostItem{ID: "lost-1", ItemName: "MacBook", Category: "Electronics"}
	found := &model.FoundItem{
		ItemName: "Laptop <script>", FoundLocation: "Central Library",
		FoundDate: time.Date(2025, 4, 6, 0, 0, 0, 0, time.UTC),
	}

	msg, err := tpl.MatchesProposed(owner, []ProposedMatch{{Lost: lost, Found: found, Score: 80}})
	if err != nil {
		t.Fatalf("MatchesProposed returned error: %v", err)
	}
	if msg.To != "alice@uni.example" {
		t.Errorf("To = %q", msg.To)
	}
	if msg.Subject != "Possible match for your lost MacBook" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	for _, want := range []string{"Hello Alice", "2025-04-06", "confidence 80%", "https://lostfound.example/lost-items/lost-1"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("HTML does not contain %q:\n%s", want, msg.HTML)
		}
	}
	// html/templateによりエスケープされること
	if strings.Contains(msg.HTML, "<script>") {
		t.Error("item name must be escaped")
	}

	if _, err := tpl.MatchesProposed(owner, nil); err == nil {
		t.Error("expected error for empty matches")
	}
}

func TestClaimProcessed(t *testing.T) {
	tpl := MustTemplates("https://lostfound.example")
	claimant := &model.User{Name: "Bob", Email: "bob@uni.example"}
	found := &model.FoundItem{ItemName: "Umbrella", CurrentHoldingLocation: "Security Office"}

	approved, err := tpl.ClaimProcessed(claimant, &model.ClaimRequest{Status: model.ClaimStatusApproved}, found)
	if err != nil {
		t.Fatalf("ClaimProcessed returned error: %v", err)
	}
	if approved.Subject != "Your claim was approved" || !strings.Contains(approved.HTML, "Security Office") {
		t.Errorf("unexpected approved message: %+v", approved)
	}

	rejected, err := tpl.ClaimProcessed(claimant, &model.ClaimRequest{Status: model.ClaimStatusRejected, AdminNotes: "proof did not match"}, found)
	if err != nil {
		t.Fatalf("ClaimProcessed returned error: %v", err)
	}
	if rejected.Subject != "Your claim was not approved" || !strings.Contains(rejected.HTML, "proof did not match") {
		t.Errorf("unexpected rejected message: %+v", rejected)
	}
}

func TestMatchConfirmedAndClaimSubmitted(t *testing.T) {
	tpl := MustTemplates("https://lostfound.example")
	lost := &model.LostItem{ID: "lost-1", Category: "Keys"}
	found := &model.FoundItem{ID: "found-1", ItemName: "Key ring", Category: "Keys", CurrentHoldingLocation: "Front desk"}

	msg, err := tpl.MatchConfirmed(&model.User{Email: "a@uni.example"}, lost, found)
	if err != nil {
		t.Fatalf("MatchConfirmed returned error: %v", err)
	}
	// 品名がない場合はカテゴリで表示する
	if msg.Subject != "Your lost keys may have been found" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "/found-items/found-1") {
		t.Errorf("HTML missing claim link: %s", msg.HTML)
	}

	admin, err := tpl.ClaimSubmitted(&model.User{Email: "admin@uni.example"}, &model.ClaimRequest{ID: "claim-1"}, found)
	if err != nil {
		t.Fatalf("ClaimSubmitted returned error: %v", err)
	}
	if admin.To != "admin@uni.example" || !strings.Contains(admin.HTML, "/admin/claims/claim-1") {
		t.Errorf("unexpected admin message: %+v", admin)
	}
}
