package matching

import (
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// 図書館で紛失したMacBookの例が80点になること
func TestScore_MacBookExample(t *testing.T) {
	lost := &model.LostItem{
		Category:     "Electronics",
		Description:  "silver macbook pro 13 inch",
		LastLocation: "Library",
		DateLost:     date(2025, 4, 5),
	}
	found := &model.FoundItem{
		Category:      "Electronics",
		Description:   "macbook pro silver laptop",
		FoundLocation: "Central Library",
		FoundDate:     date(2025, 4, 6),
	}

	s := NewScorer(DefaultWeights())
	got := s.Score(lost, found)
	if got != 80 {
		t.Errorf("Score = %d, want 80", got)
	}
	if got <= DefaultThreshold {
		t.Errorf("score %d should be above threshold %d", got, DefaultThreshold)
	}
}

func TestScore_Signals(t *testing.T) {
	base := date(2025, 4, 5)
	tests := []struct {
		name  string
		lost  *model.LostItem
		found *model.FoundItem
		want  int
	}{
		{
			name:  "カテゴリのみ一致",
			lost:  &model.LostItem{Category: "Keys"},
			found: &model.FoundItem{Category: " keys "},
			want:  30,
		},
		{
			name:  "何も一致しない",
			lost:  &model.LostItem{Category: "Keys", LastLocation: "Gym", DateLost: base},
			found: &model.FoundItem{Category: "Books", FoundLocation: "Cafeteria", FoundDate: base.AddDate(0, 0, 30)},
			want:  0,
		},
		{
			name:  "日付差3日以内",
			lost:  &model.LostItem{DateLost: base},
			found: &model.FoundItem{FoundDate: base.AddDate(0, 0, 3)},
			want:  10,
		},
		{
			name:  "日付差7日以内（拾得日が紛失日より前でも絶対値で判定）",
			lost:  &model.LostItem{DateLost: base},
			found: &model.FoundItem{FoundDate: base.AddDate(0, 0, -6)},
			want:  5,
		},
		{
			name:  "場所は逆方向の包含も一致",
			lost:  &model.LostItem{LastLocation: "Engineering Building Room 204"},
			found: &model.FoundItem{FoundLocation: "engineering building"},
			want:  20,
		},
		{
			name:  "空の場所は一致しない",
			lost:  &model.LostItem{LastLocation: ""},
			found: &model.FoundItem{FoundLocation: "Library"},
			want:  0,
		},
		{
			name: "トークン一致は上限30点",
			lost: &model.LostItem{
				ItemName:    "black leather wallet",
				Description: "contains student card, library card, driver license, receipts",
			},
			found: &model.FoundItem{
				ItemName:    "wallet",
				Description: "black leather with student card library driver license receipts",
			},
			want: 30,
		},
		{
			name: "すべての上限を合計しても100点を超えない",
			lost: &model.LostItem{
				ItemName: "blue hydro flask bottle", Description: "sticker covered metal water bottle",
				Category: "Bottles", LastLocation: "Gym", DateLost: base,
			},
			found: &model.FoundItem{
				ItemName: "hydro flask", Description: "blue metal water bottle with sticker covered body",
				Category: "Bottles", FoundLocation: "Main Gym", FoundDate: base,
			},
			want: 100,
		},
	}

	s := NewScorer(DefaultWeights())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Score(tt.lost, tt.found); got != tt.want {
				t.Errorf("Score = %d, want %d", got, tt.want)
			}
		})
	}
}

// 同じ入力には同じスコアを返し、常に0〜100に収まること
func TestScore_DeterministicAndBounded(t *testing.T) {
	s := NewScorer(Weights{Category: 90, TokenPerMatch: 50, TokenMax: 90, Within1Day: 90, Within3Days: 10, Within7Days: 5, Location: 90})
	lost := &model.LostItem{ItemName: "red umbrella", Category: "Umbrella", LastLocation: "Hall", DateLost: date(2025, 1, 1)}
	found := &model.FoundItem{ItemName: "umbrella red", Category: "umbrella", FoundLocation: "hall", FoundDate: date(2025, 1, 1)}

	first := s.Score(lost, found)
	for i := 0; i < 10; i++ {
		if got := s.Score(lost, found); got != first {
			t.Fatalf("Score changed between calls: %d != %d", got, first)
		}
	}
	if first != MaxScore {
		t.Errorf("Score = %d, want capped at %d", first, MaxScore)
	}

	neg := NewScorer(Weights{Category: -50})
	if got := neg.Score(lost, found); got != 0 {
		t.Errorf("Score with negative weight = %d, want floored at 0", got)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Silver MacBook-Pro, 13 inch; silver!! Über-Jacke")
	want := []string{"silver", "macbook", "inch", "über", "jacke"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestCommonTokens_CountsDistinctFoundTokens(t *testing.T) {
	got := CommonTokens("silver macbook pro 13 inch", "macbook macbook silver laptop")
	if got != 2 {
		t.Errorf("CommonTokens = %d, want 2", got)
	}
}
