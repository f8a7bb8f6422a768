package bulletin

import (
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
)

func TestFirstImageSrc(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		base     string
		want     string
	}{
		{"絶対URL", `<p>Blue bottle</p><img src="https://cdn.example.edu/a.jpg"><img src="https://cdn.example.edu/b.jpg">`, "", "https://cdn.example.edu/a.jpg"},
		{"相対URLはリンクを基準に解決", `<img alt="x" src="/images/umbrella.png"/>`, "https://security.example.edu/found/123", "https://security.example.edu/images/umbrella.png"},
		{"javascriptスキームは無視", `<img src="javascript:alert(1)"><img src="https://cdn.example.edu/ok.jpg">`, "", "https://cdn.example.edu/ok.jpg"},
		{"data URLは無視", `<img src="data:image/png;base64,AAAA">`, "", ""},
		{"画像なし", `<p>Keys found near the gym</p>`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstImageSrc(tt.fragment, tt.base); got != tt.want {
				t.Errorf("FirstImageSrc = %q, want %q", got, tt.want)
			}
		})
	}
}

// カテゴリの1つ目を品目カテゴリ、2つ目を拾得場所として変換すること
func TestToFoundInput(t *testing.T) {
	published := time.Date(2025, 4, 6, 22, 30, 0, 0, time.FixedZone("JST", 9*3600))
	entry := &gofeed.Item{
		Title:           " Blue Hydro Flask ",
		Description:     `Found in the gym lobby. <img src="https://cdn.example.edu/flask.jpg">`,
		Categories:      []string{"Bottles", "Main Gym"},
		PublishedParsed: &published,
	}
	now := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

	in := ToFoundInput(entry, "Campus Security Office", now)

	if in.ItemName != "Blue Hydro Flask" || in.Category != "Bottles" || in.FoundLocation != "Main Gym" {
		t.Errorf("unexpected input: %+v", in)
	}
	if in.CurrentHoldingLocation != "Campus Security Office" {
		t.Errorf("holding = %q", in.CurrentHoldingLocation)
	}
	if want := time.Date(2025, 4, 6, 0, 0, 0, 0, time.UTC); !in.FoundDate.Equal(want) {
		t.Errorf("FoundDate = %v, want %v", in.FoundDate, want)
	}
	if len(in.Images) != 1 || in.Images[0] != "https://cdn.example.edu/flask.jpg" {
		t.Errorf("Images = %v", in.Images)
	}
}

func TestToFoundInput_Defaults(t *testing.T) {
	now := time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC)
	in := ToFoundInput(&gofeed.Item{Title: "Umbrella"}, "", now)

	if in.Category != defaultCategory {
		t.Errorf("Category = %q, want %q", in.Category, defaultCategory)
	}
	if want := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC); !in.FoundDate.Equal(want) {
		t.Errorf("FoundDate = %v, want %v", in.FoundDate, want)
	}
	if in.Images != nil {
		t.Errorf("Images = %v, want nil", in.Images)
	}
}

func TestExternalRef(t *testing.T) {
	feed := "https://security.example.edu/found.rss"
	tests := []struct {
		name  string
		entry *gofeed.Item
		want  string
	}{
		{"GUIDを優先", &gofeed.Item{GUID: "g-1", Link: "https://x/1"}, feed + "#g-1"},
		{"GUIDがなければリンク", &gofeed.Item{Link: "https://x/1"}, feed + "#https://x/1"},
		{"どちらもなければタイトル", &gofeed.Item{Title: "Umbrella"}, feed + "#Umbrella"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExternalRef(feed, tt.entry); got != tt.want {
				t.Errorf("ExternalRef = %q, want %q", got, tt.want)
			}
		})
	}
}
