package bulletin

import (
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hitoshi/lostfound/internal/item"
)

// defaultCategory はカテゴリのないエントリに使うカテゴリ。
const defaultCategory = "Other"

// ExternalRef はエントリの重複判定に使う識別子を返す。
// GUIDがない場合はリンク、どちらもない場合はタイトルで代用する。
func ExternalRef(feedURL string, entry *gofeed.Item) string {
	id := entry.GUID
	if id == "" {
		id = entry.Link
	}
	if id == "" {
		id = entry.Title
	}
	return feedURL + "#" + id
}

// ToFoundInput は掲示板のエントリを拾得届の入力に変換する。
// 1つ目のカテゴリを品目カテゴリ、2つ目を拾得場所として扱う。
func ToFoundInput(entry *gofeed.Item, holdingLocation string, now time.Time) item.FoundInput {
	in := item.FoundInput{
		ItemName:               strings.TrimSpace(entry.Title),
		Category:               defaultCategory,
		Description:            entry.Description,
		CurrentHoldingLocation: holdingLocation,
		FoundDate:              entryDate(entry, now),
	}
	if in.Description == "" {
		in.Description = entry.Content
	}
	if len(entry.Categories) > 0 && strings.TrimSpace(entry.Categories[0]) != "" {
		in.Category = strings.TrimSpace(entry.Categories[0])
	}
	if len(entry.Categories) > 1 {
		in.FoundLocation = strings.TrimSpace(entry.Categories[1])
	}

	body := entry.Content
	if body == "" {
		body = entry.Description
	}
	if src := FirstImageSrc(body, entry.Link); src != "" {
		in.Images = []string{src}
	}
	return in
}

// entryDate は公開日、更新日、nowの順で拾得日を決め、UTCの日付に切り捨てる。
func entryDate(entry *gofeed.Item, now time.Time) time.Time {
	t := now
	if entry.PublishedParsed != nil {
		t = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		t = *entry.UpdatedParsed
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FirstImageSrc はHTML断片の最初の<img>のsrcを絶対URLにして返す。
// http/https以外のURLは無視する。
func FirstImageSrc(fragment, baseURL string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	base, _ := url.Parse(baseURL)

	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tokenizer.Token()
			if tok.DataAtom != atom.Img {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key != "src" {
					continue
				}
				if resolved := resolveImageURL(base, attr.Val); resolved != "" {
					return resolved
				}
			}
		}
	}
}

func resolveImageURL(base *url.URL, raw string) string {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
