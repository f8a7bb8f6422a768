package bulletin

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// feedLink はHTMLのheadで宣言されたフィードへのリンク。
type feedLink struct {
	url  string
	atom bool
}

// IsHTMLContent はContent-TypeがHTMLかを判定する。
func IsHTMLContent(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// DiscoverFeedLink は掲示板ページのheadから<link rel="alternate">のフィードURLを返す。
// 同一ホストのリンクを優先し、同条件ならAtomをRSSより優先する。見つからなければ空文字。
func DiscoverFeedLink(page []byte, pageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	links := parseFeedLinks(page, base)
	if len(links) == 0 {
		return ""
	}

	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if u, err := url.Parse(l.url); err == nil && strings.EqualFold(u.Hostname(), base.Hostname()) {
			score += 2
		}
		if l.atom {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return links[best].url
}

func parseFeedLinks(page []byte, base *url.URL) []feedLink {
	var links []feedLink
	tokenizer := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return links
		case html.EndTagToken:
			if name, _ := tokenizer.TagName(); atom.Lookup(name) == atom.Head {
				return links
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tokenizer.Token()
			if tok.DataAtom == atom.Body {
				return links
			}
			if tok.DataAtom != atom.Link {
				continue
			}
			if l, ok := feedLinkFromAttrs(tok.Attr, base); ok {
				links = append(links, l)
			}
		}
	}
}

func feedLinkFromAttrs(attrs []html.Attribute, base *url.URL) (feedLink, bool) {
	var rel, typ, href string
	for _, a := range attrs {
		switch strings.ToLower(a.Key) {
		case "rel":
			rel = strings.ToLower(a.Val)
		case "type":
			typ = strings.ToLower(strings.TrimSpace(a.Val))
		case "href":
			href = strings.TrimSpace(a.Val)
		}
	}
	if href == "" || !containsField(rel, "alternate") {
		return feedLink{}, false
	}

	var isAtom bool
	switch typ {
	case "application/atom+xml":
		isAtom = true
	case "application/rss+xml":
	default:
		return feedLink{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return feedLink{}, false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return feedLink{}, false
	}
	return feedLink{url: resolved.String(), atom: isAtom}, true
}

// containsField はスペース区切りのrel属性に値が含まれるかを返す。
func containsField(list, value string) bool {
	for _, f := range strings.Fields(list) {
		if f == value {
			return true
		}
	}
	return false
}
