package bulletin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsHTMLContent(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"text/html; charset=utf-8", true},
		{"TEXT/HTML", true},
		{"application/xhtml+xml", true},
		{"application/rss+xml", false},
		{"text/xml; charset=utf-8", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsHTMLContent(tt.contentType); got != tt.want {
			t.Errorf("IsHTMLContent(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestDiscoverFeedLink(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{
			name: "相対URLを解決する",
			page: `<html><head><link rel="alternate" type="application/rss+xml" href="/found.rss"></head></html>`,
			want: "https://security.example.edu/found.rss",
		},
		{
			name: "同一ホストを優先する",
			page: `<html><head>
				<link rel="alternate" type="application/atom+xml" href="https://other.example.com/atom.xml">
				<link rel="alternate" type="application/rss+xml" href="/found.rss">
			</head></html>`,
			want: "https://security.example.edu/found.rss",
		},
		{
			name: "同一ホスト同士ならAtomを優先する",
			page: `<html><head>
				<link rel="alternate" type="application/rss+xml" href="/found.rss">
				<link rel="alternate" type="application/atom+xml" href="/found.atom">
			</head></html>`,
			want: "https://security.example.edu/found.atom",
		},
		{
			name: "rel属性に複数の値があっても検出する",
			page: `<html><head><link rel="feed alternate" type="application/rss+xml" href="/found.rss"/></head></html>`,
			want: "https://security.example.edu/found.rss",
		},
		{
			name: "フィード以外のlinkは無視する",
			page: `<html><head><link rel="stylesheet" href="/style.css"><link rel="alternate" type="text/html" href="/ja/"></head></html>`,
			want: "",
		},
		{
			name: "body内のlinkは対象外",
			page: `<html><head></head><body><link rel="alternate" type="application/rss+xml" href="/found.rss"></body></html>`,
			want: "",
		},
		{
			name: "javascriptスキームは拒否する",
			page: `<html><head><link rel="alternate" type="application/rss+xml" href="javascript:alert(1)"></head></html>`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiscoverFeedLink([]byte(tt.page), "https://security.example.edu/lost-and-found/")
			if got != tt.want {
				t.Errorf("DiscoverFeedLink = %q, want %q", got, tt.want)
			}
		})
	}
}

// 掲示板ページのURLが設定されていても、宣言されたフィードから取り込むこと
func TestFetcher_FollowsFeedLinkFromHTMLPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/board", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><link rel="alternate" type="application/rss+xml" href="/board/feed.xml"></head><body>Found property</body></html>`)
	})
	mux.HandleFunc("/board/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testRSS)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	importer := &mockImporter{}
	rec := &fakeRecorder{}
	src := &Source{URL: server.URL + "/board"}

	if err := newTestFetcher(importer, &mockSSRFGuard{}, rec).Fetch(context.Background(), src); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if src.URL != server.URL+"/board/feed.xml" || src.DiscoveredFrom != server.URL+"/board" {
		t.Errorf("source = %+v", src)
	}
	if len(importer.refs) != 2 || !strings.HasPrefix(importer.refs[0], server.URL+"/board/feed.xml#") {
		t.Errorf("refs = %v", importer.refs)
	}
	if rec.imported != 2 || rec.failures != 0 {
		t.Errorf("recorder = %+v", rec)
	}
}

// フィードリンクのないHTMLは解析失敗として扱う
func TestFetcher_HTMLWithoutFeedLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Lost and Found</title></head><body></body></html>`)
	}))
	defer server.Close()

	importer := &mockImporter{}
	rec := &fakeRecorder{}
	src := &Source{URL: server.URL}

	if err := newTestFetcher(importer, &mockSSRFGuard{}, rec).Fetch(context.Background(), src); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(importer.refs) != 0 {
		t.Errorf("nothing should be imported, got %v", importer.refs)
	}
	if src.ConsecutiveErrors != 1 || src.Stopped || rec.failures != 1 {
		t.Errorf("source = %+v, recorder = %+v", src, rec)
	}
}
