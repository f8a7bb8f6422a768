package bulletin

import (
	"strings"
	"testing"
	"time"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   FetchResult
	}{
		{"200は成功", 200, FetchResultOK},
		{"304は未変更", 304, FetchResultNotModified},
		{"404は停止", 404, FetchResultStop},
		{"410は停止", 410, FetchResultStop},
		{"401は停止", 401, FetchResultStop},
		{"403は停止", 403, FetchResultStop},
		{"429はバックオフ", 429, FetchResultBackoff},
		{"503はバックオフ", 503, FetchResultBackoff},
		{"302は未知", 302, FetchResultUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyHTTPStatus(tt.status); got != tt.want {
				t.Errorf("ClassifyHTTPStatus(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		errors int
		want   time.Duration
	}{
		{0, 30 * time.Minute},
		{1, time.Hour},
		{2, 2 * time.Hour},
		{4, 8 * time.Hour},
		{5, 12 * time.Hour},
		{100, 12 * time.Hour},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.errors); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.errors, got, tt.want)
		}
	}
}

func TestApplyBackoffAndSuccess(t *testing.T) {
	now := time.Date(2025, 4, 6, 9, 0, 0, 0, time.UTC)
	src := &Source{URL: "https://security.example.edu/found.rss"}

	ApplyBackoff(src, "HTTPステータス 503", now)
	ApplyBackoff(src, "HTTPステータス 503", now)
	if src.ConsecutiveErrors != 2 {
		t.Errorf("ConsecutiveErrors = %d, want 2", src.ConsecutiveErrors)
	}
	if !src.NextFetchAt.Equal(now.Add(time.Hour)) {
		t.Errorf("NextFetchAt = %v, want %v", src.NextFetchAt, now.Add(time.Hour))
	}
	if src.Due(now) {
		t.Error("source in backoff should not be due")
	}

	ApplySuccess(src, 15*time.Minute, now)
	if src.ConsecutiveErrors != 0 || src.ErrorMessage != "" {
		t.Errorf("state not reset: %+v", src)
	}
	if !src.Due(now.Add(15 * time.Minute)) {
		t.Error("source should be due after interval")
	}
}

// パース失敗が閾値に達すると取得を停止すること
func TestApplyParseFailure_StopsAtThreshold(t *testing.T) {
	now := time.Date(2025, 4, 6, 9, 0, 0, 0, time.UTC)
	src := &Source{URL: "https://security.example.edu/found.rss"}

	for i := 0; i < parseFailureThreshold-1; i++ {
		ApplyParseFailure(src, "invalid xml", time.Minute, now)
	}
	if src.Stopped {
		t.Fatal("source stopped before threshold")
	}
	ApplyParseFailure(src, "invalid xml", time.Minute, now)
	if !src.Stopped {
		t.Fatal("source should be stopped at threshold")
	}
	if !strings.Contains(src.ErrorMessage, "停止") {
		t.Errorf("ErrorMessage = %q", src.ErrorMessage)
	}
	if src.Due(now.Add(time.Hour)) {
		t.Error("stopped source should never be due")
	}
}
