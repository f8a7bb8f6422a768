package bulletin

import (
	"fmt"
	"time"
)

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified は未変更（304）。
	FetchResultNotModified
	// FetchResultStop は取得停止が必要なステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff はバックオフが必要なステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 12 * time.Hour
	// parseFailureThreshold はパース失敗による取得停止の閾値。
	parseFailureThreshold = 10
)

// Source は取り込み対象の掲示板フィードと、その取得状態を表す。
// 状態はプロセス内のみで保持し、再起動時はリセットされる。
type Source struct {
	URL               string
	ETag              string
	LastModified      string
	ConsecutiveErrors int
	NextFetchAt       time.Time
	Stopped           bool
	ErrorMessage      string

	// DiscoveredFrom は掲示板ページからフィードURLを検出した場合の元のページURL
	DiscoveredFrom string
}

// Due はnowの時点で取得対象かを返す。
func (s *Source) Due(now time.Time) bool {
	return !s.Stopped && !now.Before(s.NextFetchAt)
}

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410:
		return FetchResultStop
	case statusCode == 401 || statusCode == 403:
		return FetchResultStop
	case statusCode == 429:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyStop はフィードの取得を停止する。
func ApplyStop(src *Source, reason string) {
	src.Stopped = true
	src.ErrorMessage = reason
}

// ApplyBackoff は連続エラー回数をインクリメントし、指数バックオフで次回取得時刻を設定する。
func ApplyBackoff(src *Source, reason string, now time.Time) {
	src.ConsecutiveErrors++
	src.ErrorMessage = reason
	src.NextFetchAt = now.Add(CalculateBackoff(src.ConsecutiveErrors - 1))
}

// ApplySuccess は取得成功時に状態をリセットし、interval後を次回取得時刻にする。
func ApplySuccess(src *Source, interval time.Duration, now time.Time) {
	src.ConsecutiveErrors = 0
	src.ErrorMessage = ""
	src.NextFetchAt = now.Add(interval)
}

// ApplyParseFailure はパース失敗を記録し、閾値に達した場合は取得を停止する。
func ApplyParseFailure(src *Source, reason string, interval time.Duration, now time.Time) {
	src.ConsecutiveErrors++
	src.ErrorMessage = fmt.Sprintf("パース失敗 (%d回連続): %s", src.ConsecutiveErrors, reason)
	src.NextFetchAt = now.Add(interval)

	if src.ConsecutiveErrors >= parseFailureThreshold {
		src.Stopped = true
		src.ErrorMessage = fmt.Sprintf("パース失敗が%d回連続したため取得を停止しました: %s", src.ConsecutiveErrors, reason)
	}
}
