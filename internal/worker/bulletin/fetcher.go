package bulletin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/lostfound/internal/item"
)

// Importer は掲示板エントリを拾得物として登録するインターフェース。
type Importer interface {
	ImportFound(ctx context.Context, in item.FoundInput, externalRef string) (*item.FoundReport, bool, error)
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Recorder は取り込みのメトリクスを記録する。
type Recorder interface {
	RecordBulletinImported(count int)
	RecordBulletinFetchFailure()
	RecordBulletinLatency(duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordBulletinImported(int)          {}
func (nopRecorder) RecordBulletinFetchFailure()         {}
func (nopRecorder) RecordBulletinLatency(time.Duration) {}

// Config はFetcherの設定。
type Config struct {
	Timeout         time.Duration
	MaxBodySize     int64
	Interval        time.Duration // 成功時の次回取得までの間隔
	HoldingLocation string        // 取り込んだ拾得物の保管場所
}

// Fetcher は掲示板フィードを1件取得し、新しいエントリを拾得物として登録する。
// ETag/Last-Modifiedによる条件付きGET、SSRF検証、gofeedによるパースを行う。
type Fetcher struct {
	importer Importer
	guard    SSRFValidator
	recorder Recorder
	logger   *slog.Logger
	config   Config
	now      func() time.Time
}

// NewFetcher はFetcherを生成する。recorderとloggerはnilでもよい。
func NewFetcher(importer Importer, guard SSRFValidator, recorder Recorder, logger *slog.Logger, config Config) *Fetcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 5 << 20
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	return &Fetcher{
		importer: importer,
		guard:    guard,
		recorder: recorder,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Fetch はフィードを取得し、結果に応じてsrcの取得状態を更新する。
// エントリ単位の登録失敗はログに記録して残りの処理を続ける。
func (f *Fetcher) Fetch(ctx context.Context, src *Source) error {
	start := f.now()

	if err := f.guard.ValidateURL(src.URL); err != nil {
		f.recorder.RecordBulletinFetchFailure()
		ApplyStop(src, fmt.Sprintf("SSRF検証失敗: %s", err.Error()))
		return fmt.Errorf("SSRF検証に失敗しました: %w", err)
	}

	client := f.guard.NewSafeClient(f.config.Timeout, f.config.MaxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "LostFound/1.0 Bulletin Importer")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if src.ETag != "" {
		req.Header.Set("If-None-Match", src.ETag)
	}
	if src.LastModified != "" {
		req.Header.Set("If-Modified-Since", src.LastModified)
	}

	resp, err := client.Do(req)
	if err != nil {
		f.recorder.RecordBulletinFetchFailure()
		ApplyBackoff(src, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()), f.now())
		return fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()
	f.recorder.RecordBulletinLatency(f.now().Sub(start))

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultNotModified:
		f.logger.InfoContext(ctx, "bulletin not modified", slog.String("feed_url", src.URL))
		ApplySuccess(src, f.config.Interval, f.now())
		return nil
	case FetchResultStop:
		f.recorder.RecordBulletinFetchFailure()
		reason := fmt.Sprintf("HTTPステータス %d により取得を停止しました", resp.StatusCode)
		f.logger.WarnContext(ctx, "bulletin fetch stopped",
			slog.String("feed_url", src.URL),
			slog.Int("http_status", resp.StatusCode),
		)
		ApplyStop(src, reason)
		return nil
	case FetchResultOK:
	default:
		f.recorder.RecordBulletinFetchFailure()
		f.logger.WarnContext(ctx, "bulletin fetch backoff",
			slog.String("feed_url", src.URL),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", src.ConsecutiveErrors+1),
		)
		ApplyBackoff(src, fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode), f.now())
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.recorder.RecordBulletinFetchFailure()
		ApplyBackoff(src, fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()), f.now())
		return fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}

	if IsHTMLContent(resp.Header.Get("Content-Type")) {
		return f.followFeedLink(ctx, src, body)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		f.recorder.RecordBulletinFetchFailure()
		f.logger.ErrorContext(ctx, "failed to parse bulletin",
			slog.String("feed_url", src.URL),
			slog.String("error", err.Error()),
		)
		ApplyParseFailure(src, err.Error(), f.config.Interval, f.now())
		return nil
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		src.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		src.LastModified = lastMod
	}

	imported, failed := f.importEntries(ctx, src.URL, parsed.Items)
	f.recorder.RecordBulletinImported(imported)
	ApplySuccess(src, f.config.Interval, f.now())

	f.logger.InfoContext(ctx, "bulletin fetched",
		slog.String("feed_url", src.URL),
		slog.Int("entries", len(parsed.Items)),
		slog.Int("imported", imported),
		slog.Int("failed", failed),
		slog.Int64("duration_ms", f.now().Sub(start).Milliseconds()),
	)
	return nil
}

// followFeedLink は掲示板ページのheadに宣言されたフィードへ取得先を切り替えて取り直す。
// 検出は1度だけ行い、検出先もHTMLだった場合は解析失敗として扱う。
func (f *Fetcher) followFeedLink(ctx context.Context, src *Source, page []byte) error {
	link := DiscoverFeedLink(page, src.URL)
	if link == "" || link == src.URL || src.DiscoveredFrom != "" {
		f.recorder.RecordBulletinFetchFailure()
		f.logger.ErrorContext(ctx, "bulletin page has no feed link",
			slog.String("feed_url", src.URL),
		)
		ApplyParseFailure(src, "HTMLページからフィードを検出できませんでした", f.config.Interval, f.now())
		return nil
	}

	f.logger.InfoContext(ctx, "bulletin feed discovered",
		slog.String("page_url", src.URL),
		slog.String("feed_url", link),
	)
	src.DiscoveredFrom = src.URL
	src.URL = link
	src.ETag = ""
	src.LastModified = ""
	return f.Fetch(ctx, src)
}

func (f *Fetcher) importEntries(ctx context.Context, feedURL string, entries []*gofeed.Item) (imported, failed int) {
	now := f.now()
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		ref := ExternalRef(feedURL, entry)
		report, created, err := f.importer.ImportFound(ctx, ToFoundInput(entry, f.config.HoldingLocation, now), ref)
		if err != nil {
			failed++
			f.logger.WarnContext(ctx, "failed to import bulletin entry",
				slog.String("external_ref", ref),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !created {
			continue
		}
		imported++
		for _, w := range report.Warnings {
			f.logger.WarnContext(ctx, "bulletin entry imported with warning",
				slog.String("found_item_id", report.Item.ID),
				slog.String("warning", w),
			)
		}
	}
	return imported, failed
}
