// Package bulletin は構内の拾得物掲示板（RSS/Atom）の定期取り込みを提供する。
// スケジューラ、フェッチャー、リトライ/バックオフ戦略を含む。
package bulletin

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SourceFetcher は掲示板フィード1件の取得インターフェース。
type SourceFetcher interface {
	Fetch(ctx context.Context, src *Source) error
}

// Scheduler は掲示板フィードの取得スケジューリングと並列制御を行う。
// ティッカーごとに取得対象のフィードを選び、
// semaphoreパターンで最大並列数を制御しながら取得する。
type Scheduler struct {
	sources        []*Source
	fetcher        SourceFetcher
	logger         *slog.Logger
	maxConcurrency int
	now            func() time.Time
}

// NewScheduler はSchedulerを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(feedURLs []string, fetcher SourceFetcher, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	sources := make([]*Source, 0, len(feedURLs))
	for _, u := range feedURLs {
		sources = append(sources, &Source{URL: u})
	}
	return &Scheduler{
		sources:        sources,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Sources は取得状態のスナップショットを返す。
func (s *Scheduler) Sources() []Source {
	out := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, *src)
	}
	return out
}

// Start はinterval間隔でスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("bulletin scheduler started",
		slog.Duration("interval", interval),
		slog.Int("sources", len(s.sources)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("bulletin scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は取得対象のフィードを並列で取得し、件数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now()
	var due []*Source
	for _, src := range s.sources {
		if src.Due(now) {
			due = append(due, src)
		}
	}
	if len(due) == 0 {
		return 0
	}

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	for _, src := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(src *Source) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.fetcher.Fetch(ctx, src); err != nil {
				s.logger.Error("bulletin fetch failed",
					slog.String("feed_url", src.URL),
					slog.String("error", err.Error()),
				)
			}
		}(src)
	}
	wg.Wait()

	s.logger.Info("bulletin cycle completed",
		slog.Int("fetched", len(due)),
		slog.Int64("duration_ms", s.now().Sub(now).Milliseconds()),
	)
	return len(due)
}
