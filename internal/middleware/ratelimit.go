package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/lostfound/internal/model"
)

// Policy はレート制限の単位。Window内にRequests回までのリクエストを許可する。
type Policy struct {
	Name     string
	Requests int
	Window   time.Duration
}

// perSecond はトークンバケットの補充レートを返す。
func (p Policy) perSecond() rate.Limit {
	return rate.Limit(float64(p.Requests) / p.Window.Seconds())
}

// Policies はエンドポイント種別ごとのレート制限。
type Policies struct {
	General Policy // API全般
	Report  Policy // 紛失・拾得の届出
	Claim   Policy // 返還申請の提出
}

// DefaultPolicies は1分あたりのリクエスト数からPoliciesを生成する。
func DefaultPolicies(generalPerMin, reportPerMin, claimPerMin int) Policies {
	return Policies{
		General: Policy{Name: "general", Requests: generalPerMin, Window: time.Minute},
		Report:  Policy{Name: "report", Requests: reportPerMin, Window: time.Minute},
		Claim:   Policy{Name: "claim", Requests: claimPerMin, Window: time.Minute},
	}
}

// LimiterStore はレート制限の状態を保持する。
type LimiterStore interface {
	// Allow はkeyに対するリクエストを1回数え、許可するかどうかと再試行までの待ち時間を返す。
	Allow(ctx context.Context, policy Policy, key string) (bool, time.Duration, error)
}

// --- インメモリ実装 ---

// userLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryStore はプロセス内のトークンバケットによるLimiterStore。
// 単一インスタンスでの運用に使う。
type MemoryStore struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter

	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// NewMemoryStore はMemoryStoreを生成し、期限切れエントリのクリーンアップを開始する。
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	s := &MemoryStore{
		limiters:        make(map[string]*userLimiter),
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Allow はトークンを1つ消費できるかを返す。
func (s *MemoryStore) Allow(_ context.Context, policy Policy, key string) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := policy.Name + ":" + key
	ul, ok := s.limiters[id]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(policy.perSecond(), policy.Requests)}
		s.limiters[id] = ul
	}
	ul.lastAccess = time.Now()

	if ul.limiter.Allow() {
		return true, 0, nil
	}
	retry := time.Duration(math.Ceil(1/float64(policy.perSecond()))) * time.Second
	return false, retry, nil
}

// Len は管理中のエントリ数を返す。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がクリーンアップ間隔の2倍を超えたエントリを削除する。
func (s *MemoryStore) cleanup(now time.Time) {
	ttl := s.cleanupInterval * 2
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ul := range s.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(s.limiters, id)
		}
	}
}

// --- Redis実装 ---

// RedisStore はRedisの固定ウィンドウカウンタによるLimiterStore。
// 複数インスタンスで制限を共有する場合に使う。
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, prefix: "lostfound:ratelimit", now: time.Now}
}

// Allow はウィンドウ内のカウンタを増やし、上限以下なら許可する。
func (s *RedisStore) Allow(ctx context.Context, policy Policy, key string) (bool, time.Duration, error) {
	now := s.now()
	windowStart := now.Truncate(policy.Window)
	redisKey := fmt.Sprintf("%s:%s:%s:%d", s.prefix, policy.Name, key, windowStart.Unix())

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, policy.Window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}

	if incr.Val() <= int64(policy.Requests) {
		return true, 0, nil
	}
	return false, windowStart.Add(policy.Window).Sub(now), nil
}

// --- ミドルウェア ---

// RateLimiter はLimiterStoreを使ってリクエストを制限する。
type RateLimiter struct {
	store  LimiterStore
	logger *slog.Logger
}

// NewRateLimiter はRateLimiterを生成する。
func NewRateLimiter(store LimiterStore, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{store: store, logger: logger}
}

// Middleware はpolicyに従ってリクエストを制限するミドルウェアを返す。
// 認証済みの場合はユーザーID、未認証の場合はクライアントIPごとに数える。
// ストアのエラー時はリクエストを通す。Requestsが0以下のポリシーとnilのRateLimiterは制限しない。
func (rl *RateLimiter) Middleware(policy Policy) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil || policy.Requests <= 0 || policy.Window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)

			allowed, retryAfter, err := rl.store.Allow(r.Context(), policy, key)
			if err != nil {
				rl.logger.WarnContext(r.Context(), "rate limiter unavailable",
					slog.String("limit_type", policy.Name),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				rl.logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("key", key),
					slog.String("limit_type", policy.Name),
				)
				writeRateLimitResponse(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: model.CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	})
}
