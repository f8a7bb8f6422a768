package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/lostfound/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/claims", nil)
	if userID != "" {
		req = req.WithContext(WithActor(req.Context(), model.Actor{UserID: userID, Role: model.RoleUser}))
	}
	return req
}

// errorStore は常にエラーを返すLimiterStore。
type errorStore struct{}

func (errorStore) Allow(context.Context, Policy, string) (bool, time.Duration, error) {
	return false, 0, errors.New("connection refused")
}

// --- MemoryStore ---

// TestRateLimit_AllowsWithinLimitThenReturns429 は上限までは通り、超えると429になることを検証する。
func TestRateLimit_AllowsWithinLimitThenReturns429(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Stop()
	policy := Policy{Name: "claim", Requests: 3, Window: time.Minute}
	handler := NewRateLimiter(store, discardLogger()).Middleware(policy)(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("Retry-After = %q, want positive seconds", w.Header().Get("Retry-After"))
	}
	if env := decodeError(t, w); env.Error.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", env.Error.Code)
	}
}

// TestRateLimit_IndependentPerUserAndPolicy はユーザーとポリシーごとに独立して数えることを検証する。
func TestRateLimit_IndependentPerUserAndPolicy(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Stop()
	rl := NewRateLimiter(store, discardLogger())
	policies := DefaultPolicies(1, 1, 1)
	general := rl.Middleware(policies.General)(okHandler())
	claim := rl.Middleware(policies.Claim)(okHandler())

	tests := []struct {
		name    string
		handler http.Handler
		userID  string
		want    int
	}{
		{name: "user-1 全般1回目", handler: general, userID: "user-1", want: http.StatusOK},
		{name: "user-1 全般2回目", handler: general, userID: "user-1", want: http.StatusTooManyRequests},
		{name: "user-2 全般1回目", handler: general, userID: "user-2", want: http.StatusOK},
		{name: "user-1 申請1回目", handler: claim, userID: "user-1", want: http.StatusOK},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		tt.handler.ServeHTTP(w, requestAs(tt.userID))
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, tt.want)
		}
	}
	if store.Len() != 3 {
		t.Errorf("store entries = %d, want 3", store.Len())
	}
}

// TestRateLimit_UnauthenticatedKeyedByIP は未認証リクエストをIPごとに数えることを検証する。
func TestRateLimit_UnauthenticatedKeyedByIP(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Stop()
	handler := NewRateLimiter(store, discardLogger()).
		Middleware(Policy{Name: "login", Requests: 1, Window: time.Minute})(okHandler())

	send := func(addr string) int {
		req := requestAs("")
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if got := send("10.0.0.1:1234"); got != http.StatusOK {
		t.Errorf("first request = %d, want 200", got)
	}
	if got := send("10.0.0.1:5678"); got != http.StatusTooManyRequests {
		t.Errorf("same IP other port = %d, want 429", got)
	}
	if got := send("10.0.0.2:1234"); got != http.StatusOK {
		t.Errorf("other IP = %d, want 200", got)
	}
}

// TestRateLimit_FailOpen はストアのエラー時にリクエストを通すことを検証する。
func TestRateLimit_FailOpen(t *testing.T) {
	handler := NewRateLimiter(errorStore{}, discardLogger()).
		Middleware(Policy{Name: "general", Requests: 1, Window: time.Minute})(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Code)
		}
	}
}

func TestRateLimit_DisabledPolicy(t *testing.T) {
	handler := NewRateLimiter(errorStore{}, discardLogger()).Middleware(Policy{Name: "off"})(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1"))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// TestMemoryStore_Cleanup は古いエントリが削除されることを検証する。
func TestMemoryStore_Cleanup(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Stop()
	ctx := context.Background()
	policy := Policy{Name: "general", Requests: 10, Window: time.Minute}

	store.Allow(ctx, policy, "user:old")
	store.Allow(ctx, policy, "user:new")
	store.mu.Lock()
	store.limiters["general:user:old"].lastAccess = time.Now().Add(-10 * time.Minute)
	store.mu.Unlock()

	store.cleanup(time.Now())

	if store.Len() != 1 {
		t.Errorf("entries after cleanup = %d, want 1", store.Len())
	}
}

// --- RedisStore ---

// TEST_REDIS_URLが設定されている場合のみ実行する。
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("invalid TEST_REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStore_FixedWindow(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisStore(client)
	store.prefix = "lostfound:test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	base := time.Date(2025, 4, 10, 9, 0, 10, 0, time.UTC)
	store.now = func() time.Time { return base }

	ctx := context.Background()
	policy := Policy{Name: "report", Requests: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		ok, _, err := store.Allow(ctx, policy, "user:1")
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, retry, err := store.Allow(ctx, policy, "user:1")
	if err != nil || ok {
		t.Fatalf("third request: ok=%v err=%v", ok, err)
	}
	if retry != 50*time.Second {
		t.Errorf("retry = %v, want 50s", retry)
	}

	// 次のウィンドウではリセットされる
	store.now = func() time.Time { return base.Add(time.Minute) }
	if ok, _, err := store.Allow(ctx, policy, "user:1"); err != nil || !ok {
		t.Errorf("next window: ok=%v err=%v", ok, err)
	}
}

func TestRedisStore_ConnectionError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	_, _, err := NewRedisStore(client).Allow(context.Background(), Policy{Name: "general", Requests: 1, Window: time.Minute}, "user:1")
	if err == nil {
		t.Error("expected error for unreachable redis")
	}
}

func TestMetricsMiddleware(t *testing.T) {
	rec := &statusCounter{}
	handler := NewMetricsMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.codes) != 1 || rec.codes[0] != http.StatusNotFound {
		t.Errorf("recorded = %v, want [404]", rec.codes)
	}
}

type statusCounter struct{ codes []int }

func (s *statusCounter) RecordHTTPStatus(code int) { s.codes = append(s.codes, code) }
