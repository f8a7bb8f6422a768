package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/lostfound/internal/config"
	"github.com/hitoshi/lostfound/internal/item"
	"github.com/hitoshi/lostfound/internal/metrics"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/notify"
	"github.com/hitoshi/lostfound/internal/repository/inmemory"
	"github.com/hitoshi/lostfound/internal/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:             "http://localhost:8080",
		JWTSecret:           "test-jwt-secret-that-is-32-bytes-long!",
		JWTTTL:              time.Hour,
		AdminEmails:         []string{"security@example.edu"},
		MatchScoreThreshold: 20,
		NotifyDriver:        config.NotifyDriverLog,
		MailFrom:            "lostfound@example.edu",
		NotifySendTimeout:   time.Second,
		NotifyWaitTimeout:   time.Second,
		UploadMaxBytes:      1 << 20,
	}
}

func inmemoryRepositories() repositories {
	r := inmemory.New()
	return repositories{Tx: r.Tx, Users: r.Users, Lost: r.Lost, Found: r.Found, Match: r.Match, Claims: r.Claim}
}

// 組み立てたサービスで届出から自動提案・通知・メトリクス記録まで動作する
func TestBuildServices_ReportProposesAndNotifies(t *testing.T) {
	cfg := testConfig()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	notifier, err := newNotifier(cfg, collector, discardLogger())
	if err != nil {
		t.Fatalf("newNotifier: %v", err)
	}

	svc, err := buildServices(cfg, inmemoryRepositories(), serviceOptions{
		Notifier:  notifier,
		Collector: collector,
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}

	ctx := context.Background()
	owner, err := svc.Auth.Register(ctx, "alice@example.edu", "Alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	finder, err := svc.Auth.Register(ctx, "bob@example.edu", "Bob", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	if _, err := svc.Items.ReportLost(ctx, item.LostInput{
		ItemName: "MacBook", Category: "Electronics", Description: "silver macbook pro",
		LastLocation: "Library", DateLost: today,
	}, owner.User.ID); err != nil {
		t.Fatalf("ReportLost: %v", err)
	}

	report, err := svc.Items.ReportFound(ctx, item.FoundInput{
		ItemName: "Laptop", Category: "Electronics", Description: "silver macbook",
		FoundLocation: "Central Library", FoundDate: today,
	}, finder.User.ID)
	if err != nil {
		t.Fatalf("ReportFound: %v", err)
	}
	if len(report.Matches) != 1 {
		t.Fatalf("expected 1 automatic proposal, got %d", len(report.Matches))
	}
	if len(report.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", report.Warnings)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sent float64
	for _, mf := range families {
		if mf.GetName() != "lostfound_notifications_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == "sent" {
					sent = m.GetCounter().GetValue()
				}
			}
		}
	}
	if sent != 1 {
		t.Errorf("sent notifications = %v, want 1", sent)
	}

	// 発行したトークンが検証できる
	if _, err := svc.Tokens.Validate(owner.Token); err != nil {
		t.Errorf("issued token should validate: %v", err)
	}
}

// 通知やメトリクスを指定しなくても組み立てられる
func TestBuildServices_WithoutOptionalDeps(t *testing.T) {
	svc, err := buildServices(testConfig(), inmemoryRepositories(), serviceOptions{})
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}
	if svc.Items == nil || svc.Matches == nil || svc.Claims == nil || svc.Auth == nil {
		t.Fatal("expected all services to be built")
	}
}

type fakeGuard struct {
	security.SSRFGuardService
	rejectErr error
}

func (g fakeGuard) ValidateURL(string) error { return g.rejectErr }

func TestNewDispatcher(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		guard   fakeGuard
		check   func(d notify.Dispatcher) bool
		wantErr bool
	}{
		{
			name:   "logドライバ",
			mutate: func(c *config.Config) {},
			check: func(d notify.Dispatcher) bool {
				_, ok := d.(*notify.LogDispatcher)
				return ok
			},
		},
		{
			name: "smtpドライバ",
			mutate: func(c *config.Config) {
				c.NotifyDriver = config.NotifyDriverSMTP
				c.SMTPHost = "mail.example.edu"
			},
			check: func(d notify.Dispatcher) bool {
				_, ok := d.(*notify.SMTPDispatcher)
				return ok
			},
		},
		{
			name: "httpドライバで宛先URLが拒否される",
			mutate: func(c *config.Config) {
				c.NotifyDriver = config.NotifyDriverHTTP
				c.MailAPIURL = "http://169.254.169.254/send"
			},
			guard:   fakeGuard{rejectErr: errors.New("blocked address")},
			wantErr: true,
		},
		{
			name:    "未知のドライバ",
			mutate:  func(c *config.Config) { c.NotifyDriver = "pigeon" },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			d, err := newDispatcher(cfg, tt.guard, discardLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("newDispatcher error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !tt.check(d) {
				t.Errorf("unexpected dispatcher type %T", d)
			}
		})
	}
}

func TestNewLimiterStore_WithoutRedisUsesMemory(t *testing.T) {
	store, closeFn, err := newLimiterStore(context.Background(), "", discardLogger())
	if err != nil {
		t.Fatalf("newLimiterStore: %v", err)
	}
	defer closeFn()

	if _, ok := store.(*middleware.MemoryStore); !ok {
		t.Errorf("store = %T, want *middleware.MemoryStore", store)
	}
}

func TestNewLimiterStore_InvalidURL(t *testing.T) {
	_, _, err := newLimiterStore(context.Background(), "not-a-redis-url", discardLogger())
	if err == nil {
		t.Fatal("expected error for invalid REDIS_URL, got nil")
	}
}

func TestNewImageStorage_CreatesUploadDir(t *testing.T) {
	cfg := testConfig()
	cfg.UploadDir = t.TempDir() + "/nested/uploads"

	processor, store, err := newImageStorage(cfg)
	if err != nil {
		t.Fatalf("newImageStorage: %v", err)
	}
	if processor.MaxBytes() != cfg.UploadMaxBytes {
		t.Errorf("MaxBytes = %d, want %d", processor.MaxBytes(), cfg.UploadMaxBytes)
	}
	if store.Dir() == "" {
		t.Error("expected upload dir to be set")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://lostfound:s3cret@db:5432/lostfound?sslmode=disable")
	if strings.Contains(got, "s3cret") {
		t.Errorf("password leaked: %q", got)
	}
	if !strings.Contains(got, "db:5432") {
		t.Errorf("host should remain visible: %q", got)
	}
	if got := maskDatabaseURL("::not a url"); got != "***" {
		t.Errorf("maskDatabaseURL(invalid) = %q, want ***", got)
	}
}
