package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/lostfound/internal/config"
	"github.com/hitoshi/lostfound/internal/database"
	"github.com/hitoshi/lostfound/internal/handler"
	"github.com/hitoshi/lostfound/internal/logger"
	"github.com/hitoshi/lostfound/internal/metrics"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/security"
	"github.com/hitoshi/lostfound/internal/worker/bulletin"
	"github.com/hitoshi/lostfound/internal/worker/cleanup"
)

const (
	dbReadyAttempts = 10
	dbReadyInterval = 2 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, rest)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、応答するまで待つ。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.WaitForReady(ctx, db, dbReadyAttempts, dbReadyInterval); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はプロセス情報とGoランタイム情報を含むメトリクスレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxが終了するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established")

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. 通知・画像保存
	notifier, err := newNotifier(cfg, collector, log)
	if err != nil {
		return err
	}
	processor, store, err := newImageStorage(cfg)
	if err != nil {
		return err
	}

	// 4. ドメインサービス
	svc, err := buildServices(cfg, newPostgresRepositories(db), serviceOptions{
		Notifier:  notifier,
		Collector: collector,
		Images:    processor,
		Store:     store,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	// 5. レート制限
	limiterStore, closeLimiter, err := newLimiterStore(ctx, cfg.RedisURL, log)
	if err != nil {
		return err
	}
	defer closeLimiter()

	// 6. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		TokenValidator:     svc.Tokens,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        middleware.NewRateLimiter(limiterStore, log),
		Policies:           middleware.DefaultPolicies(cfg.RateLimitGeneral, cfg.RateLimitReport, cfg.RateLimitClaim),
		Logger:             log,
		Metrics:            collector,
		HealthChecker:      db,
		MetricsHandler:     metrics.Handler(reg),
		UploadDir:          store.Dir(),
		AuthService:        svc.Auth,
		ItemService:        svc.Items,
		MatchService:       svc.Matches,
		ClaimService:       svc.Claims,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// serveUntilDone はserverを起動し、ctxが終了したらグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 掲示板フィードの定期取り込みと、古い自動提案の失効処理を実行する。
// ctxが終了するとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established (worker)")

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. 取り込み先の拾得物サービス（提案と通知を含む）
	notifier, err := newNotifier(cfg, collector, log)
	if err != nil {
		return err
	}
	svc, err := buildServices(cfg, newPostgresRepositories(db), serviceOptions{
		Notifier:  notifier,
		Collector: collector,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	// 4. 掲示板フェッチャーとスケジューラ
	fetcher := bulletin.NewFetcher(svc.Items, security.NewSSRFGuard(), collector, log, bulletin.Config{
		Timeout:         cfg.FetchTimeout,
		MaxBodySize:     cfg.FetchMaxSize,
		Interval:        cfg.BulletinInterval,
		HoldingLocation: cfg.BulletinHoldingLocation,
	})
	scheduler := bulletin.NewScheduler(cfg.BulletinFeedURLs, fetcher, log, cfg.FetchMaxConcurrent)

	// 5. 自動提案の失効ジョブ
	cleanupJob := cleanup.NewCleanupJob(db, log, collector)
	cleanupJob.ProposalTTL = cfg.MatchProposalTTL

	// 6. メトリクスとヘルスチェックの公開
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/health", handler.Health(db))
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("worker starting",
		slog.Int("feeds", len(cfg.BulletinFeedURLs)),
		slog.Duration("bulletin_interval", cfg.BulletinInterval),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	go cleanupJob.Start(ctx, cfg.CleanupInterval)
	go func() {
		if err := serveUntilDone(ctx, metricsServer, "worker metrics server"); err != nil {
			log.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()

	// 掲示板スケジューラをメインgoroutineで実行（ブロッキング）
	if len(cfg.BulletinFeedURLs) == 0 {
		log.Info("no bulletin feeds configured")
		<-ctx.Done()
	} else {
		scheduler.Start(ctx, cfg.BulletinInterval)
	}

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, args []string) error {
	action, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Bool("down", action.Down),
		slog.Int("steps", action.Steps),
	)

	switch {
	case action.Version:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration version failed: %w", err)
		}
		slog.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		return nil
	case action.Down:
		if err := database.RollbackMigrations(cfg.DatabaseURL, action.Steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
