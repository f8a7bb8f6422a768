package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/lostfound/internal/auth"
	"github.com/hitoshi/lostfound/internal/claim"
	"github.com/hitoshi/lostfound/internal/config"
	"github.com/hitoshi/lostfound/internal/imaging"
	"github.com/hitoshi/lostfound/internal/item"
	"github.com/hitoshi/lostfound/internal/matching"
	"github.com/hitoshi/lostfound/internal/metrics"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/notify"
	"github.com/hitoshi/lostfound/internal/repository"
	"github.com/hitoshi/lostfound/internal/security"
)

// uploadURLPrefix はアップロード画像を配信するパス。ルーターの/uploadsと一致させる。
const uploadURLPrefix = "/uploads"

// notifyResponseLimit はメール送信APIのレスポンスとして読み込む最大サイズ。
const notifyResponseLimit = 1 << 20

// repositories はサービス層が使うリポジトリ一式。
type repositories struct {
	Tx     repository.TxManager
	Users  repository.UserRepository
	Lost   repository.LostItemRepository
	Found  repository.FoundItemRepository
	Match  repository.MatchRepository
	Claims repository.ClaimRepository
}

func newPostgresRepositories(db *sql.DB) repositories {
	return repositories{
		Tx:     repository.NewPostgresTxManager(db),
		Users:  repository.NewPostgresUserRepo(db),
		Lost:   repository.NewPostgresLostItemRepo(db),
		Found:  repository.NewPostgresFoundItemRepo(db),
		Match:  repository.NewPostgresMatchRepo(db),
		Claims: repository.NewPostgresClaimRepo(db),
	}
}

// services はAPIサーバーとワーカーで共有するドメインサービス。
type services struct {
	Tokens  *auth.TokenIssuer
	Auth    *auth.Service
	Matches *matching.Service
	Items   *item.Service
	Claims  *claim.Service
}

// serviceOptions はbuildServicesに渡す外部依存。nilの項目は機能を無効にする。
type serviceOptions struct {
	Notifier  *notify.Notifier
	Collector *metrics.Collector
	Images    item.ImageProcessor
	Store     item.ImageStore
	Logger    *slog.Logger
}

// buildServices はリポジトリと外部依存からドメインサービスを組み立てる。
func buildServices(cfg *config.Config, repos repositories, opts serviceOptions) (*services, error) {
	templates, err := notify.NewTemplates(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("通知テンプレートの読み込みに失敗しました: %w", err)
	}

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)

	// インターフェース型のフィールドに型付きnilを入れないよう、未設定時は明示的に除外する
	var (
		matchNotifier matching.Notifier
		claimNotifier claim.Notifier
		matchRecorder matching.Recorder
		itemRecorder  item.Recorder
		claimRecorder claim.Recorder
	)
	if opts.Notifier != nil {
		matchNotifier = opts.Notifier
		claimNotifier = opts.Notifier
	}
	if opts.Collector != nil {
		matchRecorder = opts.Collector
		itemRecorder = opts.Collector
		claimRecorder = opts.Collector
	}

	matchSvc := matching.NewService(matching.Deps{
		Tx:        repos.Tx,
		Users:     repos.Users,
		Lost:      repos.Lost,
		Found:     repos.Found,
		Matches:   repos.Match,
		Notifier:  matchNotifier,
		Templates: templates,
		Recorder:  matchRecorder,
		Logger:    opts.Logger,
	}, nil, cfg.MatchScoreThreshold)

	itemSvc := item.NewService(item.Deps{
		Tx:        repos.Tx,
		Lost:      repos.Lost,
		Found:     repos.Found,
		Matches:   repos.Match,
		Claims:    repos.Claims,
		Proposer:  matchSvc,
		Sanitizer: security.NewTextSanitizer(),
		Images:    opts.Images,
		Store:     opts.Store,
		Recorder:  itemRecorder,
		Logger:    opts.Logger,
	})

	claimSvc := claim.NewService(claim.Deps{
		Tx:        repos.Tx,
		Users:     repos.Users,
		Lost:      repos.Lost,
		Found:     repos.Found,
		Matches:   repos.Match,
		Claims:    repos.Claims,
		Notifier:  claimNotifier,
		Templates: templates,
		Recorder:  claimRecorder,
		Logger:    opts.Logger,
	})

	return &services{
		Tokens:  tokens,
		Auth:    auth.NewService(repos.Users, tokens, cfg.AdminEmails),
		Matches: matchSvc,
		Items:   itemSvc,
		Claims:  claimSvc,
	}, nil
}

// newDispatcher はNOTIFY_DRIVERに応じた送信手段を返す。
// HTTP送信はSSRFガード付きクライアントを使う。
func newDispatcher(cfg *config.Config, guard security.SSRFGuardService, logger *slog.Logger) (notify.Dispatcher, error) {
	switch cfg.NotifyDriver {
	case config.NotifyDriverLog, "":
		return notify.NewLogDispatcher(logger), nil
	case config.NotifyDriverSMTP:
		return notify.NewSMTPDispatcher(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			Timeout:  cfg.NotifySendTimeout,
		}), nil
	case config.NotifyDriverHTTP:
		if err := guard.ValidateURL(cfg.MailAPIURL); err != nil {
			return nil, fmt.Errorf("MAIL_API_URLが許可されていません: %w", err)
		}
		client := guard.NewSafeClient(cfg.NotifySendTimeout, notifyResponseLimit)
		return notify.NewHTTPDispatcher(client, cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom), nil
	default:
		return nil, fmt.Errorf("unknown notify driver: %q", cfg.NotifyDriver)
	}
}

// newNotifier は設定とメトリクスから通知サービスを組み立てる。
func newNotifier(cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) (*notify.Notifier, error) {
	dispatcher, err := newDispatcher(cfg, security.NewSSRFGuard(), logger)
	if err != nil {
		return nil, err
	}
	var recorder notify.ResultRecorder
	if collector != nil {
		recorder = collector
	}
	return notify.NewNotifier(dispatcher, logger, recorder, cfg.NotifySendTimeout, cfg.NotifyWaitTimeout), nil
}

// newImageStorage はアップロード画像の検証器と保存先を生成する。
func newImageStorage(cfg *config.Config) (*imaging.Processor, *imaging.DiskStore, error) {
	store, err := imaging.NewDiskStore(cfg.UploadDir, uploadURLPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("アップロードディレクトリの準備に失敗しました: %w", err)
	}
	return imaging.NewProcessor(cfg.UploadMaxBytes), store, nil
}

// newLimiterStore はレート制限の状態保存先を返す。
// REDIS_URLが未設定、またはRedisに接続できない場合はプロセス内メモリを使う。
// 戻り値のcloseは終了時に必ず呼ぶこと。
func newLimiterStore(ctx context.Context, redisURL string, logger *slog.Logger) (middleware.LimiterStore, func(), error) {
	if redisURL == "" {
		mem := middleware.NewMemoryStore(time.Minute)
		return mem, mem.Stop, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("REDIS_URLの解析に失敗しました: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		logger.Warn("redis unavailable, falling back to in-memory rate limiting",
			slog.String("error", err.Error()),
		)
		mem := middleware.NewMemoryStore(time.Minute)
		return mem, mem.Stop, nil
	}

	return middleware.NewRedisStore(client), func() { client.Close() }, nil
}
