package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenValidator     middleware.TokenValidator
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Policies           middleware.Policies
	Logger             *slog.Logger
	Metrics            middleware.StatusRecorder

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	UploadDir      string

	// サービス
	AuthService  AuthServiceInterface
	ItemService  ItemServiceInterface
	MatchService interface {
		MatchServiceInterface
		LostItemMatchService
	}
	ClaimService ClaimServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → Metrics → CORS
//	→ (API) Auth → RateLimit(General) → RateLimit(Report|Claim) → RequireRole(admin)
//
// /health、/metrics、/uploads/*、/auth/register、/auth/login は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "ROUTE_NOT_FOUND",
			Message:  "指定されたパスは存在しません。",
			Category: model.CategoryNotFound,
			Action:   "URLを確認してください。",
		})
	})

	authHandler := NewAuthHandler(deps.AuthService)
	itemHandler := NewItemHandler(deps.ItemService, deps.MatchService)
	matchHandler := NewMatchHandler(deps.MatchService)
	claimHandler := NewClaimHandler(deps.ClaimService)

	authn := middleware.NewAuthMiddleware(deps.TokenValidator)
	admin := middleware.RequireRole(model.RoleAdmin)
	general := deps.RateLimiter.Middleware(deps.Policies.General)
	report := deps.RateLimiter.Middleware(deps.Policies.Report)
	claimLimit := deps.RateLimiter.Middleware(deps.Policies.Claim)

	// --- 認証不要のルート ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", noDirListing(http.FileServer(http.Dir(deps.UploadDir)))))
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(general).Post("/register", authHandler.Register)
		r.With(general).Post("/login", authHandler.Login)
		r.With(authn).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Use(general)

		r.Route("/api/lost-items", func(r chi.Router) {
			r.With(report).Post("/", itemHandler.ReportLost)
			r.Get("/", itemHandler.ListLost)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", itemHandler.GetLost)
				r.Delete("/", itemHandler.DeleteLost)
				r.Post("/resolve", itemHandler.ResolveLost)
				r.Get("/candidates", itemHandler.Candidates)
				r.Get("/matches", itemHandler.LostMatches)
				r.With(report).Post("/images", itemHandler.UploadLostImage)
			})
		})

		r.Route("/api/found-items", func(r chi.Router) {
			r.With(report).Post("/", itemHandler.ReportFound)
			r.Get("/", itemHandler.ListFound)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", itemHandler.GetFound)
				r.With(admin).Delete("/", itemHandler.DeleteFound)
				r.With(admin).Put("/verification", itemHandler.VerifyFound)
				r.With(report).Post("/images", itemHandler.UploadFoundImage)
			})
		})

		// マッチ管理（管理者のみ）
		r.Route("/api/matches", func(r chi.Router) {
			r.Use(admin)
			r.Get("/", matchHandler.List)
			r.Post("/", matchHandler.Confirm)
			r.Post("/{id}/reject", matchHandler.Reject)
		})

		r.Route("/api/claims", func(r chi.Router) {
			r.With(claimLimit).Post("/", claimHandler.Create)
			r.Get("/", claimHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", claimHandler.Get)
				r.With(admin).Post("/process", claimHandler.Process)
				r.Post("/cancel", claimHandler.Cancel)
			})
		})

		r.With(admin).Get("/api/admin/stats", itemHandler.Stats)
	})

	return r
}

// noDirListing はディレクトリ一覧の表示を404にする。
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
