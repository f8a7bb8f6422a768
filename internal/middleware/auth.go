// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/lostfound/internal/auth"
	"github.com/hitoshi/lostfound/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// actorContextKey はリクエストコンテキストに認証済みの操作者を格納するためのキー。
var actorContextKey = contextKey("actor")

// ErrNoActor はコンテキストに認証情報がないことを表す。
var ErrNoActor = errors.New("actor not found in context")

// TokenValidator はBearerトークンを検証する。auth.TokenIssuerが満たす。
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 操作者をリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない、または不正な場合は401を返す。
func NewAuthMiddleware(validator TokenValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims, err := validator.Validate(strings.TrimSpace(token))
			if err != nil {
				slog.DebugContext(r.Context(), "token validation failed", slog.String("error", err.Error()))
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := WithActor(r.Context(), claims.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole は指定ロールの操作者のみ通すミドルウェアを返す。NewAuthMiddlewareの後に配置する。
func RequireRole(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if actor.Role != role {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError("この操作には管理者権限が必要です。"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithActor は操作者をコンテキストに格納する。
// リクエストログのミドルウェアの内側で呼ばれた場合は、ログにもユーザーIDを渡す。
func WithActor(ctx context.Context, actor model.Actor) context.Context {
	if c, ok := ctx.Value(actorCarrierKey).(*actorCarrier); ok {
		c.userID = actor.UserID
	}
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext はコンテキストから操作者を取得する。
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(model.Actor)
	return actor, ok && actor.UserID != ""
}

// UserIDFromContext はコンテキストから操作者のユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return "", ErrNoActor
	}
	return actor.UserID, nil
}
