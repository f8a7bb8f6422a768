// Package auth はパスワードによるアカウント登録・ログインとJWTの発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// bcryptの入力上限
const maxPasswordLength = 72

// Session はログイン結果を表す。
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users       repository.UserRepository
	tokens      *TokenIssuer
	adminEmails map[string]bool
	cost        int
	now         func() time.Time
}

// NewService はServiceを生成する。adminEmailsに含まれるメールアドレスは管理者として登録される。
func NewService(users repository.UserRepository, tokens *TokenIssuer, adminEmails []string) *Service {
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		if e = normalizeEmail(e); e != "" {
			admins[e] = true
		}
	}
	return &Service{
		users:       users,
		tokens:      tokens,
		adminEmails: admins,
		cost:        bcrypt.DefaultCost,
		now:         time.Now,
	}
}

// Register はアカウントを作成し、ログイン済みのセッションを返す。
func (s *Service) Register(ctx context.Context, email, name, password string) (*Session, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません。")
	}
	if name == "" {
		return nil, model.NewValidationError("名前を入力してください。")
	}
	if len(password) < MinPasswordLength || len(password) > maxPasswordLength {
		return nil, model.NewValidationError(
			fmt.Sprintf("パスワードは%d〜%d文字で入力してください。", MinPasswordLength, maxPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := model.RoleUser
	if s.adminEmails[email] {
		role = model.RoleAdmin
	}
	now := s.now()
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return s.session(user)
}

// Login はメールアドレスとパスワードを検証し、セッションを返す。
// 存在しないメールアドレスとパスワード誤りは同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.WarnContext(ctx, "login failed", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	slog.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	return s.session(user)
}

// Me は認証済みユーザーの情報を返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) session(user *model.User) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
