package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository/inmemory"
)

func newTestService() (*Service, *TokenIssuer) {
	repos := inmemory.New()
	issuer := NewTokenIssuer("test-secret", time.Hour)
	svc := NewService(repos.Users, issuer, []string{" Admin@Uni.example "})
	svc.cost = bcrypt.MinCost
	return svc, issuer
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %s, want %s", apiErr.Code, code)
	}
}

// 登録したアカウントでログインでき、発行されたトークンが検証できること
func TestRegisterAndLogin(t *testing.T) {
	svc, issuer := newTestService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, "Alice@Uni.example", "Alice", "correct horse")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if reg.User.Email != "alice@uni.example" || reg.User.Role != model.RoleUser {
		t.Errorf("unexpected user: %+v", reg.User)
	}
	if reg.User.PasswordHash == "correct horse" {
		t.Error("password must be hashed")
	}

	sess, err := svc.Login(ctx, "alice@uni.example", "correct horse")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	claims, err := issuer.Validate(sess.Token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if claims.UserID != reg.User.ID {
		t.Errorf("token user = %s, want %s", claims.UserID, reg.User.ID)
	}

	me, err := svc.Me(ctx, claims.UserID)
	if err != nil || me.Email != "alice@uni.example" {
		t.Errorf("Me = %+v, %v", me, err)
	}
}

// ADMIN_EMAILSに含まれるアドレスは管理者として登録されること
func TestRegister_AdminEmail(t *testing.T) {
	svc, _ := newTestService()
	sess, err := svc.Register(context.Background(), "admin@uni.example", "Desk", "password123")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if sess.User.Role != model.RoleAdmin {
		t.Errorf("role = %s, want admin", sess.User.Role)
	}
}

func TestRegister_Errors(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, "bob@uni.example", "Bob", "password123"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		userName string
		password string
		code     string
	}{
		{name: "登録済みメールアドレス", email: "BOB@uni.example", userName: "Bob", password: "password123", code: model.ErrCodeEmailTaken},
		{name: "メールアドレス形式不正", email: "bob", userName: "Bob", password: "password123", code: model.ErrCodeValidation},
		{name: "名前が空", email: "carol@uni.example", userName: " ", password: "password123", code: model.ErrCodeValidation},
		{name: "パスワードが短い", email: "carol@uni.example", userName: "Carol", password: "short", code: model.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.email, tt.userName, tt.password)
			assertCode(t, err, tt.code)
		})
	}
}

// 存在しないアドレスとパスワード誤りは同じエラーになること
func TestLogin_InvalidCredentials(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	svc.Register(ctx, "alice@uni.example", "Alice", "password123")

	_, err := svc.Login(ctx, "alice@uni.example", "wrong-password")
	assertCode(t, err, model.ErrCodeInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@uni.example", "password123")
	assertCode(t, err, model.ErrCodeInvalidCredentials)
}

func TestMe_UnknownUser(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Me(context.Background(), "missing")
	assertCode(t, err, model.ErrCodeUserNotFound)
}
