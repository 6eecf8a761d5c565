package users

import (
	"context"
	"errors"
	"testing"

	"github.com/bookmart/bookstore/internal/app/domain/user"
	"github.com/bookmart/bookstore/internal/app/storage/memory"
)

func newService() *Service {
	return New(memory.New(), "test-secret", nil)
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	u, err := svc.Register(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Token == "" {
		t.Fatalf("expected an initial session token")
	}
	if u.PasswordHash == "pw" {
		t.Fatalf("password stored in clear")
	}

	if _, err := svc.Register(ctx, "alice", "pw"); !errors.Is(err, user.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	token, err := svc.Login(ctx, "alice", "pw", "term-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.CheckToken(ctx, "alice", token); err != nil {
		t.Fatalf("check token: %v", err)
	}

	// The old registration token is superseded by the login.
	if err := svc.CheckToken(ctx, "alice", u.Token); !errors.Is(err, user.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for stale token, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	if _, err := svc.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "wrong", "t"); !errors.Is(err, user.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "pw", "t"); !errors.Is(err, user.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for unknown user, got %v", err)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	if _, err := svc.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	token, err := svc.Login(ctx, "alice", "pw", "t")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Logout(ctx, "alice", token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.CheckToken(ctx, "alice", token); !errors.Is(err, user.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed after logout, got %v", err)
	}
	if err := svc.Logout(ctx, "alice", token); !errors.Is(err, user.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed on stale logout, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	if _, err := svc.Register(ctx, "alice", "old"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.ChangePassword(ctx, "alice", "bad", "new"); !errors.Is(err, user.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "alice", "old", "new"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "old", "t"); !errors.Is(err, user.ErrAuthFailed) {
		t.Fatalf("old password still accepted")
	}
	if _, err := svc.Login(ctx, "alice", "new", "t"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	if _, err := svc.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.Unregister(ctx, "alice", "wrong"); !errors.Is(err, user.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if err := svc.Unregister(ctx, "alice", "pw"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := svc.Get(ctx, "alice"); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	if _, err := svc.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.Deposit(ctx, "alice", "pw", 0); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}
	if err := svc.Deposit(ctx, "alice", "wrong", 10); !errors.Is(err, user.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if err := svc.Deposit(ctx, "alice", "pw", 10); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	u, err := svc.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Balance != 10 {
		t.Fatalf("balance = %d, want 10", u.Balance)
	}
}
