// Package users manages account registration, credentials, and wallet funding.
package users

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bookmart/bookstore/internal/app/domain/user"
	"github.com/bookmart/bookstore/internal/app/storage"
	"github.com/bookmart/bookstore/pkg/logger"
)

const defaultTokenLifetime = time.Hour

// Claims is the JWT payload bound to a login session.
type Claims struct {
	UserID   string `json:"user_id"`
	Terminal string `json:"terminal"`
	jwt.RegisteredClaims
}

// Service provides account lifecycle and session management.
type Service struct {
	store         storage.UserStore
	secret        []byte
	tokenLifetime time.Duration
	log           *logger.Logger
}

// Option customizes the service.
type Option func(*Service)

// WithTokenLifetime overrides how long issued tokens stay valid.
func WithTokenLifetime(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tokenLifetime = d
		}
	}
}

// New constructs a users service. The secret signs session tokens.
func New(store storage.UserStore, secret string, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	s := &Service{
		store:         store,
		secret:        []byte(secret),
		tokenLifetime: defaultTokenLifetime,
		log:           log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new account and opens an initial session.
func (s *Service) Register(ctx context.Context, userID, password string) (user.User, error) {
	if userID == "" || password == "" {
		return user.User{}, fmt.Errorf("%w: user id and password are required", user.ErrInvalidArgument)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	terminal := newTerminal()
	token, err := s.signToken(userID, terminal)
	if err != nil {
		return user.User{}, err
	}

	u := user.User{
		ID:           userID,
		PasswordHash: string(hash),
		Balance:      0,
		Token:        hashToken(token),
		Terminal:     terminal,
	}
	created, err := s.store.CreateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	// Hand the raw token back to the caller; only its hash is at rest.
	created.Token = token

	s.log.WithField("user_id", userID).Info("user registered")
	return created, nil
}

// Login verifies the password and issues a fresh session token for the terminal.
func (s *Service) Login(ctx context.Context, userID, password, terminal string) (string, error) {
	if err := s.CheckPassword(ctx, userID, password); err != nil {
		return "", err
	}
	if terminal == "" {
		terminal = newTerminal()
	}

	token, err := s.signToken(userID, terminal)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateSession(ctx, userID, hashToken(token), terminal); err != nil {
		return "", err
	}
	return token, nil
}

// Logout invalidates the presented session token.
func (s *Service) Logout(ctx context.Context, userID, token string) error {
	if err := s.CheckToken(ctx, userID, token); err != nil {
		return err
	}

	terminal := newTerminal()
	dummy, err := s.signToken(userID, terminal)
	if err != nil {
		return err
	}
	return s.store.UpdateSession(ctx, userID, hashToken(dummy), terminal)
}

// Unregister removes the account after verifying the password.
func (s *Service) Unregister(ctx context.Context, userID, password string) error {
	if err := s.CheckPassword(ctx, userID, password); err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.log.WithField("user_id", userID).Info("user unregistered")
	return nil
}

// ChangePassword swaps the credential and invalidates existing sessions.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", user.ErrInvalidArgument)
	}
	if err := s.CheckPassword(ctx, userID, oldPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	terminal := newTerminal()
	token, err := s.signToken(userID, terminal)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, userID, string(hash), hashToken(token), terminal)
}

// Deposit adds funds to the wallet after verifying the password.
func (s *Service) Deposit(ctx context.Context, userID, password string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", user.ErrInvalidArgument)
	}
	if err := s.CheckPassword(ctx, userID, password); err != nil {
		return err
	}
	return s.store.Deposit(ctx, userID, amount)
}

// Get returns the account, including its current balance.
func (s *Service) Get(ctx context.Context, userID string) (user.User, error) {
	return s.store.GetUser(ctx, userID)
}

// CheckPassword verifies a credential. A missing account reads as an
// authentication failure so callers cannot probe for registered ids.
func (s *Service) CheckPassword(ctx context.Context, userID, password string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.ErrAuthFailed
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return user.ErrAuthFailed
	}
	return nil
}

// CheckToken verifies that the token is the account's live session and that
// its signature and expiry still hold.
func (s *Service) CheckToken(ctx context.Context, userID, token string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.ErrAuthFailed
		}
		return err
	}
	if u.Token == "" || u.Token != hashToken(token) {
		return user.ErrAuthFailed
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid || claims.UserID != userID {
		return user.ErrAuthFailed
	}
	return nil
}

func (s *Service) signToken(userID, terminal string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Terminal: terminal,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenLifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func newTerminal() string {
	return "terminal_" + uuid.NewString()
}

// hashToken is the at-rest form of a session token. Stores never see the
// raw credential.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
