package user

import (
	"errors"
	"time"
)

// User represents a registered account. The same record serves buyers and
// sellers; the Balance field is the internal ledger balance spent by payments
// and topped up by deposits.
type User struct {
	ID           string
	PasswordHash string
	Balance      int64
	Token        string
	Terminal     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	// ErrNotFound indicates the requested user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrExists indicates the user id is already registered.
	ErrExists = errors.New("user already exists")
	// ErrAuthFailed indicates a password or token mismatch.
	ErrAuthFailed = errors.New("authorization failed")
	// ErrInsufficientFunds indicates the ledger balance cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidArgument indicates a malformed request value.
	ErrInvalidArgument = errors.New("invalid argument")
)
