// Package identity checks user credentials against the user store. It is the
// only place passwords are looked at; everything downstream works with
// auth.Identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/imanojprajapati/visitrack-v3-sub002/internal/auth"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/crypto"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/model"
)

var (
	ErrMissingCredentials = errors.New("missing_credentials")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrUnknownUser        = errors.New("unknown_user")
)

type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
}

type Verifier interface {
	Verify(ctx context.Context, email, password string) (auth.Identity, error)
	Lookup(ctx context.Context, userID string) (auth.Identity, error)
}

type PasswordVerifier struct {
	users UserLookup
}

func NewPasswordVerifier(users UserLookup) *PasswordVerifier {
	return &PasswordVerifier{users: users}
}

func (v *PasswordVerifier) Verify(ctx context.Context, email, password string) (auth.Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return auth.Identity{}, ErrMissingCredentials
	}

	user, err := v.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Identity{}, ErrInvalidCredentials
		}
		return auth.Identity{}, fmt.Errorf("get user by email: %w", err)
	}
	if err := crypto.CheckPassword(user.PasswordHash, password); err != nil {
		return auth.Identity{}, ErrInvalidCredentials
	}
	return auth.Identity{UserID: user.ID, Email: user.Email}, nil
}

// Lookup confirms a previously verified user still exists.
func (v *PasswordVerifier) Lookup(ctx context.Context, userID string) (auth.Identity, error) {
	user, err := v.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Identity{}, ErrUnknownUser
		}
		return auth.Identity{}, fmt.Errorf("get user by id: %w", err)
	}
	return auth.Identity{UserID: user.ID, Email: user.Email}, nil
}

// Message is the user-facing text for a verification outcome.
func Message(err error) string {
	switch {
	case err == nil:
		return "Logged in"
	case errors.Is(err, ErrMissingCredentials):
		return "Email and password are required"
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, ErrUnknownUser):
		return "Account no longer exists"
	default:
		return "Unable to verify credentials"
	}
}

// IsRejection reports whether err is a verdict on the credentials rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrUnknownUser)
}
