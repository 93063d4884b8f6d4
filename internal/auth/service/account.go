package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/internal/auth/store"
	"github.com/stafflane/stafflane/pkg/cryptox"
	"github.com/stafflane/stafflane/pkg/idx"
)

const minPasswordLength = 8

var (
	ErrWeakPassword  = errors.New("weak_password")
	ErrInvalidEmail  = errors.New("invalid_email")
	ErrUnknownRole   = errors.New("unknown_role")
	ErrEmailInUse    = errors.New("email_in_use")
	ErrWrongPassword = errors.New("wrong_password")
)

type AccountService struct {
	Store store.Store
}

// Create registers a new account with password-only authentication. MFA is
// opt-in afterwards via enrollment.
func (s *AccountService) Create(ctx context.Context, email, password, role string) (domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.Account{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return domain.Account{}, ErrWeakPassword
	}
	switch role {
	case domain.RoleWorker, domain.RoleManager, domain.RoleAdmin:
	default:
		return domain.Account{}, ErrUnknownRole
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	account := domain.Account{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		MFAState:     domain.MFADisabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Accounts().CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Account{}, ErrEmailInUse
		}
		return domain.Account{}, err
	}
	return account, nil
}

// Get returns an account by id.
func (s *AccountService) Get(ctx context.Context, accountID string) (domain.Account, error) {
	return s.Store.Accounts().GetAccountByID(ctx, accountID)
}

// ChangePassword rotates the password after re-proving the current one.
func (s *AccountService) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if len(next) < minPasswordLength {
		return ErrWeakPassword
	}

	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := cryptox.VerifyPassword(current, account.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return ErrWrongPassword
		}
		return err
	}

	hash, err := cryptox.HashPassword(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.Store.Accounts().UpdatePasswordHash(ctx, accountID, hash)
}
