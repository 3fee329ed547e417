package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/aussiebroadwan/sessiond/internal/auth/domain"
	"github.com/aussiebroadwan/sessiond/internal/auth/store"
	"github.com/aussiebroadwan/sessiond/pkg/cryptox"
	"github.com/aussiebroadwan/sessiond/pkg/idx"
	"github.com/aussiebroadwan/sessiond/pkg/slogx"
)

// MinPasswordLength is the shortest password CreateUser accepts.
const MinPasswordLength = 8

// SeedRoleName is the role granted to the seeded first user.
const SeedRoleName = "admin"

var (
	ErrInvalidEmail = errors.New("invalid_email")
	ErrWeakPassword = errors.New("weak_password")
	ErrUserExists   = errors.New("user_exists")
)

// UserService is the password directory behind Login. It implements
// Authenticator and RoleLookup.
type UserService struct {
	Store store.Directory
}

var (
	_ Authenticator = (*UserService)(nil)
	_ RoleLookup    = (*UserService)(nil)
)

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, userID)
}

// CreateUser hashes the password and stores the user with the given roles in
// one transaction.
func (s *UserService) CreateUser(
	ctx context.Context,
	email, displayName, password string,
	roleIDs []int,
) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return domain.User{}, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return domain.User{}, ErrWeakPassword
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, user); err != nil {
			return err
		}
		for _, roleID := range roleIDs {
			if err := tx.Users().AssignRole(ctx, user.ID, roleID); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return domain.User{}, ErrUserExists
	}
	if err != nil {
		return domain.User{}, err
	}

	return s.Store.Users().GetUserByID(ctx, user.ID)
}

// Authenticate verifies email and password. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			slogx.FromContext(ctx).Error("stored password hash unusable",
				slog.String("user_id", user.ID), slog.Any("error", err))
		}
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// RoleIDs returns the role ids held by the user, empty if none.
func (s *UserService) RoleIDs(ctx context.Context, userID string) ([]int, error) {
	return s.Store.Users().ListRoleIDs(ctx, userID)
}

// EnsureRole returns the named role, creating it when missing.
func (s *UserService) EnsureRole(ctx context.Context, name string) (domain.Role, error) {
	role, err := s.Store.Roles().GetRoleByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Role{}, err
	}

	role, err = s.Store.Roles().CreateRole(ctx, name)
	if errors.Is(err, store.ErrAlreadyExists) {
		// Lost a race with another instance
		return s.Store.Roles().GetRoleByName(ctx, name)
	}
	return role, err
}

// SeedUser creates the first user with the admin role when the directory is
// still empty. It reports whether a user was created.
func (s *UserService) SeedUser(ctx context.Context, email, password string) (bool, error) {
	l := slogx.FromContext(ctx)

	empty, err := s.Store.Users().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	if !empty {
		l.Debug("user directory already populated, skipping seed")
		return false, nil
	}

	role, err := s.EnsureRole(ctx, SeedRoleName)
	if err != nil {
		return false, fmt.Errorf("ensure seed role: %w", err)
	}

	user, err := s.CreateUser(ctx, email, "", password, []int{role.ID})
	if err != nil {
		return false, fmt.Errorf("create seed user: %w", err)
	}

	l.Info("seeded initial user", slog.String("user_id", user.ID), slog.String("email", user.Email))
	return true, nil
}
