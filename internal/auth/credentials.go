package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/d9705996/tenauth/internal/apperr"
	"github.com/d9705996/tenauth/internal/model"
	"github.com/d9705996/tenauth/internal/role"
	"github.com/d9705996/tenauth/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// UserView is the caller-safe projection of a user record. It never carries
// the password hash or the refresh-token hash.
type UserView struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	TenantID           string     `json:"tenantId,omitempty"`
	Roles              []string   `json:"roles"`
	IsActive           bool       `json:"isActive"`
	MustChangePassword bool       `json:"mustChangePassword"`
	LastLoginAt        *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// ViewOf strips a user record down to its safe view.
func ViewOf(u *model.User) UserView {
	v := UserView{
		ID:                 u.ID,
		Email:              u.Email,
		Roles:              []string(u.Roles),
		IsActive:           u.IsActive,
		MustChangePassword: u.MustChangePassword,
		LastLoginAt:        u.LastLoginAt,
		CreatedAt:          u.CreatedAt,
	}
	if u.TenantID != nil {
		v.TenantID = *u.TenantID
	}
	return v
}

// NormalizeEmail lower-cases and trims an email before any lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateCredentials checks email/password against an active tenant-scoped
// user. Failure messages are uniform regardless of whether the email exists,
// to avoid account enumeration. The must-change-password check happens
// strictly after password verification so that mid-onboarding accounts are
// not discoverable without the correct password.
func (s *Service) validateCredentials(ctx context.Context, tenantID, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)

	u, err := s.users.ActiveUserByEmail(ctx, &tenantID, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.InvalidCredentials, "invalid credentials")
		}
		return nil, err
	}

	// Super admins authenticate only through the system-tenant path.
	if role.Contains(u.Roles, role.SuperAdmin) {
		return nil, apperr.E(apperr.Forbidden, "use the super-admin login for this account")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.E(apperr.InvalidCredentials, "invalid credentials")
	}

	if u.MustChangePassword {
		return nil, apperr.E(apperr.MustChangePassword,
			"you must change your password before logging in")
	}

	return u, nil
}

// validateSuperAdminCredentials checks credentials against the system scope:
// users with no tenant and the superadmin role. Regular accounts never match.
func (s *Service) validateSuperAdminCredentials(ctx context.Context, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)

	u, err := s.users.ActiveUserByEmail(ctx, nil, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.InvalidCredentials, "invalid credentials")
		}
		return nil, err
	}

	if !role.Contains(u.Roles, role.SuperAdmin) {
		return nil, apperr.E(apperr.InvalidCredentials, "invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.E(apperr.InvalidCredentials, "invalid credentials")
	}

	return u, nil
}

// ValidateCredentials is the exported credential check used by the HTTP
// layer; it returns the safe view of the matched user.
func (s *Service) ValidateCredentials(ctx context.Context, tenantID, email, password string) (*UserView, error) {
	u, err := s.validateCredentials(ctx, tenantID, email, password)
	if err != nil {
		return nil, err
	}
	v := ViewOf(u)
	return &v, nil
}
