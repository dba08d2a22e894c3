// Package bootstrap handles first-run initialisation: when no super-admin
// exists yet, a single-use setup token gates the creation of the first one.
// The token is logged once at startup and never stored in the clear.
package bootstrap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/d9705996/tenauth/internal/apperr"
	"github.com/d9705996/tenauth/internal/auth"
	"github.com/d9705996/tenauth/internal/model"
	"github.com/d9705996/tenauth/internal/role"
	"github.com/d9705996/tenauth/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// setupTokenTTL is how long a freshly minted setup token stays valid.
const setupTokenTTL = 30 * time.Minute

// Service implements the bootstrap flow.
type Service struct {
	users      store.Users
	tokens     store.SetupTokens
	bcryptCost int
	log        *slog.Logger
}

// NewService creates the bootstrap Service.
func NewService(users store.Users, tokens store.SetupTokens, bcryptCost int, log *slog.Logger) *Service {
	return &Service{users: users, tokens: tokens, bcryptCost: bcryptCost, log: log}
}

// RequiresSetup reports whether no super-admin account exists yet.
func (s *Service) RequiresSetup(ctx context.Context) (bool, error) {
	n, err := s.users.CountSuperAdmins(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// EnsureSetupToken mints a setup token at startup when the system still
// requires setup. Older unused tokens are invalidated first so only the most
// recently logged token works. The plaintext is returned for logging and
// never persisted.
func (s *Service) EnsureSetupToken(ctx context.Context) (string, error) {
	needed, err := s.RequiresSetup(ctx)
	if err != nil {
		return "", err
	}
	if !needed {
		return "", nil
	}

	token, err := s.GenerateSetupToken(ctx)
	if err != nil {
		return "", err
	}
	s.log.WarnContext(ctx, "no super-admin exists; setup token minted",
		"token", token, "expires_in", setupTokenTTL.String())
	return token, nil
}

// GenerateSetupToken invalidates unused tokens and mints a fresh one valid
// for thirty minutes.
func (s *Service) GenerateSetupToken(ctx context.Context) (string, error) {
	if err := s.tokens.DeleteUnusedSetupTokens(ctx); err != nil {
		return "", fmt.Errorf("invalidate stale setup tokens: %w", err)
	}

	token, err := auth.GenerateOpaqueToken()
	if err != nil {
		return "", fmt.Errorf("generate setup token: %w", err)
	}

	st := &model.SetupToken{
		TokenHash: hashSetupToken(token),
		ExpiresAt: time.Now().Add(setupTokenTTL),
	}
	if err := s.tokens.CreateSetupToken(ctx, st); err != nil {
		return "", fmt.Errorf("store setup token: %w", err)
	}
	return token, nil
}

// FirstAdminInput carries the initial super-admin creation request.
type FirstAdminInput struct {
	SetupToken string
	Email      string
	Password   string
}

// CreateFirstAdmin consumes the setup token atomically and creates the
// tenant-less super-admin. Out of any number of concurrent attempts with the
// same token at most one succeeds; the rest see Gone.
func (s *Service) CreateFirstAdmin(ctx context.Context, in FirstAdminInput) (*auth.UserView, error) {
	needed, err := s.RequiresSetup(ctx)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, apperr.E(apperr.Conflict, "setup has already been completed")
	}

	err = s.tokens.ConsumeSetupToken(ctx, hashSetupToken(in.SetupToken), time.Now())
	switch {
	case errors.Is(err, store.ErrGone):
		return nil, apperr.E(apperr.Gone, "setup token has already been used")
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.E(apperr.InvalidToken, "invalid or expired setup token")
	case err != nil:
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		TenantID:     nil,
		Email:        auth.NormalizeEmail(in.Email),
		PasswordHash: string(hash),
		Roles:        model.StringSlice{string(role.SuperAdmin)},
		IsActive:     true,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.E(apperr.Conflict, "an account with that email already exists")
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "first super-admin created", "user", u.ID, "email", u.Email)

	v := auth.ViewOf(u)
	return &v, nil
}

func hashSetupToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
