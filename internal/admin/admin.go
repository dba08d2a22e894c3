// Package admin implements tenant-scoped user administration: user and
// invite creation, activation toggles, role management with the last-admin
// guard, device revocation and tenant statistics.
package admin

import (
	"context"
	"crypto/rand"
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
	"github.com/d9705996/tenauth/internal/tenant"
	"golang.org/x/crypto/bcrypt"
)

// inviteTTL is how long an invite code stays redeemable.
const inviteTTL = 7 * 24 * time.Hour

// Service implements the admin operations. Every operation re-verifies the
// acting admin against the store: the caller must be an active admin of the
// tenant, not merely hold an unexpired token.
type Service struct {
	users      store.Users
	devices    store.Devices
	invites    store.Invites
	bcryptCost int
	log        *slog.Logger
}

// NewService creates the admin Service.
func NewService(users store.Users, devices store.Devices, invites store.Invites, bcryptCost int, log *slog.Logger) *Service {
	return &Service{users: users, devices: devices, invites: invites, bcryptCost: bcryptCost, log: log}
}

// requireAdmin loads and verifies the acting admin.
func (s *Service) requireAdmin(ctx context.Context, tenantID, adminID string) (*model.User, error) {
	admin, err := s.users.UserInTenant(ctx, tenantID, adminID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.Forbidden, "admin access required")
		}
		return nil, err
	}
	if !admin.IsActive || !role.Contains(admin.Roles, role.Admin) {
		return nil, apperr.E(apperr.Forbidden, "admin access required")
	}
	return admin, nil
}

// validateTenantRoles checks an admin-supplied role set: non-empty,
// recognised, and never the super-admin role inside a tenant.
func validateTenantRoles(roles []string) error {
	if !role.ValidSet(roles) {
		return apperr.E(apperr.PolicyViolation, "roles must be a non-empty set of recognised roles")
	}
	if role.Contains(roles, role.SuperAdmin) {
		return apperr.E(apperr.PolicyViolation, "the superadmin role cannot be granted inside a tenant")
	}
	return nil
}

// CreateUserInput carries an admin user-creation request.
type CreateUserInput struct {
	Email        string
	TempPassword string
	Roles        []string
}

// CreatedUser is returned from CreateUser. The temporary password is handed
// back to the caller for delivery; dispatching it is an external concern.
type CreatedUser struct {
	User         auth.UserView `json:"user"`
	TempPassword string        `json:"tempPassword"`
}

// CreateUser provisions a tenant user with a temporary password and the
// must-change-password flag set.
func (s *Service) CreateUser(ctx context.Context, tc tenant.Context, adminID string, in CreateUserInput) (*CreatedUser, error) {
	if _, err := s.requireAdmin(ctx, tc.TenantID, adminID); err != nil {
		return nil, err
	}

	roles := in.Roles
	if len(roles) == 0 {
		roles = []string{string(role.User)}
	}
	if err := validateTenantRoles(roles); err != nil {
		return nil, err
	}

	tempPassword := in.TempPassword
	if tempPassword == "" {
		var err error
		tempPassword, err = generatePassword()
		if err != nil {
			return nil, fmt.Errorf("generate temp password: %w", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash temp password: %w", err)
	}

	tenantID := tc.TenantID
	u := &model.User{
		TenantID:           &tenantID,
		Email:              auth.NormalizeEmail(in.Email),
		PasswordHash:       string(hash),
		Roles:              model.StringSlice(roles),
		IsActive:           true,
		MustChangePassword: true,
		CreatedBy:          adminID,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.E(apperr.Conflict, "user already exists in this tenant")
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "admin created user", "tenant", tc.TenantID, "admin", adminID, "user", u.ID)

	return &CreatedUser{User: auth.ViewOf(u), TempPassword: tempPassword}, nil
}

// InviteInput carries an invite request.
type InviteInput struct {
	Email string
	Roles []string
}

// InviteResult is returned from InviteUser. The code is handed back to the
// caller for delivery.
type InviteResult struct {
	Code      string    `json:"code"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// InviteUser creates a single-use, tenant-scoped invite code.
func (s *Service) InviteUser(ctx context.Context, tc tenant.Context, adminID string, in InviteInput) (*InviteResult, error) {
	if _, err := s.requireAdmin(ctx, tc.TenantID, adminID); err != nil {
		return nil, err
	}

	roles := in.Roles
	if len(roles) == 0 {
		roles = []string{string(role.User)}
	}
	if err := validateTenantRoles(roles); err != nil {
		return nil, err
	}

	email := auth.NormalizeEmail(in.Email)

	if _, err := s.users.ActiveUserByEmail(ctx, &tc.TenantID, email); err == nil {
		return nil, apperr.E(apperr.Conflict, "user already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if _, err := s.invites.PendingInvite(ctx, tc.TenantID, email); err == nil {
		return nil, apperr.E(apperr.Conflict, "an invite for that email is already pending")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	code, err := auth.GenerateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate invite code: %w", err)
	}

	inv := &model.Invite{
		Code:      code,
		Email:     email,
		TenantID:  tc.TenantID,
		Roles:     model.StringSlice(roles),
		InvitedBy: adminID,
		ExpiresAt: time.Now().Add(inviteTTL),
	}
	if err := s.invites.CreateInvite(ctx, inv); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.E(apperr.Conflict, "an invite for that email is already pending")
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "invite created", "tenant", tc.TenantID, "admin", adminID, "email", email)

	return &InviteResult{Code: inv.Code, Email: inv.Email, ExpiresAt: inv.ExpiresAt}, nil
}

// ListUsers returns the safe views of every user in the tenant.
func (s *Service) ListUsers(ctx context.Context, tc tenant.Context, adminID string) ([]auth.UserView, error) {
	if _, err := s.requireAdmin(ctx, tc.TenantID, adminID); err != nil {
		return nil, err
	}
	users, err := s.users.UsersByTenant(ctx, tc.TenantID)
	if err != nil {
		return nil, err
	}
	views := make([]auth.UserView, 0, len(users))
	for i := range users {
		views = append(views, auth.ViewOf(&users[i]))
	}
	return views, nil
}

// UserDetails bundles a user's safe view with their device sessions.
type UserDetails struct {
	User    auth.UserView     `json:"user"`
	Devices []auth.DeviceView `json:"devices"`
}

// GetUserDetails returns one user plus their devices.
func (s *Service) GetUserDetails(ctx context.Context, tc tenant.Context, adminID, userID string) (*UserDetails, error) {
	if _, err := s.requireAdmin(ctx, tc.TenantID, adminID); err != nil {
		return nil, err
	}

	u, err := s.users.UserInTenant(ctx, tc.TenantID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "user not found")
		}
		return nil, err
	}

	devices, err := s.devices.DevicesByUser(ctx, userID, tc.TenantID)
	if err != nil {
		return nil, err
	}

	details := &UserDetails{User: auth.ViewOf(u), Devices: make([]auth.DeviceView, 0, len(devices))}
	for _, d := range devices {
		details.Devices = append(details.Devices, auth.DeviceView{
			DeviceID:   d.DeviceID,
			DeviceName: d.DeviceName,
			Platform:   d.Platform,
			IsActive:   d.IsActive,
			LastUsedAt: d.LastUsedAt,
			LastIP:     d.LastIP,
			UserAgent:  d.UserAgent,
		})
	}
	return details, nil
}

// DeactivateUser disables an account, revokes its devices and clears its
// refresh hash. Self-deactivation is refused while no other active admin
// exists, so a tenant can never lock itself out.
func (s *Service) DeactivateUser(ctx context.Context, tc tenant.Context, adminID, userID string) (*auth.UserView, error) {
	if _, err := s.requireAdmin(ctx, tc.TenantID, adminID); err != nil {
		return nil, err
	}

	if userID == adminID {
		others, err := s.users.CountOtherActiveAdmins(ctx, tc.TenantID, adminID)
		if err != nil {
			return nil, err
		}
		if others == 0 {
			return nil, apperr.E(apperr.PolicyViolation,
				"cannot deactivate the tenant's only active admin")
		}
	}

	u, err := s.users.SetUserActive(ctx, tc.TenantID, userID, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "user not found")
		}
		return nil, err
	}

	if err := s.devices.DeactivateUserDevices(ctx, userID, tc.TenantID); err != nil {
		return nil, fmt.Errorf("deactivate devices: %w", err)
	}
	if err := s.users.SetRefreshTokenHash(ctx, userID, nil); err != nil {
		return nil, fmt.Errorf("clear refresh hash: %w", err)
	}

	s.log.InfoContext(ctx, "user deactivated", "tenant", tc.TenantID, "admin", adminID, "user", userID)

	v := auth.ViewOf(u)
	return &v, nil
}

// ReactivateUser re-enables a previously deactivated account.
func (s *Service) ReactivateUser(ctx context.Context, tc tenant.Context, adminID, userID string) (*auth.UserView, error) {
	if _, err := s.requireAdmin(ctx, tc.TenantID, adminID); err != nil {
		return nil, err
	}

	u, err := s.users.SetUserActive(ctx, tc.TenantID, userID, true)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "user not found")
		}
		return nil, err
	}

	v := auth.ViewOf(u)
	return &v, nil
}

// UpdateUserRoles replaces a user's role set. A self-demotion out of the
// admin role is refused while no other active admin exists.
func (s *Service) UpdateUserRoles(ctx context.Context, tc tenant.Context, adminID, userID string, roles []string) (*auth.UserView, error) {
	if _, err := s.requireAdmin(ctx, tc.TenantID, adminID); err != nil {
		return nil, err
	}
	if err := validateTenantRoles(roles); err != nil {
		return nil, err
	}

	if userID == adminID && !role.Contains(roles, role.Admin) {
		others, err := s.users.CountOtherActiveAdmins(ctx, tc.TenantID, adminID)
		if err != nil {
			return nil, err
		}
		if others == 0 {
			return nil, apperr.E(apperr.PolicyViolation,
				"cannot remove the admin role from the tenant's only active admin")
		}
	}

	u, err := s.users.SetUserRoles(ctx, tc.TenantID, userID, roles)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "user not found")
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "roles updated", "tenant", tc.TenantID, "admin", adminID, "user", userID, "roles", roles)

	v := auth.ViewOf(u)
	return &v, nil
}

// RevokedDevice is returned from RevokeDevice.
type RevokedDevice struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId"`
}

// RevokeDevice deactivates a device by (device, tenant) key. When it was the
// owner's last active device the stored refresh hash is cleared too, so no
// valid refresh token survives without a session referencing it.
func (s *Service) RevokeDevice(ctx context.Context, tc tenant.Context, adminID, deviceID string) (*RevokedDevice, error) {
	if _, err := s.requireAdmin(ctx, tc.TenantID, adminID); err != nil {
		return nil, err
	}

	d, err := s.devices.DeactivateDeviceByKey(ctx, deviceID, tc.TenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "device not found")
		}
		return nil, err
	}

	remaining, err := s.devices.CountActiveDevices(ctx, d.UserID, tc.TenantID)
	if err != nil {
		return nil, err
	}
	if remaining == 0 {
		if err := s.users.SetRefreshTokenHash(ctx, d.UserID, nil); err != nil {
			return nil, fmt.Errorf("clear refresh hash: %w", err)
		}
	}

	s.log.InfoContext(ctx, "device revoked", "tenant", tc.TenantID, "admin", adminID, "device", deviceID, "user", d.UserID)

	return &RevokedDevice{DeviceID: d.DeviceID, UserID: d.UserID}, nil
}

// TenantStats summarises a tenant's user and device population.
type TenantStats struct {
	Users struct {
		Total    int64 `json:"total"`
		Active   int64 `json:"active"`
		Inactive int64 `json:"inactive"`
	} `json:"users"`
	Devices struct {
		Total  int64 `json:"total"`
		Active int64 `json:"active"`
	} `json:"devices"`
}

// GetTenantStats returns user/device counts for the tenant.
func (s *Service) GetTenantStats(ctx context.Context, tc tenant.Context, adminID string) (*TenantStats, error) {
	if _, err := s.requireAdmin(ctx, tc.TenantID, adminID); err != nil {
		return nil, err
	}

	stats := &TenantStats{}
	total, active, err := s.users.UserCounts(ctx, tc.TenantID)
	if err != nil {
		return nil, err
	}
	stats.Users.Total = total
	stats.Users.Active = active
	stats.Users.Inactive = total - active

	total, active, err = s.devices.DeviceCounts(ctx, tc.TenantID)
	if err != nil {
		return nil, err
	}
	stats.Devices.Total = total
	stats.Devices.Active = active

	return stats, nil
}

func generatePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
