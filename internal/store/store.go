// Package store provides the persistence layer for tenants, users, devices,
// invites and setup tokens. Consumers depend on the narrow interfaces below;
// Store implements all of them on top of GORM.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/d9705996/tenauth/internal/model"
)

var (
	// ErrNotFound is returned when no row matches the query.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a uniqueness constraint would be violated.
	ErrConflict = errors.New("store: conflict")
	// ErrGone is returned when a single-use token has already been consumed.
	ErrGone = errors.New("store: already used")
)

// DeviceAttrs carries the mutable attributes applied on device upsert.
type DeviceAttrs struct {
	DeviceID   string
	DeviceName string
	Platform   string
	PushToken  string
	LastIP     string
	UserAgent  string
}

// Users is the user repository consumed by the auth, admin and bootstrap
// packages. All tenant-scoped methods treat a nil/empty tenant id as the
// system scope (tenant_id IS NULL).
type Users interface {
	CreateUser(ctx context.Context, u *model.User) error
	UserByID(ctx context.Context, id string) (*model.User, error)
	// ActiveUserByEmail looks up an active user by normalised email.
	// tenantID nil selects system-scope users (no tenant).
	ActiveUserByEmail(ctx context.Context, tenantID *string, email string) (*model.User, error)
	UserInTenant(ctx context.Context, tenantID, userID string) (*model.User, error)
	UsersByTenant(ctx context.Context, tenantID string) ([]model.User, error)
	// CountOtherActiveAdmins counts active admins in the tenant excluding
	// excludeUserID. Used by the last-admin guard.
	CountOtherActiveAdmins(ctx context.Context, tenantID, excludeUserID string) (int64, error)
	CountSuperAdmins(ctx context.Context) (int64, error)
	SetRefreshTokenHash(ctx context.Context, userID string, hash *string) error
	// ClearRefreshTokenHashIf nulls the stored refresh hash only while it
	// still equals currentHash. Matching zero rows is not an error, which
	// makes concurrent revocations idempotent.
	ClearRefreshTokenHashIf(ctx context.Context, userID, currentHash string) error
	SetUserActive(ctx context.Context, tenantID, userID string, active bool) (*model.User, error)
	SetUserRoles(ctx context.Context, tenantID, userID string, roles []string) (*model.User, error)
	SetPassword(ctx context.Context, userID, passwordHash string, mustChange bool) error
	TouchLastLogin(ctx context.Context, userID string) error
	UserCounts(ctx context.Context, tenantID string) (total, active int64, err error)
}

// Tenants is the tenant repository consumed by the resolver and the
// discovery endpoints.
type Tenants interface {
	CreateTenant(ctx context.Context, t *model.Tenant) error
	// ActiveTenantByIDOrSlug returns an active tenant matching key as either
	// primary key or slug. Inactive tenants are never returned.
	ActiveTenantByIDOrSlug(ctx context.Context, key string) (*model.Tenant, error)
	TenantBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	TenantByDomain(ctx context.Context, domain string) (*model.Tenant, error)
}

// Devices is the device/session repository.
type Devices interface {
	UpsertDevice(ctx context.Context, userID, tenantID string, attrs DeviceAttrs) (*model.Device, error)
	ActiveDevice(ctx context.Context, deviceID, tenantID string) (*model.Device, error)
	DeactivateDevice(ctx context.Context, deviceID, tenantID, userID string) error
	// DeactivateDeviceByKey deactivates by (device_id, tenant_id) without
	// knowing the owner, returning the row so callers learn the user id.
	DeactivateDeviceByKey(ctx context.Context, deviceID, tenantID string) (*model.Device, error)
	// DeactivateUserDevices deactivates every device for userID. An empty
	// tenantID spans all tenants (used on theft detection).
	DeactivateUserDevices(ctx context.Context, userID, tenantID string) error
	CountActiveDevices(ctx context.Context, userID, tenantID string) (int64, error)
	DevicesByUser(ctx context.Context, userID, tenantID string) ([]model.Device, error)
	DeviceCounts(ctx context.Context, tenantID string) (total, active int64, err error)
}

// Invites is the invite repository.
type Invites interface {
	CreateInvite(ctx context.Context, inv *model.Invite) error
	// ValidInvite returns the unused, unexpired invite matching the tenant,
	// normalised email and code.
	ValidInvite(ctx context.Context, tenantID, email, code string) (*model.Invite, error)
	PendingInvite(ctx context.Context, tenantID, email string) (*model.Invite, error)
	// ConsumeInvite marks the code used via a conditional update; returns
	// ErrNotFound when the code is missing, expired or already consumed.
	ConsumeInvite(ctx context.Context, tenantID, code string) error
	DeleteExpiredInvites(ctx context.Context, now time.Time) (int64, error)
}

// SetupTokens is the bootstrap setup-token repository.
type SetupTokens interface {
	CreateSetupToken(ctx context.Context, st *model.SetupToken) error
	// ConsumeSetupToken atomically claims the token (used=false and
	// unexpired -> used=true). Returns ErrGone when the token was already
	// consumed and ErrNotFound when it does not exist or has expired.
	ConsumeSetupToken(ctx context.Context, tokenHash string, now time.Time) error
	DeleteUnusedSetupTokens(ctx context.Context) error
	DeleteExpiredSetupTokens(ctx context.Context, cutoff time.Time) (int64, error)
}
