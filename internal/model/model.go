// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SystemTenantID is the reserved tenant id for platform-wide super admins.
// It never corresponds to a row in the tenants table; tenant resolution
// short-circuits on it and no ordinary user record may carry it.
const SystemTenantID = "system"

// StringSlice is a []string that GORM serialises as JSON for both SQLite
// and PostgreSQL TEXT columns.
type StringSlice []string

// TenantSettings is the per-tenant settings document, stored as JSON.
type TenantSettings struct {
	RequireInvite     bool     `json:"requireInvite"`
	AllowPublicSignup bool     `json:"allowPublicSignup"`
	AllowedDomains    []string `json:"allowedDomains,omitempty"`
	LogoURL           string   `json:"logoUrl,omitempty"`
	ThemeColor        string   `json:"themeColor,omitempty"`
}

// Tenant is the GORM model for the tenants table.
type Tenant struct {
	ID        string         `gorm:"type:text;primaryKey"`
	Name      string         `gorm:"type:text;not null"`
	Slug      string         `gorm:"type:text;not null;uniqueIndex"`
	IsActive  bool           `gorm:"not null;default:true"`
	Settings  TenantSettings `gorm:"type:text;serializer:json"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (t *Tenant) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// User is the GORM model for the users table.
// TenantID is nil only for super admins, which live outside any tenant.
// RefreshTokenHash holds a SHA-256 fingerprint of the single currently valid
// refresh token; the plaintext token is never persisted.
type User struct {
	ID                 string      `gorm:"type:text;primaryKey"`
	TenantID           *string     `gorm:"type:text;index;uniqueIndex:idx_users_email_tenant"`
	Email              string      `gorm:"type:text;not null;uniqueIndex:idx_users_email_tenant"`
	PasswordHash       string      `gorm:"type:text;not null"`
	Roles              StringSlice `gorm:"type:text;not null;default:'[]';serializer:json"`
	IsActive           bool        `gorm:"not null;default:true"`
	MustChangePassword bool        `gorm:"not null;default:false"`
	RefreshTokenHash   *string     `gorm:"type:text"`
	LastLoginAt        *time.Time
	CreatedBy          string    `gorm:"type:text;not null;default:''"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// Device platform values.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

// Device is the GORM model for the devices table. One row exists per
// (device_id, tenant_id, user_id); login and refresh upsert it.
type Device struct {
	ID         string    `gorm:"type:text;primaryKey"`
	UserID     string    `gorm:"type:text;not null;index;uniqueIndex:idx_devices_key"`
	TenantID   string    `gorm:"type:text;not null;uniqueIndex:idx_devices_key"`
	DeviceID   string    `gorm:"type:text;not null;uniqueIndex:idx_devices_key"`
	DeviceName string    `gorm:"type:text;not null;default:''"`
	Platform   string    `gorm:"type:text;not null;default:''"`
	PushToken  string    `gorm:"type:text;not null;default:''"`
	IsActive   bool      `gorm:"not null;default:true"`
	LastUsedAt time.Time `gorm:"not null"`
	LastIP     string    `gorm:"type:text;not null;default:''"`
	UserAgent  string    `gorm:"type:text;not null;default:''"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (d *Device) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// Invite is the GORM model for the invites table. Codes are single-use and
// tenant-scoped; expired or used rows are purged by the background worker.
type Invite struct {
	ID        string      `gorm:"type:text;primaryKey"`
	Code      string      `gorm:"type:text;not null;uniqueIndex"`
	Email     string      `gorm:"type:text;not null;index"`
	TenantID  string      `gorm:"type:text;not null;index"`
	Roles     StringSlice `gorm:"type:text;not null;default:'[]';serializer:json"`
	InvitedBy string      `gorm:"type:text;not null"`
	ExpiresAt time.Time   `gorm:"not null"`
	Used      bool        `gorm:"not null;default:false"`
	CreatedAt time.Time   `gorm:"not null"`
	UpdatedAt time.Time   `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (i *Invite) BeforeCreate(_ *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}

// SetupToken is the GORM model for the single-use bootstrap tokens table.
// Only a SHA-256 hash of the token is stored. Consumption is an atomic
// conditional update so concurrent claims cannot both succeed.
type SetupToken struct {
	ID        string    `gorm:"type:text;primaryKey"`
	TokenHash string    `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null"`
	Used      bool      `gorm:"not null;default:false"`
	UsedAt    *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (st *SetupToken) BeforeCreate(_ *gorm.DB) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	return nil
}
