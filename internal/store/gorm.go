package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/d9705996/tenauth/internal/model"
	"gorm.io/gorm"
)

// Store implements every repository interface in this package on top of a
// single GORM handle.
type Store struct {
	db *gorm.DB
}

// New creates a Store backed by the given GORM DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

// userScope restricts a query to the tenant scope: a nil tenant id selects
// system-scope users (no tenant at all), never a fall-through default.
func userScope(q *gorm.DB, tenantID *string) *gorm.DB {
	if tenantID == nil {
		return q.Where("tenant_id IS NULL")
	}
	return q.Where("tenant_id = ?", *tenantID)
}

// ---- Users ----------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", translate(err))
	}
	return nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) ActiveUserByEmail(ctx context.Context, tenantID *string, email string) (*model.User, error) {
	var u model.User
	q := s.db.WithContext(ctx).Where("email = ? AND is_active = ?", email, true)
	if err := userScope(q, tenantID).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) UserInTenant(ctx context.Context, tenantID, userID string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", userID, tenantID).
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) UsersByTenant(ctx context.Context, tenantID string) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// rolePattern matches a role inside the JSON-serialised roles column.
// Quoting the role name keeps "admin" from matching "superadmin".
func rolePattern(role string) string {
	return `%"` + role + `"%`
}

func (s *Store) CountOtherActiveAdmins(ctx context.Context, tenantID, excludeUserID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("tenant_id = ? AND is_active = ? AND id <> ? AND roles LIKE ?",
			tenantID, true, excludeUserID, rolePattern("admin")).
		Count(&n).Error
	return n, err
}

func (s *Store) CountSuperAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("tenant_id IS NULL AND roles LIKE ?", rolePattern("superadmin")).
		Count(&n).Error
	return n, err
}

func (s *Store) SetRefreshTokenHash(ctx context.Context, userID string, hash *string) error {
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Update("refresh_token_hash", hash).Error
}

func (s *Store) ClearRefreshTokenHashIf(ctx context.Context, userID, currentHash string) error {
	// Conditional compare-and-clear: concurrent calls with the same stale
	// hash all converge on a null hash without extra locking.
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND refresh_token_hash = ?", userID, currentHash).
		Update("refresh_token_hash", nil).Error
}

func (s *Store) SetUserActive(ctx context.Context, tenantID, userID string, active bool) (*model.User, error) {
	u, err := s.UserInTenant(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(u).Update("is_active", active).Error
	if err != nil {
		return nil, err
	}
	u.IsActive = active
	return u, nil
}

func (s *Store) SetUserRoles(ctx context.Context, tenantID, userID string, roles []string) (*model.User, error) {
	u, err := s.UserInTenant(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(u).Update("roles", model.StringSlice(roles)).Error
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return u, nil
}

func (s *Store) SetPassword(ctx context.Context, userID, passwordHash string, mustChange bool) error {
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"password_hash":        passwordHash,
			"must_change_password": mustChange,
		}).Error
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Update("last_login_at", time.Now()).Error
}

func (s *Store) UserCounts(ctx context.Context, tenantID string) (total, active int64, err error) {
	q := s.db.WithContext(ctx).Model(&model.User{}).Where("tenant_id = ?", tenantID)
	if err = q.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = s.db.WithContext(ctx).Model(&model.User{}).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Count(&active).Error
	return total, active, err
}

// ---- Tenants --------------------------------------------------------------

func (s *Store) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create tenant: %w", translate(err))
	}
	return nil
}

func (s *Store) ActiveTenantByIDOrSlug(ctx context.Context, key string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.WithContext(ctx).
		Where("(id = ? OR slug = ?) AND is_active = ?", key, key, true).
		First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *Store) TenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *Store) TenantByDomain(ctx context.Context, domain string) (*model.Tenant, error) {
	// Allowed domains live inside the JSON settings document, so the match
	// happens in-process to stay driver-agnostic.
	var tenants []model.Tenant
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&tenants).Error
	if err != nil {
		return nil, err
	}
	for i := range tenants {
		for _, d := range tenants[i].Settings.AllowedDomains {
			if d == domain {
				return &tenants[i], nil
			}
		}
	}
	return nil, ErrNotFound
}

// ---- Devices --------------------------------------------------------------

func (s *Store) UpsertDevice(ctx context.Context, userID, tenantID string, attrs DeviceAttrs) (*model.Device, error) {
	now := time.Now()
	var d model.Device
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND tenant_id = ? AND user_id = ?", attrs.DeviceID, tenantID, userID).
		First(&d).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		d = model.Device{
			UserID:     userID,
			TenantID:   tenantID,
			DeviceID:   attrs.DeviceID,
			DeviceName: attrs.DeviceName,
			Platform:   attrs.Platform,
			PushToken:  attrs.PushToken,
			IsActive:   true,
			LastUsedAt: now,
			LastIP:     attrs.LastIP,
			UserAgent:  attrs.UserAgent,
		}
		if err := s.db.WithContext(ctx).Create(&d).Error; err != nil {
			return nil, fmt.Errorf("create device: %w", translate(err))
		}
		return &d, nil
	case err != nil:
		return nil, err
	}

	updates := map[string]any{
		"is_active":    true,
		"last_used_at": now,
	}
	if attrs.DeviceName != "" {
		updates["device_name"] = attrs.DeviceName
	}
	if attrs.Platform != "" {
		updates["platform"] = attrs.Platform
	}
	if attrs.PushToken != "" {
		updates["push_token"] = attrs.PushToken
	}
	if attrs.LastIP != "" {
		updates["last_ip"] = attrs.LastIP
	}
	if attrs.UserAgent != "" {
		updates["user_agent"] = attrs.UserAgent
	}
	if err := s.db.WithContext(ctx).Model(&d).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}
	return &d, nil
}

func (s *Store) ActiveDevice(ctx context.Context, deviceID, tenantID string) (*model.Device, error) {
	var d model.Device
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND tenant_id = ? AND is_active = ?", deviceID, tenantID, true).
		First(&d).Error
	if err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (s *Store) DeactivateDevice(ctx context.Context, deviceID, tenantID, userID string) error {
	res := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("device_id = ? AND tenant_id = ? AND user_id = ?", deviceID, tenantID, userID).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeactivateDeviceByKey(ctx context.Context, deviceID, tenantID string) (*model.Device, error) {
	var d model.Device
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND tenant_id = ?", deviceID, tenantID).
		First(&d).Error
	if err != nil {
		return nil, translate(err)
	}
	if err := s.db.WithContext(ctx).Model(&d).Update("is_active", false).Error; err != nil {
		return nil, err
	}
	d.IsActive = false
	return &d, nil
}

func (s *Store) DeactivateUserDevices(ctx context.Context, userID, tenantID string) error {
	q := s.db.WithContext(ctx).Model(&model.Device{}).Where("user_id = ?", userID)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	return q.Update("is_active", false).Error
}

func (s *Store) CountActiveDevices(ctx context.Context, userID, tenantID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("user_id = ? AND tenant_id = ? AND is_active = ?", userID, tenantID, true).
		Count(&n).Error
	return n, err
}

func (s *Store) DevicesByUser(ctx context.Context, userID, tenantID string) ([]model.Device, error) {
	var devices []model.Device
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		Order("last_used_at DESC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (s *Store) DeviceCounts(ctx context.Context, tenantID string) (total, active int64, err error) {
	err = s.db.WithContext(ctx).Model(&model.Device{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error
	if err != nil {
		return 0, 0, err
	}
	err = s.db.WithContext(ctx).Model(&model.Device{}).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Count(&active).Error
	return total, active, err
}

// ---- Invites --------------------------------------------------------------

func (s *Store) CreateInvite(ctx context.Context, inv *model.Invite) error {
	if err := s.db.WithContext(ctx).Create(inv).Error; err != nil {
		return fmt.Errorf("create invite: %w", translate(err))
	}
	return nil
}

func (s *Store) ValidInvite(ctx context.Context, tenantID, email, code string) (*model.Invite, error) {
	var inv model.Invite
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND email = ? AND code = ? AND used = ? AND expires_at > ?",
			tenantID, email, code, false, time.Now()).
		First(&inv).Error
	if err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (s *Store) PendingInvite(ctx context.Context, tenantID, email string) (*model.Invite, error) {
	var inv model.Invite
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND email = ? AND used = ? AND expires_at > ?",
			tenantID, email, false, time.Now()).
		First(&inv).Error
	if err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (s *Store) ConsumeInvite(ctx context.Context, tenantID, code string) error {
	res := s.db.WithContext(ctx).Model(&model.Invite{}).
		Where("tenant_id = ? AND code = ? AND used = ? AND expires_at > ?",
			tenantID, code, false, time.Now()).
		Update("used", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredInvites(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("used = ? OR expires_at <= ?", true, now).
		Delete(&model.Invite{})
	return res.RowsAffected, res.Error
}

// ---- Setup tokens ---------------------------------------------------------

func (s *Store) CreateSetupToken(ctx context.Context, st *model.SetupToken) error {
	if err := s.db.WithContext(ctx).Create(st).Error; err != nil {
		return fmt.Errorf("create setup token: %w", translate(err))
	}
	return nil
}

func (s *Store) ConsumeSetupToken(ctx context.Context, tokenHash string, now time.Time) error {
	// Single conditional update: out of any number of concurrent claims exactly
	// one can flip used from false to true.
	res := s.db.WithContext(ctx).Model(&model.SetupToken{}).
		Where("token_hash = ? AND used = ? AND expires_at > ?", tokenHash, false, now).
		Updates(map[string]any{"used": true, "used_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var consumed int64
	err := s.db.WithContext(ctx).Model(&model.SetupToken{}).
		Where("token_hash = ? AND used = ?", tokenHash, true).
		Count(&consumed).Error
	if err != nil {
		return err
	}
	if consumed > 0 {
		return ErrGone
	}
	return ErrNotFound
}

func (s *Store) DeleteUnusedSetupTokens(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("used = ?", false).
		Delete(&model.SetupToken{}).Error
}

func (s *Store) DeleteExpiredSetupTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", cutoff).
		Delete(&model.SetupToken{})
	return res.RowsAffected, res.Error
}
