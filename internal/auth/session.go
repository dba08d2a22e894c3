package auth

import (
	"context"
	"fmt"

	"github.com/d9705996/tenauth/internal/model"
	"github.com/d9705996/tenauth/internal/store"
)

// Tracker records one device session per (device, tenant, user) and owns all
// device-record mutation. Deactivating a user's last active device also
// clears the stored refresh-token hash so no valid refresh token outlives
// the sessions that reference it.
type Tracker struct {
	devices store.Devices
	users   store.Users
}

// NewTracker creates a Tracker over the given repositories.
func NewTracker(devices store.Devices, users store.Users) *Tracker {
	return &Tracker{devices: devices, users: users}
}

// Upsert creates or refreshes the session record for the device, touching
// last-used and reactivating a previously revoked record.
func (t *Tracker) Upsert(ctx context.Context, userID, tenantID string, attrs store.DeviceAttrs) (*model.Device, error) {
	d, err := t.devices.UpsertDevice(ctx, userID, tenantID, attrs)
	if err != nil {
		return nil, fmt.Errorf("upsert device: %w", err)
	}
	return d, nil
}

// Deactivate logs out a single device. When it was the user's last active
// device the refresh-token hash is cleared as well.
func (t *Tracker) Deactivate(ctx context.Context, tenantID, userID, deviceID string) error {
	if err := t.devices.DeactivateDevice(ctx, deviceID, tenantID, userID); err != nil {
		return err
	}
	return t.clearHashIfNoneActive(ctx, tenantID, userID)
}

// DeactivateAll logs out every device for the user and always clears the
// refresh-token hash. Calling it repeatedly is a no-op, not an error.
func (t *Tracker) DeactivateAll(ctx context.Context, tenantID, userID string) error {
	if err := t.devices.DeactivateUserDevices(ctx, userID, tenantID); err != nil {
		return fmt.Errorf("deactivate devices: %w", err)
	}
	return t.users.SetRefreshTokenHash(ctx, userID, nil)
}

// CountActive returns the number of active sessions for the user.
func (t *Tracker) CountActive(ctx context.Context, tenantID, userID string) (int64, error) {
	return t.devices.CountActiveDevices(ctx, userID, tenantID)
}

// clearHashIfNoneActive applies the "no orphaned refresh token" rule shared
// by single-device logout and admin device revocation.
func (t *Tracker) clearHashIfNoneActive(ctx context.Context, tenantID, userID string) error {
	n, err := t.devices.CountActiveDevices(ctx, userID, tenantID)
	if err != nil {
		return fmt.Errorf("count active devices: %w", err)
	}
	if n == 0 {
		return t.users.SetRefreshTokenHash(ctx, userID, nil)
	}
	return nil
}
