package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/d9705996/tenauth/internal/model"
	"github.com/d9705996/tenauth/internal/store"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Tenant{},
		&model.User{},
		&model.Device{},
		&model.Invite{},
		&model.SetupToken{},
	))
	return store.New(db)
}

func seedUser(t *testing.T, st *store.Store, tenantID *string, email string, roles ...string) *model.User {
	t.Helper()
	u := &model.User{
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: "x",
		Roles:        model.StringSlice(roles),
		IsActive:     true,
	}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func TestCreateUser_DuplicateEmailInTenant(t *testing.T) {
	st := newStore(t)
	tid := "t1"
	seedUser(t, st, &tid, "a@example.com", "user")

	err := st.CreateUser(context.Background(), &model.User{
		TenantID: &tid, Email: "a@example.com", PasswordHash: "x",
		Roles: model.StringSlice{"user"}, IsActive: true,
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	// Same email in a different tenant is fine.
	other := "t2"
	err = st.CreateUser(context.Background(), &model.User{
		TenantID: &other, Email: "a@example.com", PasswordHash: "x",
		Roles: model.StringSlice{"user"}, IsActive: true,
	})
	require.NoError(t, err)
}

func TestActiveUserByEmail_SystemScope(t *testing.T) {
	st := newStore(t)
	tid := "t1"
	seedUser(t, st, &tid, "a@example.com", "user")
	su := seedUser(t, st, nil, "root@example.com", "superadmin")

	// nil tenant selects only tenantless rows.
	got, err := st.ActiveUserByEmail(context.Background(), nil, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, su.ID, got.ID)

	_, err = st.ActiveUserByEmail(context.Background(), nil, "a@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCountOtherActiveAdmins_RoleQuoting(t *testing.T) {
	st := newStore(t)
	tid := "t1"
	admin := seedUser(t, st, &tid, "admin@example.com", "admin")
	// A superadmin role must not satisfy an "admin" LIKE match.
	seedUser(t, st, &tid, "root@example.com", "superadmin")
	seedUser(t, st, &tid, "user@example.com", "user")

	n, err := st.CountOtherActiveAdmins(context.Background(), tid, admin.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	seedUser(t, st, &tid, "admin2@example.com", "admin")
	n, err = st.CountOtherActiveAdmins(context.Background(), tid, admin.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestClearRefreshTokenHashIf(t *testing.T) {
	st := newStore(t)
	tid := "t1"
	u := seedUser(t, st, &tid, "a@example.com", "user")

	h := "fingerprint-1"
	require.NoError(t, st.SetRefreshTokenHash(context.Background(), u.ID, &h))

	// A stale expected value leaves the stored hash alone.
	require.NoError(t, st.ClearRefreshTokenHashIf(context.Background(), u.ID, "something-else"))
	got, err := st.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefreshTokenHash)

	require.NoError(t, st.ClearRefreshTokenHashIf(context.Background(), u.ID, h))
	got, err = st.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RefreshTokenHash)

	// Clearing again matches zero rows and stays silent.
	require.NoError(t, st.ClearRefreshTokenHashIf(context.Background(), u.ID, h))
}

func TestUpsertDevice_ReactivatesAndKeepsAttrs(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	d, err := st.UpsertDevice(ctx, "u1", "t1", store.DeviceAttrs{
		DeviceID: "phone-1", DeviceName: "Pixel", Platform: model.PlatformAndroid, PushToken: "tok-1",
	})
	require.NoError(t, err)
	first := d.ID

	require.NoError(t, st.DeactivateDevice(ctx, "phone-1", "t1", "u1"))

	// Upsert with empty attrs reactivates without wiping what is known.
	d, err = st.UpsertDevice(ctx, "u1", "t1", store.DeviceAttrs{DeviceID: "phone-1"})
	require.NoError(t, err)
	assert.Equal(t, first, d.ID)
	assert.True(t, d.IsActive)
	assert.Equal(t, "Pixel", d.DeviceName)
	assert.Equal(t, "tok-1", d.PushToken)

	n, err := st.CountActiveDevices(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDeactivateUserDevices_AllTenants(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.UpsertDevice(ctx, "u1", "t1", store.DeviceAttrs{DeviceID: "phone-1"})
	require.NoError(t, err)
	_, err = st.UpsertDevice(ctx, "u1", "t2", store.DeviceAttrs{DeviceID: "phone-2"})
	require.NoError(t, err)

	// Empty tenant id spans every tenant the user has sessions in.
	require.NoError(t, st.DeactivateUserDevices(ctx, "u1", ""))

	for _, tid := range []string{"t1", "t2"} {
		n, err := st.CountActiveDevices(ctx, "u1", tid)
		require.NoError(t, err)
		assert.Zero(t, n, tid)
	}
}

func TestConsumeInvite_SingleUse(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	inv := &model.Invite{
		Code: "code-1", Email: "a@example.com", TenantID: "t1",
		Roles: model.StringSlice{"user"}, InvitedBy: "admin-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreateInvite(ctx, inv))

	got, err := st.ValidInvite(ctx, "t1", "a@example.com", "code-1")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)

	require.NoError(t, st.ConsumeInvite(ctx, "t1", "code-1"))
	assert.ErrorIs(t, st.ConsumeInvite(ctx, "t1", "code-1"), store.ErrNotFound)

	_, err = st.ValidInvite(ctx, "t1", "a@example.com", "code-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestValidInvite_ExpiredOrWrongScope(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateInvite(ctx, &model.Invite{
		Code: "stale", Email: "a@example.com", TenantID: "t1",
		InvitedBy: "admin-1", ExpiresAt: time.Now().Add(-time.Minute),
	}))

	_, err := st.ValidInvite(ctx, "t1", "a@example.com", "stale")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.CreateInvite(ctx, &model.Invite{
		Code: "live", Email: "a@example.com", TenantID: "t1",
		InvitedBy: "admin-1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	// Wrong tenant or wrong email never matches.
	_, err = st.ValidInvite(ctx, "t2", "a@example.com", "live")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.ValidInvite(ctx, "t1", "b@example.com", "live")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsumeSetupToken(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateSetupToken(ctx, &model.SetupToken{
		TokenHash: "hash-1", ExpiresAt: time.Now().Add(30 * time.Minute),
	}))

	require.NoError(t, st.ConsumeSetupToken(ctx, "hash-1", time.Now()))

	// Out of any number of concurrent claims exactly one wins; the rest see
	// the consumed state.
	assert.ErrorIs(t, st.ConsumeSetupToken(ctx, "hash-1", time.Now()), store.ErrGone)
}

func TestConsumeSetupToken_ExpiredOrMissing(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateSetupToken(ctx, &model.SetupToken{
		TokenHash: "stale", ExpiresAt: time.Now().Add(-time.Minute),
	}))

	assert.ErrorIs(t, st.ConsumeSetupToken(ctx, "stale", time.Now()), store.ErrNotFound)
	assert.ErrorIs(t, st.ConsumeSetupToken(ctx, "never-existed", time.Now()), store.ErrNotFound)
}

func TestDeleteExpired(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateInvite(ctx, &model.Invite{
		Code: "old", Email: "a@example.com", TenantID: "t1",
		InvitedBy: "x", ExpiresAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, st.CreateInvite(ctx, &model.Invite{
		Code: "new", Email: "b@example.com", TenantID: "t1",
		InvitedBy: "x", ExpiresAt: time.Now().Add(time.Hour),
	}))

	n, err := st.DeleteExpiredInvites(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, st.CreateSetupToken(ctx, &model.SetupToken{
		TokenHash: "old", ExpiresAt: time.Now().Add(-2 * time.Hour),
	}))
	n, err = st.DeleteExpiredSetupTokens(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestTenantByDomain(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTenant(ctx, &model.Tenant{
		Name: "Acme", Slug: "acme", IsActive: true,
		Settings: model.TenantSettings{AllowedDomains: []string{"acme.com", "acme.io"}},
	}))
	require.NoError(t, st.CreateTenant(ctx, &model.Tenant{
		Name: "Inactive", Slug: "closed", IsActive: false,
		Settings: model.TenantSettings{AllowedDomains: []string{"closed.com"}},
	}))

	tn, err := st.TenantByDomain(ctx, "acme.io")
	require.NoError(t, err)
	assert.Equal(t, "acme", tn.Slug)

	_, err = st.TenantByDomain(ctx, "closed.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.TenantByDomain(ctx, "unknown.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
