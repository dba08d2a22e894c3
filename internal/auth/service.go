package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/d9705996/tenauth/internal/apperr"
	"github.com/d9705996/tenauth/internal/config"
	"github.com/d9705996/tenauth/internal/model"
	"github.com/d9705996/tenauth/internal/role"
	"github.com/d9705996/tenauth/internal/store"
	"github.com/d9705996/tenauth/internal/tenant"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"
)

// ServiceConfig collects the repositories and settings a Service needs.
type ServiceConfig struct {
	Users      store.Users
	Tenants    store.Tenants
	Devices    store.Devices
	Invites    store.Invites
	JWT        config.JWTConfig
	BcryptCost int
	Logger     *slog.Logger
}

// Service implements the token lifecycle core. The Service exclusively owns
// refresh-token-hash mutation on issuance; the session Tracker owns device
// records and the hash clearing tied to device logout.
type Service struct {
	users      store.Users
	tenants    store.Tenants
	invites    store.Invites
	sessions   *Tracker
	jwt        config.JWTConfig
	bcryptCost int
	log        *slog.Logger

	logins     metric.Int64Counter
	refreshes  metric.Int64Counter
	violations metric.Int64Counter
}

// NewService creates the auth Service.
func NewService(cfg ServiceConfig) *Service {
	meter := otel.Meter("github.com/d9705996/tenauth/internal/auth")
	logins, _ := meter.Int64Counter("auth.logins",
		metric.WithDescription("Successful logins by channel"))
	refreshes, _ := meter.Int64Counter("auth.token_refreshes",
		metric.WithDescription("Successful refresh-token rotations"))
	violations, _ := meter.Int64Counter("auth.security_violations",
		metric.WithDescription("Refresh-token reuse detections"))

	return &Service{
		users:      cfg.Users,
		tenants:    cfg.Tenants,
		invites:    cfg.Invites,
		sessions:   NewTracker(cfg.Devices, cfg.Users),
		jwt:        cfg.JWT,
		bcryptCost: cfg.BcryptCost,
		log:        cfg.Logger,
		logins:     logins,
		refreshes:  refreshes,
		violations: violations,
	}
}

// Sessions exposes the device tracker for the HTTP layer and admin module.
func (s *Service) Sessions() *Tracker { return s.sessions }

// LoginResult is returned by the login and signup flows.
type LoginResult struct {
	User   UserView
	Tokens TokenPair
}

// IssueTokens mints a signed access/refresh pair for the user on the given
// channel and rotates the stored refresh-token fingerprint: only a SHA-256
// hash of the new refresh token is persisted, which invalidates every prior
// outstanding refresh token for that user. On the super-admin path the
// tenant claim is forced to the system tenant.
func (s *Service) IssueTokens(ctx context.Context, u *model.User, channel Channel, isSuperAdmin bool) (*TokenPair, error) {
	claims := Claims{
		Email: u.Email,
		Roles: []string(u.Roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: u.ID,
		},
	}
	if isSuperAdmin {
		claims.TenantID = model.SystemTenantID
		claims.IsSuperAdmin = true
	} else if u.TenantID != nil {
		claims.TenantID = *u.TenantID
	}

	accessTTL, refreshTTL := s.jwt.AccessTTL, s.jwt.RefreshTTL
	if channel == ChannelMobile {
		accessTTL, refreshTTL = s.jwt.MobileAccessTTL, s.jwt.MobileRefreshTTL
	}

	accessToken, err := signToken(claims, TokenTypeAccess, s.jwt.AccessSecret, accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := signToken(claims, TokenTypeRefresh, s.jwt.RefreshSecret, refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	// Refresh tokens exceed bcrypt's input limit, so the stored fingerprint
	// is a SHA-256 digest; lookups compare digests in constant time.
	hashStr := hashToken(refreshToken)
	if err := s.users.SetRefreshTokenHash(ctx, u.ID, &hashStr); err != nil {
		return nil, fmt.Errorf("store refresh token hash: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(accessTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Login authenticates a user on the regular tenant path. A device, when
// present, marks the mobile channel and is upserted as a session record.
func (s *Service) Login(ctx context.Context, tc tenant.Context, email, password string, device *store.DeviceAttrs) (*LoginResult, error) {
	if tc.IsSystemTenant {
		return nil, apperr.E(apperr.InvalidCredentials, "invalid credentials")
	}

	u, err := s.validateCredentials(ctx, tc.TenantID, email, password)
	if err != nil {
		return nil, err
	}

	channel := ChannelWeb
	if device != nil && device.DeviceID != "" {
		channel = ChannelMobile
		if _, err := s.sessions.Upsert(ctx, u.ID, tc.TenantID, *device); err != nil {
			return nil, err
		}
	}

	if err := s.users.TouchLastLogin(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("touch last login: %w", err)
	}

	tokens, err := s.IssueTokens(ctx, u, channel, false)
	if err != nil {
		return nil, err
	}

	s.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", string(channel))))
	s.log.InfoContext(ctx, "login", "tenant", tc.TenantID, "user", u.ID, "channel", channel)

	return &LoginResult{User: ViewOf(u), Tokens: *tokens}, nil
}

// SuperAdminLogin authenticates a platform super admin. It requires the
// system tenant context, which is resolvable without a store lookup.
func (s *Service) SuperAdminLogin(ctx context.Context, tc tenant.Context, email, password string) (*LoginResult, error) {
	if !tc.IsSystemTenant {
		return nil, apperr.E(apperr.Forbidden, "super admin login requires the system tenant")
	}

	u, err := s.validateSuperAdminCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := s.users.TouchLastLogin(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("touch last login: %w", err)
	}

	tokens, err := s.IssueTokens(ctx, u, ChannelWeb, true)
	if err != nil {
		return nil, err
	}

	s.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", "system")))
	s.log.InfoContext(ctx, "super admin login", "user", u.ID)

	return &LoginResult{User: ViewOf(u), Tokens: *tokens}, nil
}

// SignupInput carries a signup request. A non-nil Device marks the mobile
// channel.
type SignupInput struct {
	Email      string
	Password   string
	InviteCode string
	Device     *store.DeviceAttrs
}

// Signup registers a new user on a regular tenant, honouring the tenant's
// invite requirement. Signup to the system tenant is always rejected.
func (s *Service) Signup(ctx context.Context, tc tenant.Context, in SignupInput) (*LoginResult, error) {
	if tc.IsSystemTenant {
		return nil, apperr.E(apperr.Forbidden, "cannot sign up users to the system tenant")
	}

	t, err := s.tenants.ActiveTenantByIDOrSlug(ctx, tc.TenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.TenantInactive, "invalid or inactive tenant")
		}
		return nil, err
	}

	email := NormalizeEmail(in.Email)

	if t.Settings.RequireInvite && in.InviteCode == "" {
		return nil, apperr.E(apperr.Forbidden, "an invite code is required to sign up for this tenant")
	}

	roles := []string{string(role.User)}
	if in.InviteCode != "" {
		inv, err := s.invites.ValidInvite(ctx, t.ID, email, in.InviteCode)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperr.E(apperr.Forbidden, "invalid or expired invite code")
			}
			return nil, err
		}
		if len(inv.Roles) > 0 {
			roles = []string(inv.Roles)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	tenantID := t.ID
	u := &model.User{
		TenantID:     &tenantID,
		Email:        email,
		PasswordHash: string(hash),
		Roles:        model.StringSlice(roles),
		IsActive:     true,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.E(apperr.Conflict, "a user with that email already exists in this tenant")
		}
		return nil, err
	}

	// The invite is single-use: consume it only once the account exists.
	if in.InviteCode != "" {
		if err := s.invites.ConsumeInvite(ctx, t.ID, in.InviteCode); err != nil &&
			!errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("consume invite: %w", err)
		}
	}

	channel := ChannelWeb
	if in.Device != nil && in.Device.DeviceID != "" {
		channel = ChannelMobile
		if _, err := s.sessions.Upsert(ctx, u.ID, t.ID, *in.Device); err != nil {
			return nil, err
		}
	}

	tokens, err := s.IssueTokens(ctx, u, channel, false)
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "signup", "tenant", t.ID, "user", u.ID, "channel", channel)

	return &LoginResult{User: ViewOf(u), Tokens: *tokens}, nil
}

// Refresh exchanges a valid refresh token for a fresh pair. The presented
// token must verify against the refresh secret, carry the resolved tenant,
// reference an active device when one accompanies the call, and match the
// stored fingerprint. A fingerprint mismatch is proof the token was already
// rotated out: the stored hash is cleared and every device session revoked
// before the failure surfaces.
func (s *Service) Refresh(ctx context.Context, tc tenant.Context, refreshToken string, device *store.DeviceAttrs) (*TokenPair, error) {
	claims, err := ParseToken(refreshToken, TokenTypeRefresh, s.jwt.RefreshSecret)
	if err != nil {
		return nil, err
	}

	isSuperAdmin := claims.TenantID == model.SystemTenantID && claims.IsSuperAdmin

	if claims.TenantID != tc.TenantID {
		return nil, apperr.E(apperr.TenantMismatch, "token does not belong to this tenant")
	}

	if device != nil && device.DeviceID != "" {
		if _, err := s.sessions.devices.ActiveDevice(ctx, device.DeviceID, tc.TenantID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperr.E(apperr.DeviceRevoked, "device deactivated or not found")
			}
			return nil, err
		}
	}

	u, err := s.users.UserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.TokenExpired, "session expired, please log in again")
		}
		return nil, err
	}
	if u.RefreshTokenHash == nil {
		return nil, apperr.E(apperr.TokenExpired, "session expired, please log in again")
	}

	if subtle.ConstantTimeCompare([]byte(*u.RefreshTokenHash), []byte(hashToken(refreshToken))) != 1 {
		// Reuse of a rotated-out token. Revoke everything before failing;
		// the compare-and-clear keeps concurrent detections idempotent.
		if err := s.users.ClearRefreshTokenHashIf(ctx, u.ID, *u.RefreshTokenHash); err != nil {
			s.log.ErrorContext(ctx, "revoke refresh hash", "user", u.ID, "err", err)
		}
		if err := s.sessions.devices.DeactivateUserDevices(ctx, u.ID, ""); err != nil {
			s.log.ErrorContext(ctx, "revoke devices", "user", u.ID, "err", err)
		}
		s.violations.Add(ctx, 1)
		s.log.WarnContext(ctx, "refresh token reuse detected", "tenant", tc.TenantID, "user", u.ID)
		return nil, apperr.E(apperr.SecurityViolation,
			"security violation detected: all sessions have been revoked, please log in again")
	}

	channel := ChannelWeb
	if device != nil && device.DeviceID != "" {
		channel = ChannelMobile
		if _, err := s.sessions.Upsert(ctx, u.ID, tc.TenantID, *device); err != nil {
			return nil, err
		}
	}

	tokens, err := s.IssueTokens(ctx, u, channel, isSuperAdmin)
	if err != nil {
		return nil, err
	}

	s.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", string(channel))))

	return tokens, nil
}

// Logout ends a session. With a device id it deactivates that one record
// (clearing the refresh hash when it was the last); without one, the web
// flow clears the refresh hash directly.
func (s *Service) Logout(ctx context.Context, tc tenant.Context, userID, deviceID string) error {
	if deviceID != "" {
		err := s.sessions.Deactivate(ctx, tc.TenantID, userID, deviceID)
		if errors.Is(err, store.ErrNotFound) {
			// Already logged out; logout stays idempotent.
			return nil
		}
		return err
	}
	if !tc.IsSystemTenant {
		if _, err := s.users.UserInTenant(ctx, tc.TenantID, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.E(apperr.NotFound, "user not found")
			}
			return err
		}
	}
	return s.users.SetRefreshTokenHash(ctx, userID, nil)
}

// LogoutAll deactivates every device for the user and clears the refresh
// hash. It is idempotent.
func (s *Service) LogoutAll(ctx context.Context, tenantID, userID string) error {
	return s.sessions.DeactivateAll(ctx, tenantID, userID)
}

// ChangePassword verifies the current password, stores the new hash, clears
// the must-change flag and revokes every session so outstanding tokens die
// with the old password.
func (s *Service) ChangePassword(ctx context.Context, tenantID, userID, oldPassword, newPassword string) error {
	u, err := s.users.UserInTenant(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.E(apperr.NotFound, "user not found")
		}
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)); err != nil {
		return apperr.E(apperr.InvalidCredentials, "current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.SetPassword(ctx, userID, string(hash), false); err != nil {
		return fmt.Errorf("store password: %w", err)
	}

	return s.LogoutAll(ctx, tenantID, userID)
}

// Profile returns the caller's safe view. On the system tenant the lookup
// spans the tenantless super-admin scope.
func (s *Service) Profile(ctx context.Context, tc tenant.Context, userID string) (*UserView, error) {
	var u *model.User
	var err error
	if tc.IsSystemTenant {
		u, err = s.users.UserByID(ctx, userID)
	} else {
		u, err = s.users.UserInTenant(ctx, tc.TenantID, userID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "user not found")
		}
		return nil, err
	}
	v := ViewOf(u)
	return &v, nil
}

// DeviceView is the device projection returned to users; push tokens are
// withheld.
type DeviceView struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	Platform   string    `json:"platform"`
	IsActive   bool      `json:"isActive"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	LastIP     string    `json:"lastIp,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
}

// Devices lists the user's sessions, most recently used first.
func (s *Service) Devices(ctx context.Context, tenantID, userID string) ([]DeviceView, error) {
	devices, err := s.sessions.devices.DevicesByUser(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, DeviceView{
			DeviceID:   d.DeviceID,
			DeviceName: d.DeviceName,
			Platform:   d.Platform,
			IsActive:   d.IsActive,
			LastUsedAt: d.LastUsedAt,
			LastIP:     d.LastIP,
			UserAgent:  d.UserAgent,
		})
	}
	return views, nil
}

// GenerateOpaqueToken returns a cryptographically random hex token, used for
// invite codes and setup tokens.
func GenerateOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken produces the server-side fingerprint of an opaque or refresh
// token. Plaintext tokens are never persisted.
func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
