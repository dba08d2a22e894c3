// Package auth implements the token lifecycle and tenant-isolation core:
// credential validation, access/refresh token issuance, refresh rotation with
// theft detection, device session tracking and role checks.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/d9705996/tenauth/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes the two halves of a token pair inside claims.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Channel selects the expiry policy for a token pair. Mobile tokens live
// longer than web tokens to tolerate intermittent connectivity.
type Channel string

const (
	ChannelWeb    Channel = "web"
	ChannelMobile Channel = "mobile"
)

// Claims is the set of claims carried by tenauth access and refresh tokens.
type Claims struct {
	Email        string    `json:"email"`
	Roles        []string  `json:"roles"`
	TenantID     string    `json:"tenantId"`
	TokenType    TokenType `json:"type"`
	IsSuperAdmin bool      `json:"isSuperAdmin,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is the issued credential pair returned to clients. ExpiresIn is
// the access token lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// signToken creates and signs a single JWT with the given type-specific
// secret and TTL.
func signToken(claims Claims, typ TokenType, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.TokenType = typ
	// The jti keeps every signed token unique; iat alone has second
	// granularity, which would make back-to-back rotations indistinguishable.
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "tenauth",
		ID:        uuid.New().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates tokenStr against secret and returns its claims.
// Expiry and forgery are reported as distinct kinds so callers can tell a
// re-login case from a forged token.
func ParseToken(tokenStr string, typ TokenType, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.E(apperr.TokenExpired, "token expired, please log in again")
		}
		return nil, apperr.E(apperr.InvalidToken, "token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.E(apperr.InvalidToken, "invalid token claims")
	}
	if claims.TokenType != typ {
		return nil, apperr.E(apperr.InvalidToken, "wrong token type")
	}
	return claims, nil
}
