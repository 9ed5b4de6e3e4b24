package services

import (
	"testing"
	"time"

	"market-booking/config"
	"market-booking/internal/domain/identity"
	market_errors "market-booking/pkg/errors"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_IssueAndParse(t *testing.T) {
	auth := NewAuthService(config.NewTestConfig().Auth)

	staff := identity.Identity{
		UserID:     uuid.New(),
		MerchantID: uuid.NullUUID{UUID: uuid.New(), Valid: true},
		Role:       identity.RoleMerchant,
	}
	token, err := auth.IssueToken(staff)
	require.NoError(t, err)

	got, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, staff, got)
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	auth := NewAuthService(config.NewTestConfig().Auth)
	other := NewAuthService(config.AuthConfig{JWTSecret: "other", TokenTTL: time.Hour})

	foreign, err := other.IssueToken(identity.Identity{UserID: uuid.New(), Role: identity.RoleCustomer})
	require.NoError(t, err)

	merchantWithoutShop := jwt.NewWithClaims(jwt.SigningMethodHS256, IdentityClaims{
		Role:             string(identity.RoleMerchant),
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
	})
	noShop, err := merchantWithoutShop.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, IdentityClaims{
		Role: string(identity.RoleCustomer),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredToken, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":            "",
		"garbage":          "not-a-token",
		"foreign secret":   foreign,
		"merchant no shop": noShop,
		"expired":          expiredToken,
	} {
		_, err := auth.ParseToken(token)
		assert.True(t, errors.Is(err, market_errors.ErrUnauthorized), name)
	}
}
