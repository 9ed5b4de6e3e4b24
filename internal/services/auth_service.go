package services

import (
	"time"

	"market-booking/config"
	"market-booking/internal/domain/identity"
	market_errors "market-booking/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService verifies the bearer tokens issued by the account service.
// Login lives elsewhere; IssueToken exists for tooling and tests.
type AuthService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(cfg config.AuthConfig) *AuthService {
	return &AuthService{
		jwtSecret: []byte(cfg.JWTSecret),
		tokenTTL:  cfg.TokenTTL,
	}
}

type IdentityClaims struct {
	Role       string `json:"role"`
	MerchantID string `json:"mid,omitempty"`
	jwt.RegisteredClaims
}

func (s *AuthService) IssueToken(id identity.Identity) (string, error) {
	now := time.Now()
	claims := IdentityClaims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if id.MerchantID.Valid {
		claims.MerchantID = id.MerchantID.UUID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ParseToken validates tokenString and returns the identity it carries.
func (s *AuthService) ParseToken(tokenString string) (identity.Identity, error) {
	if tokenString == "" {
		return identity.Identity{}, market_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, market_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return identity.Identity{}, market_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*IdentityClaims)
	if !ok || !parsed.Valid {
		return identity.Identity{}, market_errors.ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return identity.Identity{}, market_errors.ErrUnauthorized
	}
	role, ok := identity.ParseRole(claims.Role)
	if !ok {
		return identity.Identity{}, market_errors.ErrUnauthorized
	}

	id := identity.Identity{UserID: userID, Role: role}
	if claims.MerchantID != "" {
		merchantID, err := uuid.Parse(claims.MerchantID)
		if err != nil {
			return identity.Identity{}, market_errors.ErrUnauthorized
		}
		id.MerchantID = uuid.NullUUID{UUID: merchantID, Valid: true}
	}
	if role == identity.RoleMerchant && !id.MerchantID.Valid {
		return identity.Identity{}, market_errors.ErrUnauthorized
	}
	return id, nil
}
