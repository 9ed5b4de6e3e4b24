package identity

import (
	"market-booking/internal/domain/event"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleCustomer, RoleMerchant, RoleAdmin:
		return r, true
	}
	return "", false
}

// Identity is the authenticated caller. MerchantID is set for merchant staff.
type Identity struct {
	UserID     uuid.UUID     `json:"user_id"`
	MerchantID uuid.NullUUID `json:"merchant_id"`
	Role       Role          `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// ActsFor reports whether the identity is staff of the given merchant.
func (i Identity) ActsFor(merchantID uuid.UUID) bool {
	return i.Role == RoleMerchant && i.MerchantID.Valid && i.MerchantID.UUID == merchantID
}

// Keys returns the recipient keys this identity owns. Admins only own their
// user key: they observe merchant traffic without absorbing it.
func (i Identity) Keys() []string {
	keys := []string{event.UserKey(i.UserID)}
	if i.Role == RoleMerchant && i.MerchantID.Valid {
		keys = append(keys, event.MerchantKey(i.MerchantID.UUID))
	}
	return keys
}
