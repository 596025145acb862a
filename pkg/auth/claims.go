package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role gates what a caller may do with the metrics API.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

// IsValid reports whether the role is known.
func (r Role) IsValid() bool {
	switch r {
	case RoleViewer, RoleAdmin:
		return true
	}
	return false
}

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	Subject   string
	Role      Role
	AccountID string
	JTI       string
}

// AccessTokenClaims represents the typed JWT presented by dashboard clients.
// A non-empty AccountID pins every metrics request to that account.
type AccessTokenClaims struct {
	Role      Role   `json:"role"`
	AccountID string `json:"account_id,omitempty"`
	jwt.RegisteredClaims
}
