package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
//
// Tokens are issued by the external session service; this subsystem only
// verifies them and trusts the (tenant_id, user_id) pair they carry.
// Multi-tenant invariant: TenantID must be present on every token.
type Claims struct {
	jwt.RegisteredClaims

	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}
