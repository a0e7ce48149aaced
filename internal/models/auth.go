package models

import "github.com/golang-jwt/jwt/v5"

// Operator roles for the admin surface.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// JWTClaims carries the operator identity in admin tokens.
type JWTClaims struct {
	Subject string `json:"sub_name"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}
