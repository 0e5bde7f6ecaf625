package auth

import "github.com/golang-jwt/jwt/v5"

// AdminClaims is the token payload for back-office operators.
type AdminClaims struct {
	AdminID string `json:"adminId"`
	jwt.RegisteredClaims
}
