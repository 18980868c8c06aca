package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims of a session token minted by the identity layer.
// Role carries the primary role this service resolved at login.
type TokenClaims struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
